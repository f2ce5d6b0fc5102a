package rules

import (
	"testing"
	"time"

	"github.com/dungeonforge/dungeon-server-go/internal/game/battle"
	"github.com/dungeonforge/dungeon-server-go/internal/game/gameerr"
	"github.com/dungeonforge/dungeon-server-go/internal/game/tile"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestTurn() *GameTurn {
	return NewTurn("turn1", "game1", "alice", 1, epoch)
}

func expectCode(t *testing.T, res LegalityResult, code gameerr.Code) {
	t.Helper()
	if res.Legal {
		t.Fatalf("expected %s, got legal", code)
	}
	if res.Code != code {
		t.Fatalf("expected %s, got %s (%s)", code, res.Code, res.Reason)
	}
	if gameerr.CodeOf(res.Err()) != code {
		t.Fatalf("Err() lost the code: %v", res.Err())
	}
}

func expectLegal(t *testing.T, res LegalityResult) {
	t.Helper()
	if !res.Legal {
		t.Fatalf("expected legal, got %s: %s", res.Code, res.Reason)
	}
	if res.Err() != nil {
		t.Fatalf("legal result must not carry an error")
	}
}

func TestOnlyOwnerMayAct(t *testing.T) {
	turn := newTestTurn()
	expectCode(t, CheckAction(turn, "bob", ActionMove), gameerr.CodeNotYourTurn)
	expectLegal(t, CheckAction(turn, "alice", ActionMove))
}

func TestEndedTurnRejectsEverything(t *testing.T) {
	turn := newTestTurn()
	if !turn.End(epoch.Add(time.Minute)) {
		t.Fatalf("first End should report a transition")
	}
	if turn.End(epoch.Add(2 * time.Minute)) {
		t.Fatalf("second End should be a no-op")
	}
	if !turn.EndedAt.Equal(epoch.Add(time.Minute)) {
		t.Fatalf("EndedAt changed on duplicate End: %v", turn.EndedAt)
	}

	for _, kind := range []ActionKind{ActionPickTile, ActionMove, ActionEndTurn, ActionPickItem} {
		expectCode(t, CheckAction(turn, "alice", kind), gameerr.CodeTurnAlreadyEnded)
	}
}

func TestTilePickRotatePlaceSequence(t *testing.T) {
	turn := newTestTurn()

	expectCode(t, CheckAction(turn, "alice", ActionRotateTile), gameerr.CodeInvalidTurnAction)
	expectCode(t, CheckAction(turn, "alice", ActionPlaceTile), gameerr.CodeInvalidTurnAction)
	expectLegal(t, CheckAction(turn, "alice", ActionPickTile))

	spec := tile.Spec{Tile: tile.Tile{ID: "t1", Orientation: tile.OpenTop}}
	turn.PendingTile = &spec
	turn.Record(Action{Kind: ActionPickTile, TileID: "t1", At: epoch})

	expectCode(t, CheckAction(turn, "alice", ActionPickTile), gameerr.CodeInvalidTurnAction)
	expectCode(t, CheckAction(turn, "alice", ActionMove), gameerr.CodeInvalidTurnAction)
	expectLegal(t, CheckAction(turn, "alice", ActionRotateTile))
	expectLegal(t, CheckAction(turn, "alice", ActionPlaceTile))

	turn.PendingTile = nil
	turn.Record(Action{Kind: ActionPlaceTile, TileID: "t1", At: epoch})
	expectCode(t, CheckAction(turn, "alice", ActionPickTile), gameerr.CodeInvalidTurnAction)
	expectLegal(t, CheckAction(turn, "alice", ActionMove))
}

func TestNoMoveAfterFight(t *testing.T) {
	turn := newTestTurn()
	turn.Record(Action{Kind: ActionMove, At: epoch})
	turn.Record(Action{Kind: ActionFightMonster, At: epoch})
	turn.BeginBattle(battle.New("b1", "alice", tile.Monster{HP: 8}, tile.Origin, tile.Position{X: 1}, []int{6, 6}))

	expectCode(t, CheckAction(turn, "alice", ActionMove), gameerr.CodeInvalidTurnAction)
	expectCode(t, CheckAction(turn, "alice", ActionEndTurn), gameerr.CodeInvalidTurnAction)
	expectLegal(t, CheckFinalize(turn, "alice"))

	turn.Battle.Finalize(nil, nil)
	turn.AwaitItem(PhaseAwaitingLoot, tile.Item{ID: "loot"}, tile.Position{X: 1})
	expectCode(t, CheckAction(turn, "alice", ActionMove), gameerr.CodeInvalidTurnAction)
	expectLegal(t, CheckAction(turn, "alice", ActionPickItem))
	expectLegal(t, CheckAction(turn, "alice", ActionSkipItem))
	expectLegal(t, CheckAction(turn, "alice", ActionEndTurn))
	expectCode(t, CheckAction(turn, "alice", ActionPickUpEquipment), gameerr.CodeInvalidTurnAction)

	// Phase slipping back to exploring still cannot unlock a move.
	turn.Phase = PhaseExploring
	expectCode(t, CheckAction(turn, "alice", ActionMove), gameerr.CodeInvalidTurnAction)
}

func TestFinalizeChecks(t *testing.T) {
	turn := newTestTurn()
	expectCode(t, CheckFinalize(turn, "alice"), gameerr.CodeInvalidTurnAction)
	expectCode(t, CheckFinalize(turn, "bob"), gameerr.CodeNotYourTurn)

	turn.BeginBattle(battle.New("b1", "alice", tile.Monster{HP: 8}, tile.Origin, tile.Position{X: 1}, []int{1, 1}))
	turn.Battle.Finalize(nil, nil)
	turn.End(epoch)

	// Retried finalize on a completed battle is tolerated.
	expectLegal(t, CheckFinalize(turn, "alice"))
}

func TestAwaitingPickupPhase(t *testing.T) {
	turn := newTestTurn()
	turn.AwaitItem(PhaseAwaitingPickup, tile.Item{ID: "sword"}, tile.Origin)

	expectLegal(t, CheckAction(turn, "alice", ActionPickUpEquipment))
	expectLegal(t, CheckAction(turn, "alice", ActionSkipItem))
	expectCode(t, CheckAction(turn, "alice", ActionPickItem), gameerr.CodeInvalidTurnAction)
	expectCode(t, CheckAction(turn, "alice", ActionPickTile), gameerr.CodeInvalidTurnAction)

	turn.End(epoch)
	if turn.PendingItem != nil {
		t.Fatalf("ending a turn must drop the pending item")
	}
}

func TestSkipEndsWithoutActions(t *testing.T) {
	turn := newTestTurn()
	turn.Skip(epoch)
	if !turn.Ended || !turn.Skipped {
		t.Fatalf("expected skipped and ended turn")
	}
	if len(turn.Actions) != 0 {
		t.Fatalf("skipped turn recorded %d actions", len(turn.Actions))
	}
}

func TestTurnCloneIsDeep(t *testing.T) {
	turn := newTestTurn()
	p := tile.Position{X: 1}
	turn.Record(Action{Kind: ActionMove, Position: &p, At: epoch})
	spec := tile.Spec{Tile: tile.Tile{ID: "t1"}}
	turn.PendingTile = &spec

	cp := turn.Clone()
	cp.Actions[0].Position.X = 9
	cp.PendingTile.Tile.ID = "t2"
	cp.Record(Action{Kind: ActionEndTurn})

	if turn.Actions[0].Position.X != 1 || turn.PendingTile.Tile.ID != "t1" || len(turn.Actions) != 1 {
		t.Fatalf("clone shares state with the original")
	}
}

func TestPhaseString(t *testing.T) {
	if PhaseAwaitingLoot.String() != "AWAITING_LOOT" {
		t.Fatalf("unexpected name %s", PhaseAwaitingLoot)
	}
	if Phase(42).String() != "PHASE_42" {
		t.Fatalf("unexpected fallback %s", Phase(42))
	}
}
