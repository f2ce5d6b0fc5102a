package rules

import (
	"fmt"
	"time"

	"github.com/dungeonforge/dungeon-server-go/internal/game/battle"
	"github.com/dungeonforge/dungeon-server-go/internal/game/tile"
)

// Phase is the sub-state of a turn that is in progress.
type Phase int

const (
	PhaseExploring Phase = iota
	PhaseInBattle
	PhaseAwaitingLoot
	PhaseAwaitingPickup
)

var phaseNames = map[Phase]string{
	PhaseExploring:      "EXPLORING",
	PhaseInBattle:       "IN_BATTLE",
	PhaseAwaitingLoot:   "AWAITING_LOOT",
	PhaseAwaitingPickup: "AWAITING_PICKUP",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PHASE_%d", int(p))
}

// ActionKind names an entry in the turn's action log.
type ActionKind string

const (
	ActionPickTile        ActionKind = "PICK_TILE"
	ActionRotateTile      ActionKind = "ROTATE_TILE"
	ActionPlaceTile       ActionKind = "PLACE_TILE"
	ActionMove            ActionKind = "MOVE"
	ActionUseSpell        ActionKind = "USE_SPELL"
	ActionFightMonster    ActionKind = "FIGHT_MONSTER"
	ActionPickItem        ActionKind = "PICK_ITEM"
	ActionPickUpEquipment ActionKind = "PICK_UP_EQUIPMENT"
	ActionSkipItem        ActionKind = "SKIP_ITEM"
	ActionEndTurn         ActionKind = "END_TURN"
)

// Action is one logged step of a turn.
type Action struct {
	Kind     ActionKind     `json:"kind"`
	TileID   string         `json:"tile_id,omitempty"`
	ItemID   string         `json:"item_id,omitempty"`
	Position *tile.Position `json:"position,omitempty"`
	At       time.Time      `json:"at"`
}

// PendingItem is an item waiting on an inventory decision.
type PendingItem struct {
	Item     tile.Item     `json:"item"`
	Position tile.Position `json:"position"`
}

// GameTurn is one player's turn. It is mutated only by its owner and frozen once ended.
type GameTurn struct {
	ID       string   `json:"id"`
	GameID   string   `json:"game_id"`
	Version  int64    `json:"version"`
	PlayerID string   `json:"player_id"`
	Number   int      `json:"number"`
	Phase    Phase    `json:"phase"`
	Actions  []Action `json:"actions"`

	PendingTile *tile.Spec     `json:"pending_tile,omitempty"`
	Battle      *battle.Battle `json:"battle,omitempty"`
	PendingItem *PendingItem   `json:"pending_item,omitempty"`

	Ended     bool      `json:"ended"`
	Skipped   bool      `json:"skipped"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// NewTurn starts a turn in the exploring phase.
func NewTurn(id, gameID, playerID string, number int, now time.Time) *GameTurn {
	return &GameTurn{
		ID:        id,
		GameID:    gameID,
		PlayerID:  playerID,
		Number:    number,
		Phase:     PhaseExploring,
		Actions:   make([]Action, 0, 8),
		StartedAt: now,
	}
}

// Record appends an action to the log.
func (t *GameTurn) Record(a Action) {
	t.Actions = append(t.Actions, a)
}

// HasAction reports whether kind was already recorded this turn.
func (t *GameTurn) HasAction(kind ActionKind) bool {
	for _, a := range t.Actions {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

// BeginBattle moves the turn into battle.
func (t *GameTurn) BeginBattle(b *battle.Battle) {
	t.Battle = b
	t.Phase = PhaseInBattle
}

// AwaitItem parks an item that needs an inventory decision.
func (t *GameTurn) AwaitItem(phase Phase, item tile.Item, at tile.Position) {
	t.Phase = phase
	t.PendingItem = &PendingItem{Item: item, Position: at}
}

// End freezes the turn. It returns false when the turn had already ended.
func (t *GameTurn) End(now time.Time) bool {
	if t.Ended {
		return false
	}
	t.Ended = true
	t.EndedAt = now
	t.PendingItem = nil
	return true
}

// Skip ends a turn without granting any action.
func (t *GameTurn) Skip(now time.Time) {
	t.Skipped = true
	t.End(now)
}

// Clone returns a deep copy.
func (t *GameTurn) Clone() *GameTurn {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Actions = make([]Action, len(t.Actions))
	for i, a := range t.Actions {
		if a.Position != nil {
			p := *a.Position
			a.Position = &p
		}
		cp.Actions[i] = a
	}
	if t.PendingTile != nil {
		spec := t.PendingTile.Clone()
		cp.PendingTile = &spec
	}
	cp.Battle = t.Battle.Clone()
	if t.PendingItem != nil {
		pi := *t.PendingItem
		cp.PendingItem = &pi
	}
	return &cp
}
