package rules

import (
	"github.com/dungeonforge/dungeon-server-go/internal/game/gameerr"
)

// LegalityResult represents the result of a legality check.
type LegalityResult struct {
	Legal   bool
	Code    gameerr.Code
	Reason  string
	Details map[string]string
}

// Err converts an illegal result into a domain error.
func (r LegalityResult) Err() error {
	if r.Legal {
		return nil
	}
	return gameerr.WithMetadata(r.Code, r.Reason, r.Details)
}

var legal = LegalityResult{Legal: true}

// phaseActions lists the player actions each phase allows.
var phaseActions = map[Phase]map[ActionKind]bool{
	PhaseExploring: {
		ActionPickTile:        true,
		ActionRotateTile:      true,
		ActionPlaceTile:       true,
		ActionMove:            true,
		ActionUseSpell:        true,
		ActionPickUpEquipment: true,
		ActionEndTurn:         true,
	},
	PhaseInBattle: {},
	PhaseAwaitingLoot: {
		ActionPickItem: true,
		ActionSkipItem: true,
		ActionEndTurn:  true,
	},
	PhaseAwaitingPickup: {
		ActionPickUpEquipment: true,
		ActionSkipItem:        true,
		ActionEndTurn:         true,
	},
}

// CheckAction decides whether playerID may perform kind on turn right now.
func CheckAction(turn *GameTurn, playerID string, kind ActionKind) LegalityResult {
	if turn.PlayerID != playerID {
		return illegal(gameerr.CodeNotYourTurn, "not your turn", map[string]string{
			"player_id":         playerID,
			"current_player_id": turn.PlayerID,
			"turn_id":           turn.ID,
		})
	}
	if turn.Ended {
		return illegal(gameerr.CodeTurnAlreadyEnded, "turn already ended", map[string]string{
			"turn_id": turn.ID,
		})
	}
	details := map[string]string{
		"turn_id": turn.ID,
		"action":  string(kind),
		"phase":   turn.Phase.String(),
	}
	if !phaseActions[turn.Phase][kind] {
		return illegal(gameerr.CodeInvalidTurnAction, "action not allowed in this phase", details)
	}
	if kind == ActionMove && turn.HasAction(ActionFightMonster) {
		return illegal(gameerr.CodeInvalidTurnAction, "cannot move after fighting", details)
	}

	switch kind {
	case ActionPickTile:
		if turn.PendingTile != nil {
			return illegal(gameerr.CodeInvalidTurnAction, "a tile is already picked", details)
		}
		if turn.HasAction(ActionPickTile) {
			return illegal(gameerr.CodeInvalidTurnAction, "a tile was already picked this turn", details)
		}
	case ActionRotateTile, ActionPlaceTile:
		if turn.PendingTile == nil {
			return illegal(gameerr.CodeInvalidTurnAction, "no tile picked", details)
		}
	case ActionMove:
		if turn.PendingTile != nil {
			return illegal(gameerr.CodeInvalidTurnAction, "the picked tile must be placed first", details)
		}
	case ActionUseSpell:
		if turn.PendingTile != nil {
			return illegal(gameerr.CodeInvalidTurnAction, "the picked tile must be placed first", details)
		}
	}
	return legal
}

// CheckFinalize decides whether playerID may finalize the current battle.
// A battle that already completed is accepted so retries become no-ops.
func CheckFinalize(turn *GameTurn, playerID string) LegalityResult {
	if turn.PlayerID != playerID {
		return illegal(gameerr.CodeNotYourTurn, "not your turn", map[string]string{
			"player_id":         playerID,
			"current_player_id": turn.PlayerID,
		})
	}
	if turn.Battle != nil && turn.Battle.Completed {
		return legal
	}
	if turn.Ended {
		return illegal(gameerr.CodeTurnAlreadyEnded, "turn already ended", map[string]string{
			"turn_id": turn.ID,
		})
	}
	if turn.Phase != PhaseInBattle || turn.Battle == nil {
		return illegal(gameerr.CodeInvalidTurnAction, "no battle to finalize", map[string]string{
			"turn_id": turn.ID,
			"phase":   turn.Phase.String(),
		})
	}
	return legal
}

func illegal(code gameerr.Code, reason string, details map[string]string) LegalityResult {
	return LegalityResult{Legal: false, Code: code, Reason: reason, Details: details}
}
