// Package movement tracks where players stand and which moves the field allows.
package movement

import (
	"sort"

	"github.com/dungeonforge/dungeon-server-go/internal/game/field"
	"github.com/dungeonforge/dungeon-server-go/internal/game/gameerr"
	"github.com/dungeonforge/dungeon-server-go/internal/game/tile"
)

// Restriction pins a player to a return point while a battle they started is unresolved.
type Restriction struct {
	ReturnTo tile.Position `json:"return_to"`
	Target   tile.Position `json:"target"`
}

// Movement is the per-game aggregate of player positions.
type Movement struct {
	ID      string `json:"id"`
	GameID  string `json:"game_id"`
	Version int64  `json:"version"`

	Positions        map[string]tile.Position `json:"positions"`
	MovedAfterBattle map[string]bool          `json:"moved_after_battle"`
	Restrictions     map[string]Restriction   `json:"restrictions"`
}

// Outcome describes the result of a move request.
type Outcome struct {
	From     tile.Position
	To       tile.Position
	Teleport bool
	// Blocked is set when a living monster holds To; the player stays on From
	// and the caller must start a battle.
	Blocked bool
	Monster *tile.Monster
	// Healed is set when the player arrived on a healing fountain.
	Healed bool
}

// New creates an empty movement aggregate.
func New(id, gameID string) *Movement {
	return &Movement{
		ID:               id,
		GameID:           gameID,
		Positions:        make(map[string]tile.Position),
		MovedAfterBattle: make(map[string]bool),
		Restrictions:     make(map[string]Restriction),
	}
}

// Join puts a player on the board.
func (m *Movement) Join(playerID string, at tile.Position) {
	m.Positions[playerID] = at
}

// PositionOf returns the player's position.
func (m *Movement) PositionOf(playerID string) (tile.Position, bool) {
	p, ok := m.Positions[playerID]
	return p, ok
}

// PlayersAt returns the ids of players standing on pos, sorted.
func (m *Movement) PlayersAt(pos tile.Position) []string {
	var out []string
	for id, p := range m.Positions {
		if p == pos {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// HasMovedAfterBattle reports whether the player already moved after a battle this turn.
func (m *Movement) HasMovedAfterBattle(playerID string) bool {
	return m.MovedAfterBattle[playerID]
}

// RestrictionOf returns the pending battle restriction for a player.
func (m *Movement) RestrictionOf(playerID string) (Restriction, bool) {
	r, ok := m.Restrictions[playerID]
	return r, ok
}

// ReachableFrom returns the positions one transition away from pos.
// Unless ignoreMonster is set, positions guarded by a living monster are left out.
func ReachableFrom(f *field.Field, pos tile.Position, ignoreMonster bool) []tile.Position {
	var out []tile.Position
	for _, next := range f.Neighbors(pos) {
		if !ignoreMonster {
			if _, guarded := f.MonsterAt(next); guarded {
				continue
			}
		}
		out = append(out, next)
	}
	return out
}

// Move validates and applies a move from one tile to another.
// With avoidMonsters set, a monster on the destination rejects the move instead
// of reporting a battle.
func (m *Movement) Move(f *field.Field, playerID string, from, to tile.Position, avoidMonsters bool) (Outcome, error) {
	current, ok := m.Positions[playerID]
	if !ok {
		return Outcome{}, gameerr.WithMetadata(gameerr.CodeNotFound, "player is not on the board", map[string]string{
			"player_id": playerID,
		})
	}
	if current != from {
		return Outcome{}, gameerr.WithMetadata(gameerr.CodeInvalidArgument, "player is not standing on the origin tile", map[string]string{
			"player_id": playerID,
			"from":      from.String(),
			"position":  current.String(),
		})
	}
	if _, pending := m.Restrictions[playerID]; pending {
		return Outcome{}, gameerr.WithMetadata(gameerr.CodeInvalidTurnAction, "battle must be finalized before moving", map[string]string{
			"player_id": playerID,
		})
	}

	teleport := f.IsTeleport(from, to)
	if !f.HasEdge(from, to) && !teleport {
		return Outcome{}, gameerr.WithMetadata(gameerr.CodeNoTransitionBetweenPositions, "no transition between positions", map[string]string{
			"from": from.String(),
			"to":   to.String(),
		})
	}
	if m.MovedAfterBattle[playerID] && !teleport {
		return Outcome{}, gameerr.WithMetadata(gameerr.CodeInvalidTurnAction, "only a teleport is allowed after a battle", map[string]string{
			"player_id": playerID,
			"from":      from.String(),
			"to":        to.String(),
		})
	}

	out := Outcome{From: from, To: to, Teleport: teleport}
	if monster, guarded := f.MonsterAt(to); guarded {
		if avoidMonsters {
			return Outcome{}, gameerr.WithMetadata(gameerr.CodeDestinationBlocked, "destination guarded by a living monster", map[string]string{
				"to":         to.String(),
				"monster_id": monster.ID,
			})
		}
		out.Blocked = true
		out.Monster = &monster
		m.Restrictions[playerID] = Restriction{ReturnTo: from, Target: to}
		return out, nil
	}

	m.Positions[playerID] = to
	out.Healed = f.IsFountain(to)
	return out, nil
}

// EnterAfterBattle moves the player onto the battle tile once the fight allows it.
// It reports whether the tile is a healing fountain.
func (m *Movement) EnterAfterBattle(f *field.Field, playerID string) (tile.Position, bool, error) {
	r, ok := m.Restrictions[playerID]
	if !ok {
		return tile.Position{}, false, noPendingBattle(playerID)
	}
	delete(m.Restrictions, playerID)
	m.Positions[playerID] = r.Target
	m.MovedAfterBattle[playerID] = true
	return r.Target, f.IsFountain(r.Target), nil
}

// Retreat sends the player back along the transition they used after a lost battle.
// It reports whether the return point is a healing fountain.
func (m *Movement) Retreat(f *field.Field, playerID string) (tile.Position, bool, error) {
	r, ok := m.Restrictions[playerID]
	if !ok {
		return tile.Position{}, false, noPendingBattle(playerID)
	}
	delete(m.Restrictions, playerID)
	m.Positions[playerID] = r.ReturnTo
	return r.ReturnTo, f.IsFountain(r.ReturnTo), nil
}

func noPendingBattle(playerID string) error {
	return gameerr.WithMetadata(gameerr.CodeInvalidTurnAction, "player has no pending battle", map[string]string{
		"player_id": playerID,
	})
}

// TeleportTo places the player directly on a placed, unguarded tile.
func (m *Movement) TeleportTo(f *field.Field, playerID string, to tile.Position) (bool, error) {
	if _, placed := f.TileAt(to); !placed {
		return false, gameerr.WithMetadata(gameerr.CodeInvalidSpellTarget, "teleport target has no tile", map[string]string{
			"target": to.String(),
		})
	}
	if _, guarded := f.MonsterAt(to); guarded {
		return false, gameerr.WithMetadata(gameerr.CodeInvalidSpellTarget, "teleport target is guarded", map[string]string{
			"target": to.String(),
		})
	}
	m.Positions[playerID] = to
	return f.IsFountain(to), nil
}

// StartTurn clears per-turn movement state for a player.
func (m *Movement) StartTurn(playerID string) {
	delete(m.MovedAfterBattle, playerID)
}

// Clone returns a deep copy.
func (m *Movement) Clone() *Movement {
	cp := New(m.ID, m.GameID)
	cp.Version = m.Version
	for id, p := range m.Positions {
		cp.Positions[id] = p
	}
	for id, moved := range m.MovedAfterBattle {
		cp.MovedAfterBattle[id] = moved
	}
	for id, r := range m.Restrictions {
		cp.Restrictions[id] = r
	}
	return cp
}
