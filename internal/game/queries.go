package game

import (
	"context"

	"github.com/dungeonforge/dungeon-server-go/internal/game/field"
	"github.com/dungeonforge/dungeon-server-go/internal/game/gameerr"
	"github.com/dungeonforge/dungeon-server-go/internal/game/inventory"
	"github.com/dungeonforge/dungeon-server-go/internal/game/movement"
	"github.com/dungeonforge/dungeon-server-go/internal/game/rules"
	"github.com/dungeonforge/dungeon-server-go/internal/game/tile"
)

// TileView is a placed tile with everything standing on it.
type TileView struct {
	Position        tile.Position  `json:"position"`
	Tile            tile.Tile      `json:"tile"`
	Players         []string       `json:"players"`
	Monster         *tile.Monster  `json:"monster,omitempty"`
	Item            *tile.Item     `json:"item,omitempty"`
	Fountain        bool           `json:"fountain"`
	TeleportPartner *tile.Position `json:"teleport_partner,omitempty"`
}

// PlayerStatus is a player's situation in the current turn.
type PlayerStatus struct {
	PlayerID         string        `json:"player_id"`
	HP               int           `json:"hp"`
	MaxHP            int           `json:"max_hp"`
	Stunned          bool          `json:"stunned"`
	Position         tile.Position `json:"position"`
	IsCurrent        bool          `json:"is_current"`
	InBattle         bool          `json:"in_battle"`
	MovedAfterBattle bool          `json:"moved_after_battle"`
	Score            int           `json:"score"`
	Keys             int           `json:"keys"`
	Weapons          int           `json:"weapons"`
	Spells           int           `json:"spells"`
	Treasures        int           `json:"treasures"`
	WeaponDamage     int           `json:"weapon_damage"`
	SpellDamage      int           `json:"spell_damage"`
}

func (e *Engine) load(ctx context.Context, gameID string) (*State, error) {
	if gameID == "" {
		return nil, gameerr.New(gameerr.CodeInvalidArgument, "game id is required")
	}
	return e.repo.Load(ctx, gameID)
}

func playerIn(st *State, playerID string) (*Player, error) {
	p, ok := st.Player(playerID)
	if !ok {
		return nil, gameerr.WithMetadata(gameerr.CodeNotFound, "player not in game", map[string]string{
			"game_id":   st.Game.ID,
			"player_id": playerID,
		})
	}
	return p, nil
}

// GetGame returns the game root.
func (e *Engine) GetGame(ctx context.Context, gameID string) (*Game, error) {
	st, err := e.load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return st.Game, nil
}

// GetField returns the dungeon map.
func (e *Engine) GetField(ctx context.Context, gameID string) (*field.Field, error) {
	st, err := e.load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return st.Field, nil
}

// GetTile returns the tile at pos and what occupies it.
func (e *Engine) GetTile(ctx context.Context, gameID string, pos tile.Position) (*TileView, error) {
	st, err := e.load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	t, ok := st.Field.TileAt(pos)
	if !ok {
		return nil, gameerr.WithMetadata(gameerr.CodeNotFound, "no tile at position", map[string]string{
			"position": pos.String(),
		})
	}
	view := &TileView{
		Position: pos,
		Tile:     t,
		Players:  st.Movement.PlayersAt(pos),
		Fountain: st.Field.IsFountain(pos),
	}
	if m, ok := st.Field.MonsterAt(pos); ok {
		view.Monster = &m
	}
	if it, ok := st.Field.ItemAt(pos); ok {
		view.Item = &it
	}
	if partner, ok := st.Field.Teleports[pos]; ok {
		view.TeleportPartner = &partner
	}
	return view, nil
}

// GetCurrentPlayer returns the player whose turn it is.
func (e *Engine) GetCurrentPlayer(ctx context.Context, gameID string) (*Player, error) {
	st, err := e.load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if st.Game.CurrentPlayerID == "" {
		return nil, gameerr.WithMetadata(gameerr.CodeGameNotStarted, "game has not started", map[string]string{
			"game_id": gameID,
		})
	}
	return playerIn(st, st.Game.CurrentPlayerID)
}

// GetCurrentTurn returns the turn in progress, or the last one of a finished game.
func (e *Engine) GetCurrentTurn(ctx context.Context, gameID string) (*rules.GameTurn, error) {
	st, err := e.load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if st.Turn == nil {
		return nil, gameerr.WithMetadata(gameerr.CodeGameNotStarted, "game has not started", map[string]string{
			"game_id": gameID,
		})
	}
	return st.Turn, nil
}

// GetPlayer returns one player.
func (e *Engine) GetPlayer(ctx context.Context, gameID, playerID string) (*Player, error) {
	st, err := e.load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return playerIn(st, playerID)
}

// GetPlayerStatus summarises a player's health, position and inventory.
func (e *Engine) GetPlayerStatus(ctx context.Context, gameID, playerID string) (*PlayerStatus, error) {
	st, err := e.load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	p, err := playerIn(st, playerID)
	if err != nil {
		return nil, err
	}
	pos, _ := st.Movement.PositionOf(playerID)
	_, inBattle := st.Movement.RestrictionOf(playerID)
	inv := &p.Inventory
	return &PlayerStatus{
		PlayerID:         p.ID,
		HP:               p.HP,
		MaxHP:            p.MaxHP,
		Stunned:          p.Stunned(),
		Position:         pos,
		IsCurrent:        st.Game.CurrentPlayerID == playerID && st.Game.InProgress(),
		InBattle:         inBattle,
		MovedAfterBattle: st.Movement.HasMovedAfterBattle(playerID),
		Score:            inv.TreasureValue(),
		Keys:             inv.Count(tile.ItemKey),
		Weapons:          inv.Count(tile.ItemWeapon),
		Spells:           inv.Count(tile.ItemSpell),
		Treasures:        inv.Count(tile.ItemTreasure),
		WeaponDamage:     inv.TotalWeaponDamage(),
		SpellDamage:      inv.TotalSpellDamage(),
	}, nil
}

// GetAvailablePlacesForPlayer returns the empty positions next to the player
// that the picked tile fits in some orientation. Without a picked tile it
// returns every empty position the player's tile opens onto.
func (e *Engine) GetAvailablePlacesForPlayer(ctx context.Context, gameID, playerID string) ([]tile.Position, error) {
	st, err := e.load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if _, err := playerIn(st, playerID); err != nil {
		return nil, err
	}
	from, _ := st.Movement.PositionOf(playerID)
	candidates := st.Field.AvailableFrom(from)

	turn := st.Turn
	if turn == nil || turn.PlayerID != playerID || turn.PendingTile == nil {
		return candidates, nil
	}
	out := make([]tile.Position, 0, len(candidates))
	for _, pos := range candidates {
		if _, _, err := st.Field.Fit(turn.PendingTile.Tile, pos, from); err == nil {
			out = append(out, pos)
		}
	}
	return out, nil
}

// GetReachablePositions returns the positions one transition from the player.
func (e *Engine) GetReachablePositions(ctx context.Context, gameID, playerID string, ignoreMonster bool) ([]tile.Position, error) {
	st, err := e.load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if _, err := playerIn(st, playerID); err != nil {
		return nil, err
	}
	from, _ := st.Movement.PositionOf(playerID)
	return movement.ReachableFrom(st.Field, from, ignoreMonster), nil
}

// GetInventory returns a copy of a player's inventory.
func (e *Engine) GetInventory(ctx context.Context, gameID, playerID string) (inventory.Inventory, error) {
	p, err := e.GetPlayer(ctx, gameID, playerID)
	if err != nil {
		return inventory.Inventory{}, err
	}
	return p.Inventory, nil
}

// GetChecksum hashes the deterministic representation of the game.
func (e *Engine) GetChecksum(ctx context.Context, gameID string) (*SerializationChecksum, error) {
	st, err := e.load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(st, "", e.now()).ComputeChecksum()
}
