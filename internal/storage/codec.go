package storage

import (
	"encoding/json"
	"fmt"

	"github.com/dungeonforge/dungeon-server-go/internal/game"
	"github.com/dungeonforge/dungeon-server-go/internal/game/field"
	"github.com/dungeonforge/dungeon-server-go/internal/game/gameerr"
	"github.com/dungeonforge/dungeon-server-go/internal/game/movement"
	"github.com/dungeonforge/dungeon-server-go/internal/game/rules"
	"github.com/dungeonforge/dungeon-server-go/internal/game/tile"
)

// Row is one stored aggregate.
type Row struct {
	GameID  string
	Kind    string
	ID      string
	Version int64
	Data    []byte
}

// Key identifies the row the same way game.Versions does.
func (r Row) Key() string {
	return game.AggregateKey(r.Kind, r.ID)
}

// Rows encodes every aggregate of st, including turns that ended during the command.
func Rows(st *game.State) ([]Row, error) {
	aggregates := st.Aggregates()
	rows := make([]Row, 0, len(aggregates))
	for _, a := range aggregates {
		data, err := json.Marshal(a.Value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", a.Key(), err)
		}
		rows = append(rows, Row{
			GameID:  st.Game.ID,
			Kind:    a.Kind,
			ID:      a.ID,
			Version: *a.Version,
			Data:    data,
		})
	}
	return rows, nil
}

// Assemble decodes the rows of one game. Only the turn named by the game's
// CurrentTurnID is loaded; older turn rows are history.
func Assemble(gameID string, rows []Row) (*game.State, error) {
	st := &game.State{Players: make(map[string]*game.Player)}
	var turns []Row
	for _, r := range rows {
		var err error
		switch r.Kind {
		case game.KindGame:
			st.Game = new(game.Game)
			err = json.Unmarshal(r.Data, st.Game)
		case game.KindPlayer:
			p := new(game.Player)
			if err = json.Unmarshal(r.Data, p); err == nil {
				st.Players[p.ID] = p
			}
		case game.KindTurn:
			turns = append(turns, r)
		case game.KindField:
			st.Field = new(field.Field)
			err = json.Unmarshal(r.Data, st.Field)
		case game.KindMovement:
			st.Movement = new(movement.Movement)
			err = json.Unmarshal(r.Data, st.Movement)
		case game.KindDeck:
			st.Deck = new(tile.Deck)
			err = json.Unmarshal(r.Data, st.Deck)
		default:
			return nil, fmt.Errorf("unknown aggregate kind %q", r.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", r.Key(), err)
		}
	}
	if st.Game == nil {
		return nil, notFound(gameID)
	}
	if st.Field == nil || st.Movement == nil || st.Deck == nil {
		return nil, fmt.Errorf("game %s is missing aggregates", gameID)
	}
	for _, r := range turns {
		if r.ID != st.Game.CurrentTurnID {
			continue
		}
		st.Turn = new(rules.GameTurn)
		if err := json.Unmarshal(r.Data, st.Turn); err != nil {
			return nil, fmt.Errorf("decode %s: %w", r.Key(), err)
		}
	}
	return st, nil
}

func notFound(gameID string) error {
	return gameerr.WithMetadata(gameerr.CodeNotFound, "game not found", map[string]string{
		"game_id": gameID,
	})
}

func conflict(message, key string) error {
	return gameerr.WithMetadata(gameerr.CodeVersionConflict, message, map[string]string{
		"key": key,
	})
}

// checkVersions compares the stored versions of a game with the ones the
// caller observed. Rows absent from expected must not exist yet.
func checkVersions(current map[string]int64, expected game.Versions, rows []Row) error {
	for key, v := range expected {
		if got, ok := current[key]; !ok || got != v {
			return conflict("stale version", key)
		}
	}
	for _, r := range rows {
		if _, known := expected[r.Key()]; known {
			continue
		}
		if _, exists := current[r.Key()]; exists {
			return conflict("aggregate already exists", r.Key())
		}
	}
	return nil
}

// dirty returns the rows that are new or whose version moved past expected.
func dirty(rows []Row, expected game.Versions) []Row {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if v, ok := expected[r.Key()]; ok && v == r.Version {
			continue
		}
		out = append(out, r)
	}
	return out
}

func decodeGames(rows []Row) ([]*game.Game, error) {
	out := make([]*game.Game, 0, len(rows))
	for _, r := range rows {
		g := new(game.Game)
		if err := json.Unmarshal(r.Data, g); err != nil {
			return nil, fmt.Errorf("decode %s: %w", r.Key(), err)
		}
		out = append(out, g)
	}
	return out, nil
}
