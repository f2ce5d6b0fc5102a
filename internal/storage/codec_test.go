package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dungeonforge/dungeon-server-go/internal/game"
	"github.com/dungeonforge/dungeon-server-go/internal/game/gameerr"
	"github.com/dungeonforge/dungeon-server-go/internal/game/tile"
)

func startedState(t *testing.T) *game.State {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()
	e := game.NewEngine(nil, store, game.Config{AllowOverrides: true})
	deck := []tile.Spec{
		{Tile: tile.Tile{ID: "a", Orientation: tile.OpenLeft | tile.OpenRight}},
		{Tile: tile.Tile{ID: "b", Orientation: tile.OpenLeft | tile.OpenRight}},
	}
	res, err := e.Execute(ctx, game.CreateGame{Overrides: &game.Overrides{Deck: deck}})
	require.NoError(t, err)
	for _, cmd := range []game.Command{
		game.AddPlayer{GameID: res.GameID, PlayerID: "p1"},
		game.AddPlayer{GameID: res.GameID, PlayerID: "p2"},
		game.StartGame{GameID: res.GameID},
	} {
		_, err := e.Execute(ctx, cmd)
		require.NoError(t, err)
	}
	st, err := store.Load(ctx, res.GameID)
	require.NoError(t, err)
	return st
}

func kinds(rows []Row) map[string]int {
	out := make(map[string]int)
	for _, r := range rows {
		out[r.Kind]++
	}
	return out
}

func TestRowsCoverEveryAggregate(t *testing.T) {
	st := startedState(t)
	rows, err := Rows(st)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{
		game.KindGame:     1,
		game.KindPlayer:   2,
		game.KindTurn:     1,
		game.KindField:    1,
		game.KindMovement: 1,
		game.KindDeck:     1,
	}, kinds(rows))
	for _, r := range rows {
		assert.Equal(t, st.Game.ID, r.GameID)
		assert.Positive(t, r.Version, r.Key())
	}
}

func TestRowsIncludeFinishedTurns(t *testing.T) {
	st := startedState(t)
	old := st.Turn.Clone()
	old.ID = "previous"
	st.Finished = append(st.Finished, old)

	rows, err := Rows(st)
	require.NoError(t, err)
	assert.Equal(t, 2, kinds(rows)[game.KindTurn])
}

func TestAssemblePicksCurrentTurn(t *testing.T) {
	st := startedState(t)
	old := st.Turn.Clone()
	old.ID = "previous"
	old.PlayerID = "p2"
	st.Finished = append(st.Finished, old)
	rows, err := Rows(st)
	require.NoError(t, err)

	back, err := Assemble(st.Game.ID, rows)
	require.NoError(t, err)
	require.NotNil(t, back.Turn)
	assert.Equal(t, st.Game.CurrentTurnID, back.Turn.ID)
	assert.Equal(t, "p1", back.Turn.PlayerID)
	assert.Empty(t, back.Finished)

	want := st.Versions()
	delete(want, game.AggregateKey(game.KindTurn, "previous"))
	assert.Equal(t, want, back.Versions())
}

func TestAssembleWithoutGameRow(t *testing.T) {
	_, err := Assemble("g", []Row{{GameID: "g", Kind: game.KindDeck, ID: "d", Data: []byte(`{}`)}})
	assert.Equal(t, gameerr.CodeNotFound, gameerr.CodeOf(err))
}

func TestAssembleRejectsUnknownKind(t *testing.T) {
	_, err := Assemble("g", []Row{{GameID: "g", Kind: "chest", ID: "x", Data: []byte(`{}`)}})
	assert.Error(t, err)
}

func TestAssembleMissingAggregates(t *testing.T) {
	st := startedState(t)
	rows, err := Rows(st)
	require.NoError(t, err)
	var partial []Row
	for _, r := range rows {
		if r.Kind != game.KindField {
			partial = append(partial, r)
		}
	}
	_, err = Assemble(st.Game.ID, partial)
	assert.Error(t, err)
	assert.NotEqual(t, gameerr.CodeNotFound, gameerr.CodeOf(err))
}

func TestCheckVersions(t *testing.T) {
	rows := []Row{
		{Kind: game.KindGame, ID: "g", Version: 3},
		{Kind: game.KindTurn, ID: "t2", Version: 1},
	}
	current := map[string]int64{"game/g": 2, "turn/t1": 4}

	assert.NoError(t, checkVersions(current, game.Versions{"game/g": 2}, rows))

	err := checkVersions(current, game.Versions{"game/g": 1}, rows)
	assert.Equal(t, gameerr.CodeVersionConflict, gameerr.CodeOf(err))

	err = checkVersions(current, game.Versions{"game/g": 2, "player/g/p1": 1}, rows)
	assert.Equal(t, gameerr.CodeVersionConflict, gameerr.CodeOf(err), "expected rows must exist")

	current["turn/t2"] = 1
	err = checkVersions(current, game.Versions{"game/g": 2}, rows)
	assert.Equal(t, gameerr.CodeVersionConflict, gameerr.CodeOf(err), "new rows must not exist")
}

func TestDirty(t *testing.T) {
	rows := []Row{
		{Kind: game.KindGame, ID: "g", Version: 3},
		{Kind: game.KindField, ID: "f", Version: 1},
		{Kind: game.KindTurn, ID: "t2", Version: 1},
	}
	got := dirty(rows, game.Versions{"game/g": 2, "field/f": 1})
	require.Len(t, got, 2)
	assert.Equal(t, "game/g", got[0].Key())
	assert.Equal(t, "turn/t2", got[1].Key())
}
