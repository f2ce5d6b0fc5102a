package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dungeonforge/dungeon-server-go/internal/game"
	"github.com/dungeonforge/dungeon-server-go/internal/storage"
)

func seedStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	store := storage.NewMemoryStore()
	engine := game.NewEngine(zaptest.NewLogger(t), store, game.Config{})
	ctx := context.Background()
	for _, cmd := range []game.Command{
		game.CreateGame{GameID: "waiting"},
		game.CreateGame{GameID: "running"},
		game.AddPlayer{GameID: "running", PlayerID: "p1"},
		game.AddPlayer{GameID: "running", PlayerID: "p2"},
		game.StartGame{GameID: "running"},
	} {
		_, err := engine.Execute(ctx, cmd)
		require.NoError(t, err)
	}
	return store
}

func TestMigrateCopiesGames(t *testing.T) {
	ctx := context.Background()
	from := seedStore(t)
	to := storage.NewMemoryStore()

	stats, err := migrate(ctx, from, to, nil, false)
	require.NoError(t, err)
	assert.Equal(t, migrateStats{copied: 2}, stats)

	want, err := from.Load(ctx, "running")
	require.NoError(t, err)
	got, err := to.Load(ctx, "running")
	require.NoError(t, err)
	assert.Equal(t, want.Game, got.Game)
	assert.Equal(t, want.Versions(), got.Versions())

	again, err := migrate(ctx, from, to, nil, false)
	require.NoError(t, err)
	assert.Equal(t, migrateStats{skipped: 2}, again)
}

func TestMigrateFilterAndDryRun(t *testing.T) {
	ctx := context.Background()
	from := seedStore(t)
	to := storage.NewMemoryStore()

	filter, err := parseFilter("lobby")
	require.NoError(t, err)

	stats, err := migrate(ctx, from, to, filter, true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.copied)
	games, err := to.ListGames(ctx)
	require.NoError(t, err)
	assert.Empty(t, games)

	_, err = migrate(ctx, from, to, filter, false)
	require.NoError(t, err)
	games, err = to.ListGames(ctx)
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, "waiting", games[0].ID)
}

func TestParseFilter(t *testing.T) {
	all, err := parseFilter(" ")
	require.NoError(t, err)
	assert.Nil(t, all)

	_, err = parseFilter("lobby,asleep")
	assert.Error(t, err)
}
