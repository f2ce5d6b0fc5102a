package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dungeonforge/dungeon-server-go/internal/game"
	"github.com/dungeonforge/dungeon-server-go/internal/game/tile"
	"github.com/dungeonforge/dungeon-server-go/internal/lobby"
	"github.com/dungeonforge/dungeon-server-go/internal/storage"
)

func newTestStore() *storage.MemoryStore {
	return storage.NewMemoryStore()
}

func corridor(id string) tile.Spec {
	return tile.Spec{Tile: tile.Tile{ID: id, Orientation: tile.OpenLeft | tile.OpenRight}}
}

// newTestServices wires an engine over a memory store the way cmd/server does.
// The logger is a no-op because websocket pumps may outlive the test.
func newTestServices(t *testing.T) Services {
	t.Helper()
	logger := zap.NewNop()
	engine := game.NewEngine(logger, newTestStore(), game.Config{AllowOverrides: true})

	lob := lobby.NewManager(logger)
	lob.Attach(engine.Events())
	hub := NewHub(64, logger)
	hub.Attach(engine.Events())
	t.Cleanup(func() {
		hub.Detach()
		lob.Detach()
	})

	return Services{
		Engine:     engine,
		Dispatcher: NewDispatcher(engine, 5*time.Second, logger),
		Lobby:      lob,
		Hub:        hub,
		Logger:     logger,
		Version:    "test",
	}
}

// startedGame creates a two player game over a short corridor deck and starts it.
func startedGame(t *testing.T, svc Services) string {
	t.Helper()
	ctx := context.Background()
	res, err := svc.Dispatcher.Execute(ctx, game.CreateGame{Overrides: &game.Overrides{
		Deck: []tile.Spec{corridor("c1"), corridor("c2"), corridor("c3")},
	}})
	require.NoError(t, err)
	gameID := res.GameID
	for _, cmd := range []game.Command{
		game.AddPlayer{GameID: gameID, PlayerID: "p1"},
		game.AddPlayer{GameID: gameID, PlayerID: "p2"},
		game.StartGame{GameID: gameID},
	} {
		_, err := svc.Dispatcher.Execute(ctx, cmd)
		require.NoError(t, err, "command %s", cmd.Kind())
	}
	return gameID
}
