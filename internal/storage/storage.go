// Package storage implements game.Repository over memory, PostgreSQL and SQLite.
//
// Every aggregate of a game is one row keyed by (kind, id) carrying its
// version and JSON body. SaveAll is all-or-nothing: it compares the stored
// versions of the game with the ones observed at load and writes only the
// aggregates that changed.
package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dungeonforge/dungeon-server-go/internal/config"
	"github.com/dungeonforge/dungeon-server-go/internal/game"
)

// Store is a repository that can also enumerate its games.
type Store interface {
	game.Repository
	ListGames(ctx context.Context) ([]*game.Game, error)
	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		if logger != nil {
			logger.Info("using in-memory store")
		}
		return NewMemoryStore(), nil
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN, cfg.MaxConns, logger)
	case "sqlite":
		return OpenSQLite(ctx, cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
