package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dungeonforge/dungeon-server-go/internal/game"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS aggregates (
	kind       TEXT        NOT NULL,
	id         TEXT        NOT NULL,
	game_id    TEXT        NOT NULL,
	version    BIGINT      NOT NULL,
	data       JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (kind, id)
);
CREATE INDEX IF NOT EXISTS aggregates_game_id_idx ON aggregates (game_id);
`

const pgUniqueViolation = "23505"

// PostgresStore persists aggregates as JSONB rows.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// OpenPostgres connects to dsn and creates the schema when missing.
func OpenPostgres(ctx context.Context, dsn string, maxConns int, logger *zap.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if logger != nil {
		logger.Info("connected to postgres", zap.Int32("max_conns", poolCfg.MaxConns))
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Load reads the game's aggregates and its current turn.
func (s *PostgresStore) Load(ctx context.Context, gameID string) (*game.State, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT kind, id, version, data FROM aggregates
		WHERE game_id = $1
		  AND (kind <> 'turn' OR id = (
		    SELECT data->>'current_turn_id' FROM aggregates WHERE kind = 'game' AND id = $1
		  ))`, gameID)
	if err != nil {
		return nil, fmt.Errorf("query game %s: %w", gameID, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r := Row{GameID: gameID}
		if err := rows.Scan(&r.Kind, &r.ID, &r.Version, &r.Data); err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read game %s: %w", gameID, err)
	}
	if len(out) == 0 {
		return nil, notFound(gameID)
	}
	return Assemble(gameID, out)
}

// SaveAll locks the game's rows, checks expected versions and writes what changed.
func (s *PostgresStore) SaveAll(ctx context.Context, st *game.State, expected game.Versions) error {
	rows, err := Rows(st)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := lockVersions(ctx, tx, st.Game.ID)
	if err != nil {
		return err
	}
	if err := checkVersions(current, expected, rows); err != nil {
		return err
	}

	for _, r := range dirty(rows, expected) {
		if _, known := expected[r.Key()]; known {
			_, err = tx.Exec(ctx, `
				UPDATE aggregates SET version = $3, data = $4, updated_at = now()
				WHERE kind = $1 AND id = $2`,
				r.Kind, r.ID, r.Version, r.Data)
		} else {
			_, err = tx.Exec(ctx, `
				INSERT INTO aggregates (kind, id, game_id, version, data)
				VALUES ($1, $2, $3, $4, $5)`,
				r.Kind, r.ID, r.GameID, r.Version, r.Data)
		}
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return conflict("aggregate already exists", r.Key())
			}
			return fmt.Errorf("write %s: %w", r.Key(), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func lockVersions(ctx context.Context, tx pgx.Tx, gameID string) (map[string]int64, error) {
	rows, err := tx.Query(ctx, `SELECT kind, id, version FROM aggregates WHERE game_id = $1 FOR UPDATE`, gameID)
	if err != nil {
		return nil, fmt.Errorf("lock game %s: %w", gameID, err)
	}
	defer rows.Close()

	current := make(map[string]int64)
	for rows.Next() {
		var kind, id string
		var version int64
		if err := rows.Scan(&kind, &id, &version); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		current[game.AggregateKey(kind, id)] = version
	}
	return current, rows.Err()
}

// ListGames returns every stored game ordered by id.
func (s *PostgresStore) ListGames(ctx context.Context) ([]*game.Game, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, version, data FROM aggregates WHERE kind = 'game' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r := Row{Kind: game.KindGame}
		if err := rows.Scan(&r.ID, &r.Version, &r.Data); err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	return decodeGames(out)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
