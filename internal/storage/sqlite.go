package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/dungeonforge/dungeon-server-go/internal/game"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS aggregates (
	kind       TEXT    NOT NULL,
	id         TEXT    NOT NULL,
	game_id    TEXT    NOT NULL,
	version    INTEGER NOT NULL,
	data       TEXT    NOT NULL,
	updated_at INTEGER NOT NULL DEFAULT (unixepoch()),
	PRIMARY KEY (kind, id)
);
CREATE INDEX IF NOT EXISTS aggregates_game_id_idx ON aggregates (game_id);
`

// SQLiteStore persists aggregates in a single SQLite file.
type SQLiteStore struct {
	sqlDB  *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens the database at path and creates the schema when missing.
// Transactions take the write lock when they begin.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.ExecContext(ctx, sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if logger != nil {
		logger.Info("opened sqlite store", zap.String("path", cleanPath))
	}
	return &SQLiteStore{sqlDB: sqlDB, logger: logger}, nil
}

// Load reads the game's aggregates and its current turn.
func (s *SQLiteStore) Load(ctx context.Context, gameID string) (*game.State, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT kind, id, version, data FROM aggregates
		WHERE game_id = ?
		  AND (kind <> 'turn' OR id = (
		    SELECT json_extract(data, '$.current_turn_id') FROM aggregates WHERE kind = 'game' AND id = ?
		  ))`, gameID, gameID)
	if err != nil {
		return nil, fmt.Errorf("query game %s: %w", gameID, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r := Row{GameID: gameID}
		var data string
		if err := rows.Scan(&r.Kind, &r.ID, &r.Version, &data); err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		r.Data = []byte(data)
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

// SaveAll checks expected versions and writes what changed in one transaction.
func (s *SQLiteStore) SaveAll(ctx context.Context, st *game.State, expected game.Versions) error {
	rows, err := Rows(st)
	if err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := readVersions(ctx, tx, st.Game.ID)
	if err != nil {
		return err
	}
	if err := checkVersions(current, expected, rows); err != nil {
		return err
	}

	for _, r := range dirty(rows, expected) {
		if _, known := expected[r.Key()]; known {
			_, err = tx.ExecContext(ctx, `
				UPDATE aggregates SET version = ?, data = ?, updated_at = unixepoch()
				WHERE kind = ? AND id = ?`,
				r.Version, string(r.Data), r.Kind, r.ID)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO aggregates (kind, id, game_id, version, data)
				VALUES (?, ?, ?, ?, ?)`,
				r.Kind, r.ID, r.GameID, r.Version, string(r.Data))
		}
		if err != nil {
			if isConstraintError(err) {
				return conflict("aggregate already exists", r.Key())
			}
			return fmt.Errorf("write %s: %w", r.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func readVersions(ctx context.Context, tx *sql.Tx, gameID string) (map[string]int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT kind, id, version FROM aggregates WHERE game_id = ?`, gameID)
	if err != nil {
		return nil, fmt.Errorf("read versions of %s: %w", gameID, err)
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

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// ListGames returns every stored game ordered by id.
func (s *SQLiteStore) ListGames(ctx context.Context) ([]*game.Game, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id, version, data FROM aggregates WHERE kind = 'game' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r := Row{Kind: game.KindGame}
		var data string
		if err := rows.Scan(&r.ID, &r.Version, &data); err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		r.Data = []byte(data)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	return decodeGames(out)
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}
