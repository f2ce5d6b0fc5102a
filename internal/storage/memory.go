package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/dungeonforge/dungeon-server-go/internal/game"
)

// MemoryStore keeps encoded rows in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	games map[string]map[string]Row
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{games: make(map[string]map[string]Row)}
}

// Load decodes a fresh copy of the game.
func (s *MemoryStore) Load(ctx context.Context, gameID string) (*game.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	stored, ok := s.games[gameID]
	rows := make([]Row, 0, len(stored))
	for _, r := range stored {
		rows = append(rows, r)
	}
	s.mu.RUnlock()
	if !ok {
		return nil, notFound(gameID)
	}
	return Assemble(gameID, rows)
}

// SaveAll writes the changed aggregates of st when every expected version still holds.
func (s *MemoryStore) SaveAll(ctx context.Context, st *game.State, expected game.Versions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rows, err := Rows(st)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.games[st.Game.ID]
	current := make(map[string]int64, len(stored))
	for key, r := range stored {
		current[key] = r.Version
	}
	if err := checkVersions(current, expected, rows); err != nil {
		return err
	}
	if stored == nil {
		stored = make(map[string]Row, len(rows))
		s.games[st.Game.ID] = stored
	}
	for _, r := range dirty(rows, expected) {
		stored[r.Key()] = r
	}
	return nil
}

// ListGames returns every stored game ordered by id.
func (s *MemoryStore) ListGames(ctx context.Context) ([]*game.Game, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.games))
	for id := range s.games {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rows := make([]Row, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.games[id][game.AggregateKey(game.KindGame, id)]; ok {
			rows = append(rows, r)
		}
	}
	return decodeGames(rows)
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
