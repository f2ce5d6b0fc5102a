// Package lobby keeps a read-side index of every game for listing screens.
// It is fed from the engine's event bus and never touches the repository
// except to seed itself at startup.
package lobby

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dungeonforge/dungeon-server-go/internal/game"
	"github.com/dungeonforge/dungeon-server-go/internal/game/rules"
)

// Listing is the lobby's view of one game.
type Listing struct {
	ID              string
	Status          game.Status
	PlayerIDs       []string
	CurrentPlayerID string
	TurnNumber      int
	DeckSize        int
	WinnerID        string
	Winners         []string
	Scores          map[string]int
	LastEventSeq    int64
	CreateTime      time.Time
	EndTime         *time.Time
	mu              sync.RWMutex
}

// ListingSnapshot is a consistent copy of a Listing.
type ListingSnapshot struct {
	ID              string         `json:"id"`
	Status          string         `json:"status"`
	PlayerIDs       []string       `json:"player_ids"`
	CurrentPlayerID string         `json:"current_player_id,omitempty"`
	TurnNumber      int            `json:"turn_number"`
	DeckSize        int            `json:"deck_size"`
	WinnerID        string         `json:"winner_id,omitempty"`
	Winners         []string       `json:"winners,omitempty"`
	Scores          map[string]int `json:"scores,omitempty"`
	CreateTime      time.Time      `json:"create_time"`
	EndTime         *time.Time     `json:"end_time,omitempty"`
}

func newListing(id string) *Listing {
	return &Listing{ID: id, PlayerIDs: make([]string, 0, game.MaxPlayers)}
}

func listingFromGame(g *game.Game) *Listing {
	l := newListing(g.ID)
	l.Status = g.Status
	l.PlayerIDs = append(l.PlayerIDs, g.PlayerIDs...)
	l.CurrentPlayerID = g.CurrentPlayerID
	l.TurnNumber = g.TurnNumber
	l.DeckSize = g.DeckSize
	l.WinnerID = g.WinnerID
	l.Winners = append([]string(nil), g.Winners...)
	l.Scores = copyScores(g.Scores)
	l.LastEventSeq = g.EventSeq
	l.CreateTime = g.CreatedAt
	if g.Status == game.StatusFinished {
		end := g.FinishedAt
		l.EndTime = &end
	}
	return l
}

// apply folds one committed event into the listing. Events at or below the
// last applied sequence are ignored.
func (l *Listing) apply(evt rules.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if evt.Seq != 0 && evt.Seq <= l.LastEventSeq {
		return
	}
	if evt.Seq != 0 {
		l.LastEventSeq = evt.Seq
	}

	switch evt.Type {
	case rules.EventGameCreated:
		l.Status = game.StatusLobby
		l.DeckSize = evt.Amount
		l.CreateTime = evt.Timestamp
	case rules.EventPlayerAdded:
		for _, id := range l.PlayerIDs {
			if id == evt.PlayerID {
				return
			}
		}
		l.PlayerIDs = append(l.PlayerIDs, evt.PlayerID)
	case rules.EventGameStarted:
		l.Status = game.StatusStarted
	case rules.EventTurnStarted:
		l.Status = game.StatusTurnInProgress
		l.CurrentPlayerID = evt.PlayerID
		l.TurnNumber = evt.Amount
	case rules.EventGameEnded:
		l.Status = game.StatusFinished
		l.CurrentPlayerID = ""
		l.WinnerID = evt.TargetID
		l.Winners = append([]string(nil), evt.Winners...)
		l.Scores = copyScores(evt.Scores)
		end := evt.Timestamp
		l.EndTime = &end
	}
}

// Snapshot returns a consistent copy of the listing.
func (l *Listing) Snapshot() ListingSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return ListingSnapshot{
		ID:              l.ID,
		Status:          l.Status.String(),
		PlayerIDs:       append([]string(nil), l.PlayerIDs...),
		CurrentPlayerID: l.CurrentPlayerID,
		TurnNumber:      l.TurnNumber,
		DeckSize:        l.DeckSize,
		WinnerID:        l.WinnerID,
		Winners:         append([]string(nil), l.Winners...),
		Scores:          copyScores(l.Scores),
		CreateTime:      l.CreateTime,
		EndTime:         cloneTime(l.EndTime),
	}
}

func copyScores(src map[string]int) map[string]int {
	if src == nil {
		return nil
	}
	cp := make(map[string]int, len(src))
	for k, v := range src {
		cp[k] = v
	}
	return cp
}

func cloneTime(src *time.Time) *time.Time {
	if src == nil {
		return nil
	}
	cp := *src
	return &cp
}

// GameLister enumerates stored games.
type GameLister interface {
	ListGames(ctx context.Context) ([]*game.Game, error)
}

// Manager indexes games by id.
type Manager struct {
	listings map[string]*Listing
	mu       sync.RWMutex
	logger   *zap.Logger
	bus      *rules.EventBus
	handle   int
}

// NewManager creates an empty index.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		listings: make(map[string]*Listing),
		logger:   logger,
		handle:   -1,
	}
}

// Seed loads every stored game into the index.
func (m *Manager) Seed(ctx context.Context, lister GameLister) error {
	games, err := lister.ListGames(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	for _, g := range games {
		m.listings[g.ID] = listingFromGame(g)
	}
	m.mu.Unlock()
	if m.logger != nil {
		m.logger.Info("lobby seeded", zap.Int("games", len(games)))
	}
	return nil
}

// Attach subscribes the index to bus. Calling it again moves the subscription.
func (m *Manager) Attach(bus *rules.EventBus) {
	m.Detach()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bus = bus
	m.handle = bus.Subscribe(m.HandleEvent)
}

// Detach stops listening.
func (m *Manager) Detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bus != nil && m.handle >= 0 {
		m.bus.Unsubscribe(m.handle)
	}
	m.bus = nil
	m.handle = -1
}

// HandleEvent applies one committed event.
func (m *Manager) HandleEvent(evt rules.Event) {
	if evt.GameID == "" {
		return
	}
	m.mu.Lock()
	l, ok := m.listings[evt.GameID]
	if !ok {
		l = newListing(evt.GameID)
		m.listings[evt.GameID] = l
	}
	m.mu.Unlock()

	l.apply(evt)

	if m.logger == nil {
		return
	}
	switch evt.Type {
	case rules.EventGameCreated:
		m.logger.Info("game listed", zap.String("game_id", evt.GameID))
	case rules.EventGameEnded:
		m.logger.Info("game finished",
			zap.String("game_id", evt.GameID),
			zap.String("winner_id", evt.TargetID),
			zap.Strings("winners", evt.Winners),
		)
	}
}

// GetGame returns the listing of one game.
func (m *Manager) GetGame(gameID string) (ListingSnapshot, bool) {
	m.mu.RLock()
	l, ok := m.listings[gameID]
	m.mu.RUnlock()
	if !ok {
		return ListingSnapshot{}, false
	}
	return l.Snapshot(), true
}

// List returns listings ordered by creation time then id. With no statuses
// every game is returned.
func (m *Manager) List(statuses ...game.Status) []ListingSnapshot {
	m.mu.RLock()
	all := make([]*Listing, 0, len(m.listings))
	for _, l := range m.listings {
		all = append(all, l)
	}
	m.mu.RUnlock()

	out := make([]ListingSnapshot, 0, len(all))
	for _, l := range all {
		s := l.Snapshot()
		if len(statuses) > 0 && !hasStatus(statuses, s.Status) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreateTime.Equal(out[j].CreateTime) {
			return out[i].CreateTime.Before(out[j].CreateTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func hasStatus(statuses []game.Status, name string) bool {
	for _, s := range statuses {
		if s.String() == name {
			return true
		}
	}
	return false
}

// RemoveGame drops a game from the index.
func (m *Manager) RemoveGame(gameID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listings, gameID)
	if m.logger != nil {
		m.logger.Info("game unlisted", zap.String("game_id", gameID))
	}
}

// ActiveCount returns the number of games not yet finished.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, l := range m.listings {
		l.mu.RLock()
		if l.Status != game.StatusFinished {
			count++
		}
		l.mu.RUnlock()
	}
	return count
}
