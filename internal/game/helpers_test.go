package game

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dungeonforge/dungeon-server-go/internal/game/gameerr"
	"github.com/dungeonforge/dungeon-server-go/internal/game/tile"
)

// memRepo keeps cloned states in memory and enforces expected versions.
type memRepo struct {
	mu       sync.Mutex
	states   map[string]*State
	versions map[string]Versions
	saves    int

	// beforeSave runs once, before the next SaveAll takes the lock.
	beforeSave func()
}

func newMemRepo() *memRepo {
	return &memRepo{
		states:   make(map[string]*State),
		versions: make(map[string]Versions),
	}
}

func (r *memRepo) Load(_ context.Context, gameID string) (*State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[gameID]
	if !ok {
		return nil, gameerr.WithMetadata(gameerr.CodeNotFound, "game not found", map[string]string{
			"game_id": gameID,
		})
	}
	return st.Clone(), nil
}

func (r *memRepo) SaveAll(_ context.Context, st *State, expected Versions) error {
	if hook := r.beforeSave; hook != nil {
		r.beforeSave = nil
		hook()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.versions[st.Game.ID]
	for key, v := range expected {
		if current[key] != v {
			return gameerr.WithMetadata(gameerr.CodeVersionConflict, "stale version", map[string]string{"key": key})
		}
	}
	for _, a := range st.Aggregates() {
		if _, known := expected[a.Key()]; known {
			continue
		}
		if _, exists := current[a.Key()]; exists {
			return gameerr.WithMetadata(gameerr.CodeVersionConflict, "aggregate already exists", map[string]string{"key": a.Key()})
		}
	}

	stored := st.Clone()
	stored.Finished = nil
	r.states[st.Game.ID] = stored
	if current == nil {
		current = make(Versions)
	}
	for key, v := range st.Versions() {
		current[key] = v
	}
	r.versions[st.Game.ID] = current
	r.saves++
	return nil
}

var testClock = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *memRepo) {
	t.Helper()
	repo := newMemRepo()
	e := NewEngine(zaptest.NewLogger(t), repo, Config{AllowOverrides: true})
	e.SetClock(func() time.Time { return testClock })
	e.SetSeedSource(func() (int64, error) { return 42, nil })
	n := 0
	e.SetIDGenerator(func() string {
		n++
		return fmt.Sprintf("game-%d", n)
	})
	return e, repo
}

func mustExec(t *testing.T, e *Engine, cmd Command) *Result {
	t.Helper()
	res, err := e.Execute(context.Background(), cmd)
	require.NoError(t, err, "command %s", cmd.Kind())
	require.NotNil(t, res)
	return res
}

func requireCode(t *testing.T, err error, code gameerr.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, gameerr.CodeOf(err), "error: %v", err)
}

func loadState(t *testing.T, repo *memRepo, gameID string) *State {
	t.Helper()
	st, err := repo.Load(context.Background(), gameID)
	require.NoError(t, err)
	return st
}

const horizontal = tile.OpenLeft | tile.OpenRight

func corridor(id string) tile.Spec {
	return tile.Spec{Tile: tile.Tile{ID: id, Orientation: horizontal}}
}

func room(id string) tile.Spec {
	return tile.Spec{Tile: tile.Tile{ID: id, Orientation: horizontal, Room: true}}
}

func guarded(spec tile.Spec, hp, damage int, loot *tile.Item) tile.Spec {
	spec.Monster = &tile.Monster{
		ID:     spec.Tile.ID + "-monster",
		Name:   "Skeleton",
		HP:     hp,
		Damage: damage,
		Loot:   loot,
	}
	return spec
}

func holding(spec tile.Spec, item tile.Item) tile.Spec {
	spec.Item = &item
	return spec
}

func weapon(id string, damage int) tile.Item {
	return tile.Item{ID: id, Name: "Sword", Type: tile.ItemWeapon, Damage: damage}
}

func treasure(id string, value int) tile.Item {
	return tile.Item{ID: id, Name: "Gold", Type: tile.ItemTreasure, Value: value}
}

// startGame creates a game with the given deck and dice, joins players and starts it.
func startGame(t *testing.T, e *Engine, deck []tile.Spec, dice []int, players ...string) string {
	t.Helper()
	res := mustExec(t, e, CreateGame{Overrides: &Overrides{Deck: deck, Dice: dice}})
	for _, p := range players {
		mustExec(t, e, AddPlayer{GameID: res.GameID, PlayerID: p})
	}
	mustExec(t, e, StartGame{GameID: res.GameID})
	return res.GameID
}

// explore picks the next tile and places it at pos.
func explore(t *testing.T, e *Engine, gameID, playerID string, pos tile.Position) *Result {
	t.Helper()
	mustExec(t, e, PickTile{GameID: gameID, PlayerID: playerID})
	return mustExec(t, e, PlaceTile{GameID: gameID, PlayerID: playerID, Position: pos})
}

func eventTypes(res *Result) []string {
	out := make([]string, len(res.Events))
	for i, evt := range res.Events {
		out[i] = string(evt.Type)
	}
	return out
}

func currentTurnID(t *testing.T, e *Engine, gameID string) string {
	t.Helper()
	turn, err := e.GetCurrentTurn(context.Background(), gameID)
	require.NoError(t, err)
	return turn.ID
}

// endTurn ends the current turn on behalf of playerID.
func endTurn(t *testing.T, e *Engine, gameID, playerID string) *Result {
	t.Helper()
	return mustExec(t, e, EndTurn{GameID: gameID, PlayerID: playerID, TurnID: currentTurnID(t, e, gameID)})
}

// finalize resolves the current battle without spells.
func finalize(t *testing.T, e *Engine, gameID, playerID string, pickup bool) *Result {
	t.Helper()
	return mustExec(t, e, FinalizeBattle{GameID: gameID, PlayerID: playerID, TurnID: currentTurnID(t, e, gameID), PickupItem: pickup})
}
