package game

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dungeonforge/dungeon-server-go/internal/game/gameerr"
	"github.com/dungeonforge/dungeon-server-go/internal/game/rules"
	"github.com/dungeonforge/dungeon-server-go/internal/game/tile"
)

// Config tunes an Engine.
type Config struct {
	// AllowOverrides accepts per-game dice, deck and seed overrides on CreateGame.
	AllowOverrides  bool
	DefaultDeckSize int
	MaxPlayers      int
}

// Engine is the game lifecycle orchestrator. Every command runs as one unit of
// work: load the game's aggregates, run exactly one handler, drain the effects
// it queued, then save everything with the versions observed at load.
//
// The engine holds no game state between commands. Callers serialise commands
// per game; concurrent commands on one game surface as VERSION_CONFLICT.
type Engine struct {
	logger   *zap.Logger
	repo     Repository
	bus      *rules.EventBus
	cfg      Config
	handlers map[CommandKind]handler

	mu       sync.RWMutex
	clock    func() time.Time
	newID    func() string
	newSeed  func() (int64, error)
	recorder *ReplayRecorder
}

// NewEngine creates an engine over repo.
func NewEngine(logger *zap.Logger, repo Repository, cfg Config) *Engine {
	if cfg.DefaultDeckSize <= 0 {
		cfg.DefaultDeckSize = DefaultDeckSize
	}
	if cfg.MaxPlayers <= 0 || cfg.MaxPlayers > MaxPlayers {
		cfg.MaxPlayers = MaxPlayers
	}
	e := &Engine{
		logger:  logger,
		repo:    repo,
		bus:     rules.NewEventBus(),
		cfg:     cfg,
		clock:   func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
		newSeed: cryptoSeed,
	}
	e.registerHandlers()
	return e
}

func cryptoSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// Events returns the bus committed events are published on.
func (e *Engine) Events() *rules.EventBus {
	return e.bus
}

// SetClock replaces the time source used for timestamps.
func (e *Engine) SetClock(clock func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = clock
}

// SetIDGenerator replaces the generator used for new game ids.
func (e *Engine) SetIDGenerator(newID func() string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.newID = newID
}

// SetSeedSource replaces the source of game seeds.
func (e *Engine) SetSeedSource(newSeed func() (int64, error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.newSeed = newSeed
}

// SetReplayRecorder records a snapshot after every committed command.
func (e *Engine) SetReplayRecorder(recorder *ReplayRecorder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recorder = recorder
}

func (e *Engine) now() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.clock()
}

func (e *Engine) replayRecorder() *ReplayRecorder {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.recorder
}

// unitOfWork carries the state of one command from load to commit.
type unitOfWork struct {
	ctx      context.Context
	engine   *Engine
	state    *State
	expected Versions
	baseline map[string][]byte
	effects  *rules.EffectQueue
	events   []rules.Event
	now      time.Time
	result   Result
}

// Execute runs one command and commits its full cascade, or fails and commits nothing.
func (e *Engine) Execute(ctx context.Context, cmd Command) (*Result, error) {
	if cmd == nil {
		return nil, gameerr.New(gameerr.CodeInvalidArgument, "command is required")
	}
	h, ok := e.handlers[cmd.Kind()]
	if !ok {
		return nil, gameerr.WithMetadata(gameerr.CodeInvalidArgument, "unknown command", map[string]string{
			"kind": string(cmd.Kind()),
		})
	}

	u, err := e.begin(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if err := h(u, cmd); err != nil {
		e.logRejected(cmd, err)
		return nil, err
	}
	if _, err := u.effects.Drain(); err != nil {
		e.logRejected(cmd, err)
		return nil, err
	}
	return e.commit(u, cmd)
}

func (e *Engine) begin(ctx context.Context, cmd Command) (*unitOfWork, error) {
	u := &unitOfWork{
		ctx:      ctx,
		engine:   e,
		expected: make(Versions),
		baseline: make(map[string][]byte),
		effects:  rules.NewEffectQueue(),
		now:      e.now(),
	}
	if cmd.Kind() == CommandCreateGame {
		return u, nil
	}

	gameID := cmd.Game()
	if gameID == "" {
		return nil, gameerr.New(gameerr.CodeInvalidArgument, "game id is required")
	}
	state, err := e.repo.Load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if state.Game.Status == StatusFinished {
		return nil, gameerr.WithMetadata(gameerr.CodeGameFinished, "game already finished", map[string]string{
			"game_id": gameID,
		})
	}
	u.state = state
	u.expected = state.Versions()
	for _, a := range state.Aggregates() {
		data, err := json.Marshal(a.Value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", a.Key(), err)
		}
		u.baseline[a.Key()] = data
	}
	return u, nil
}

func (e *Engine) commit(u *unitOfWork, cmd Command) (*Result, error) {
	st := u.state
	g := st.Game
	u.result.GameID = g.ID

	for i := range u.events {
		g.EventSeq++
		evt := &u.events[i]
		evt.Seq = g.EventSeq
		evt.ID = tile.DeterministicID(g.ID, fmt.Sprintf("event/%d", evt.Seq))
		evt.GameID = g.ID
		evt.Timestamp = u.now
	}

	if err := validateState(st); err != nil {
		if e.logger != nil {
			e.logger.Error("invariant violated, command discarded",
				zap.String("game_id", g.ID),
				zap.String("command", string(cmd.Kind())),
				zap.Error(err),
			)
		}
		return nil, err
	}

	changed := 0
	for _, a := range st.Aggregates() {
		data, err := json.Marshal(a.Value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", a.Key(), err)
		}
		if prev, ok := u.baseline[a.Key()]; ok && bytes.Equal(prev, data) {
			continue
		}
		*a.Version++
		changed++
	}

	if changed == 0 {
		u.result.NoOp = true
		u.result.Versions = st.Versions()
		if e.logger != nil {
			e.logger.Debug("command accepted without changes",
				zap.String("game_id", g.ID),
				zap.String("command", string(cmd.Kind())),
			)
		}
		return &u.result, nil
	}

	if err := e.repo.SaveAll(u.ctx, st, u.expected); err != nil {
		if e.logger != nil {
			e.logger.Warn("failed to save game",
				zap.String("game_id", g.ID),
				zap.String("command", string(cmd.Kind())),
				zap.Error(err),
			)
		}
		return nil, err
	}

	u.result.Events = u.events
	u.result.Versions = st.Versions()
	e.bus.PublishBatch(u.events)
	e.record(u, cmd)

	if e.logger != nil {
		e.logger.Info("command committed",
			zap.String("game_id", g.ID),
			zap.String("command", string(cmd.Kind())),
			zap.String("player_id", cmd.Actor()),
			zap.Int("events", len(u.events)),
			zap.Int("aggregates_changed", changed),
			zap.Int64("game_version", g.Version),
		)
	}
	return &u.result, nil
}

func (e *Engine) record(u *unitOfWork, cmd Command) {
	rec := e.replayRecorder()
	if rec == nil {
		return
	}
	gameID := u.state.Game.ID
	if cmd.Kind() == CommandCreateGame {
		rec.StartRecording(gameID)
	}
	rec.RecordState(gameID, NewSnapshot(u.state, string(cmd.Kind()), u.now))
	if u.state.Game.Status == StatusFinished && rec.saveDir != "" {
		if err := rec.SaveReplay(gameID); err != nil && e.logger != nil {
			e.logger.Warn("failed to save replay",
				zap.String("game_id", gameID),
				zap.Error(err),
			)
		}
	}
}

func (e *Engine) logRejected(cmd Command, err error) {
	if e.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("game_id", cmd.Game()),
		zap.String("command", string(cmd.Kind())),
		zap.String("player_id", cmd.Actor()),
		zap.String("code", string(gameerr.CodeOf(err))),
		zap.Error(err),
	}
	var domainErr *gameerr.Error
	if errors.As(err, &domainErr) && domainErr.Code.Kind() != gameerr.KindInvariant {
		e.logger.Debug("command rejected", fields...)
		return
	}
	e.logger.Warn("command failed", fields...)
}

// validateState checks the invariants every committed state must hold.
func validateState(st *State) error {
	for _, id := range st.Game.PlayerIDs {
		p, ok := st.Players[id]
		if !ok {
			return gameerr.WithMetadata(gameerr.CodeInvariantViolation, "roster references a missing player", map[string]string{
				"player_id": id,
			})
		}
		if p.HP < 0 || p.HP > p.MaxHP {
			return gameerr.WithMetadata(gameerr.CodeInvariantViolation, "player hp out of range", map[string]string{
				"player_id": id,
				"hp":        fmt.Sprintf("%d", p.HP),
			})
		}
		if err := p.Inventory.Validate(); err != nil {
			return err
		}
	}
	if err := st.Field.Validate(); err != nil {
		return gameerr.Wrap(gameerr.CodeInvariantViolation, "field graph is inconsistent", err)
	}
	return nil
}

// emit queues an event for publication once the command commits.
func (u *unitOfWork) emit(evt rules.Event) {
	u.events = append(u.events, evt)
}
