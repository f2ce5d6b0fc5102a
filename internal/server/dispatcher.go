package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dungeonforge/dungeon-server-go/internal/game"
	"github.com/dungeonforge/dungeon-server-go/internal/game/gameerr"
)

// Executor runs one command.
type Executor interface {
	Execute(ctx context.Context, cmd game.Command) (*game.Result, error)
}

// gameLocks hands out one mutex per game id and forgets it once unused.
type gameLocks struct {
	mu    sync.Mutex
	locks map[string]*gameLock
}

type gameLock struct {
	mu   sync.Mutex
	refs int
}

func newGameLocks() *gameLocks {
	return &gameLocks{locks: make(map[string]*gameLock)}
}

func (l *gameLocks) lock(gameID string) func() {
	l.mu.Lock()
	entry, ok := l.locks[gameID]
	if !ok {
		entry = &gameLock{}
		l.locks[gameID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, gameID)
		}
		l.mu.Unlock()
	}
}

func (l *gameLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// Dispatcher serialises commands per game in front of an Executor and
// retries a command once when it loses a version race.
type Dispatcher struct {
	exec    Executor
	locks   *gameLocks
	timeout time.Duration
	logger  *zap.Logger
}

// NewDispatcher wraps exec. A zero timeout leaves the caller's deadline alone.
func NewDispatcher(exec Executor, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		exec:    exec,
		locks:   newGameLocks(),
		timeout: timeout,
		logger:  logger,
	}
}

// Execute runs cmd while holding the lock of its game.
func (d *Dispatcher) Execute(ctx context.Context, cmd game.Command) (*game.Result, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	if gameID := cmd.Game(); gameID != "" {
		unlock := d.locks.lock(gameID)
		defer unlock()
	}

	res, err := d.exec.Execute(ctx, cmd)
	if err == nil || !errors.Is(err, gameerr.ErrVersionConflict) {
		return res, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, err
	}
	if d.logger != nil {
		d.logger.Info("retrying command after version conflict",
			zap.String("game_id", cmd.Game()),
			zap.String("command", string(cmd.Kind())),
			zap.String("player_id", cmd.Actor()),
		)
	}
	return d.exec.Execute(ctx, cmd)
}
