package rules

import (
	"errors"
	"fmt"
)

// EffectKind describes a follow-up a command produced.
type EffectKind string

const (
	// EffectTurnEnded asks the lifecycle to rotate to the next player.
	EffectTurnEnded EffectKind = "TURN_ENDED"
	// EffectEndGame asks the lifecycle to score and finish the game.
	EffectEndGame EffectKind = "END_GAME"
	// EffectDeckExhausted signals the last tile left the deck.
	EffectDeckExhausted EffectKind = "DECK_EXHAUSTED"
)

// MaxCascade bounds how many effects one command may resolve.
const MaxCascade = 256

// ErrCascadeTooLong is returned when effects keep producing effects past MaxCascade.
var ErrCascadeTooLong = errors.New("effect cascade exceeded limit")

// Effect is one pending follow-up inside a unit of work.
type Effect struct {
	Kind     EffectKind
	PlayerID string
	TurnID   string
	Metadata map[string]string
	Resolve  func() error
}

// EffectQueue is the FIFO of follow-ups produced while handling one command.
// It lives only for the duration of that command.
type EffectQueue struct {
	items []Effect
}

// NewEffectQueue creates an empty queue.
func NewEffectQueue() *EffectQueue {
	return &EffectQueue{items: make([]Effect, 0, 8)}
}

// Push appends an effect.
func (q *EffectQueue) Push(e Effect) {
	q.items = append(q.items, e)
}

// Pop removes the oldest effect.
func (q *EffectQueue) Pop() (Effect, bool) {
	if len(q.items) == 0 {
		return Effect{}, false
	}
	e := q.items[0]
	q.items = q.items[1:]
	return e, true
}

// Peek returns the oldest effect without removing it.
func (q *EffectQueue) Peek() (Effect, bool) {
	if len(q.items) == 0 {
		return Effect{}, false
	}
	return q.items[0], true
}

// Len returns the number of pending effects.
func (q *EffectQueue) Len() int {
	return len(q.items)
}

// IsEmpty returns whether the queue is empty.
func (q *EffectQueue) IsEmpty() bool {
	return len(q.items) == 0
}

// List returns a copy of pending effects, oldest first.
func (q *EffectQueue) List() []Effect {
	cpy := make([]Effect, len(q.items))
	copy(cpy, q.items)
	return cpy
}

// Drain resolves effects in order until the queue is empty. Resolving an
// effect may push more. It returns how many effects ran.
func (q *EffectQueue) Drain() (int, error) {
	n := 0
	for {
		e, ok := q.Pop()
		if !ok {
			return n, nil
		}
		n++
		if n > MaxCascade {
			return n, ErrCascadeTooLong
		}
		if e.Resolve == nil {
			continue
		}
		if err := e.Resolve(); err != nil {
			return n, fmt.Errorf("resolve %s: %w", e.Kind, err)
		}
	}
}
