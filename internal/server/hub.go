package server

import (
	"sync"

	"go.uber.org/zap"

	"github.com/dungeonforge/dungeon-server-go/internal/game/rules"
)

// Envelope types sent to subscribers.
const (
	EnvelopeEvent  = "event"
	EnvelopeResult = "result"
	EnvelopeError  = "error"
)

// Envelope is one message pushed to a subscriber.
type Envelope struct {
	Type   string `json:"type"`
	GameID string `json:"game_id,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// Subscriber receives the events of one game, or of every game when its
// game id is empty. The channel is closed when the subscriber is dropped.
type Subscriber struct {
	gameID string
	send   chan Envelope
}

// C returns the delivery channel.
func (s *Subscriber) C() <-chan Envelope {
	return s.send
}

// GameID returns the game the subscriber follows.
func (s *Subscriber) GameID() string {
	return s.gameID
}

// Hub fans committed game events out to subscribers. Publish never blocks:
// a subscriber whose buffer is full is dropped and its channel closed.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscriber]struct{}
	buffer int
	logger *zap.Logger

	bus    *rules.EventBus
	handle int
}

// NewHub creates a hub whose subscribers buffer up to buffer envelopes.
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		subs:   make(map[string]map[*Subscriber]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a subscriber for gameID.
func (h *Hub) Subscribe(gameID string) *Subscriber {
	sub := &Subscriber{gameID: gameID, send: make(chan Envelope, h.buffer)}
	h.mu.Lock()
	set, ok := h.subs[gameID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[gameID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes its channel. Removing a dropped
// subscriber is a no-op.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscriber) {
	set, ok := h.subs[sub.gameID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.send)
	if len(set) == 0 {
		delete(h.subs, sub.gameID)
	}
}

// Publish delivers evt to the subscribers of its game and to those following every game.
func (h *Hub) Publish(evt rules.Event) {
	env := Envelope{Type: EnvelopeEvent, GameID: evt.GameID, Data: evt}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, key := range []string{evt.GameID, ""} {
		for sub := range h.subs[key] {
			select {
			case sub.send <- env:
			default:
				if h.logger != nil {
					h.logger.Warn("dropping slow subscriber",
						zap.String("game_id", sub.gameID),
						zap.String("event", string(evt.Type)),
					)
				}
				h.removeLocked(sub)
			}
		}
		if evt.GameID == "" {
			break
		}
	}
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// Attach follows bus until Detach is called.
func (h *Hub) Attach(bus *rules.EventBus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bus != nil {
		return
	}
	h.bus = bus
	h.handle = bus.Subscribe(h.Publish)
}

// Detach stops following the bus and drops every subscriber.
func (h *Hub) Detach() {
	h.mu.Lock()
	bus, handle := h.bus, h.handle
	h.bus = nil
	for _, set := range h.subs {
		for sub := range set {
			h.removeLocked(sub)
		}
	}
	h.mu.Unlock()
	if bus != nil {
		bus.Unsubscribe(handle)
	}
}
