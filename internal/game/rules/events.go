package rules

import (
	"sort"
	"sync"
	"time"

	"github.com/dungeonforge/dungeon-server-go/internal/game/tile"
)

// EventType indicates the category of a game event.
type EventType string

const (
	// Lifecycle events
	EventGameCreated   EventType = "GAME_CREATED"
	EventPlayerAdded   EventType = "PLAYER_ADDED"
	EventGameStarted   EventType = "GAME_STARTED"
	EventGameEnded     EventType = "GAME_ENDED"
	EventDeckExhausted EventType = "DECK_EXHAUSTED"

	// Turn events
	EventTurnStarted         EventType = "TURN_STARTED"
	EventTurnEnded           EventType = "TURN_ENDED"
	EventTurnActionPerformed EventType = "TURN_ACTION_PERFORMED"

	// Map and movement events
	EventTilePlaced             EventType = "TILE_PLACED"
	EventPlayerMoved            EventType = "PLAYER_MOVED"
	EventPlayerHealedAtFountain EventType = "PLAYER_HEALED_AT_FOUNTAIN"

	// Combat events
	EventBattleStarted   EventType = "BATTLE_STARTED"
	EventBattleResolved  EventType = "BATTLE_RESOLVED"
	EventMonsterDefeated EventType = "MONSTER_DEFEATED"
	EventPlayerDamaged   EventType = "PLAYER_DAMAGED"
	EventPlayerStunned   EventType = "PLAYER_STUNNED"
	EventPlayerRevived   EventType = "PLAYER_REVIVED"

	// Inventory events
	EventItemAddedToInventory     EventType = "ITEM_ADDED_TO_INVENTORY"
	EventItemRemovedFromInventory EventType = "ITEM_REMOVED_FROM_INVENTORY"
	EventItemReplacedInInventory  EventType = "ITEM_REPLACED_IN_INVENTORY"
	EventSpellCast                EventType = "SPELL_CAST"
)

// Event is a fact about a game that external consumers may observe.
type Event struct {
	Type     EventType      `json:"type"`
	ID       string         `json:"id"`
	GameID   string         `json:"game_id"`
	PlayerID string         `json:"player_id,omitempty"`
	TargetID string         `json:"target_id,omitempty"` // Tile, item, monster or turn the event is about
	SourceID string         `json:"source_id,omitempty"`
	Amount   int            `json:"amount,omitempty"`
	Position *tile.Position `json:"position,omitempty"`
	// Seq orders the events of one game; assigned on commit.
	Seq       int64             `json:"seq"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Scores    map[string]int    `json:"scores,omitempty"`
	Winners   []string          `json:"winners,omitempty"`
}

// NewEvent creates a new event with common fields populated.
func NewEvent(eventType EventType, gameID, playerID, targetID string) Event {
	return Event{
		Type:     eventType,
		GameID:   gameID,
		PlayerID: playerID,
		TargetID: targetID,
		Metadata: make(map[string]string),
	}
}

// NewEventWithAmount creates a new event with an amount value.
func NewEventWithAmount(eventType EventType, gameID, playerID, targetID string, amount int) Event {
	evt := NewEvent(eventType, gameID, playerID, targetID)
	evt.Amount = amount
	return evt
}

// At returns a copy of the event pinned to a position.
func (e Event) At(p tile.Position) Event {
	e.Position = &p
	return e
}

// With returns a copy of the event with one more metadata entry.
func (e Event) With(key, value string) Event {
	md := make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		md[k] = v
	}
	md[key] = value
	e.Metadata = md
	return e
}

type Listener func(Event)

type TypedListener struct {
	Handle    int
	EventType EventType
	Callback  func(Event)
}

// EventBus delivers committed events to subscribers synchronously, in
// subscription order.
type EventBus struct {
	mu             sync.RWMutex
	listeners      map[int]Listener
	typedListeners map[EventType][]TypedListener
	nextHandle     int
}

func NewEventBus() *EventBus {
	return &EventBus{
		listeners:      make(map[int]Listener),
		typedListeners: make(map[EventType][]TypedListener),
	}
}

func (bus *EventBus) Subscribe(listener Listener) int {
	if listener == nil {
		return -1
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	handle := bus.nextHandle
	bus.nextHandle++
	bus.listeners[handle] = listener
	return handle
}

func (bus *EventBus) SubscribeTyped(eventType EventType, callback func(Event)) int {
	if callback == nil {
		return -1
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	handle := bus.nextHandle
	bus.nextHandle++
	bus.typedListeners[eventType] = append(bus.typedListeners[eventType], TypedListener{
		Handle:    handle,
		EventType: eventType,
		Callback:  callback,
	})
	return handle
}

// Unsubscribe removes a listener registered with either Subscribe or SubscribeTyped.
func (bus *EventBus) Unsubscribe(handle int) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	delete(bus.listeners, handle)
	for eventType, listeners := range bus.typedListeners {
		for i := len(listeners) - 1; i >= 0; i-- {
			if listeners[i].Handle == handle {
				bus.typedListeners[eventType] = append(listeners[:i:i], listeners[i+1:]...)
				break
			}
		}
	}
}

func (bus *EventBus) Publish(event Event) {
	bus.mu.RLock()
	handles := make([]int, 0, len(bus.listeners))
	for h := range bus.listeners {
		handles = append(handles, h)
	}
	sort.Ints(handles)
	general := make([]Listener, 0, len(handles))
	for _, h := range handles {
		general = append(general, bus.listeners[h])
	}
	typed := append([]TypedListener(nil), bus.typedListeners[event.Type]...)
	bus.mu.RUnlock()

	for _, listener := range general {
		listener(event)
	}
	for _, listener := range typed {
		listener.Callback(event)
	}
}

// PublishBatch publishes events in order.
func (bus *EventBus) PublishBatch(events []Event) {
	for _, event := range events {
		bus.Publish(event)
	}
}
