package app

import (
	"log/slog"
	"sync"
	"time"
)

// Event types
const (
	EventNetworkState  = "network_state"
	EventJoinState     = "join_state"
	EventButton        = "button"
	EventSample        = "sample"
	EventConfigChanged = "config_changed"
)

// Event is a node event published to the web and MQTT surfaces.
type Event struct {
	Type string      `json:"type"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data"`
}

// NetworkStateData accompanies EventNetworkState.
type NetworkStateData struct {
	State   string `json:"state"`
	Reason  string `json:"reason"`
	Channel uint8  `json:"channel,omitempty"`
	PanID   uint16 `json:"pan_id,omitempty"`
}

// JoinStateData accompanies EventJoinState.
type JoinStateData struct {
	Outcome string `json:"outcome"`
	Attempt int    `json:"attempt"`
	Error   string `json:"error,omitempty"`
}

// ButtonData accompanies EventButton.
type ButtonData struct {
	Action string `json:"action"`
	Joined bool   `json:"joined"`
}

// ConfigChangedData accompanies EventConfigChanged.
type ConfigChangedData struct {
	Attr  string      `json:"attr"`
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// EventHandler is a callback for events. Handlers run on the main loop and
// must not block.
type EventHandler func(Event)

// EventBus fans node events out to subscribers.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[string]map[uint64]EventHandler
	allHandlers map[uint64]EventHandler
	nextID      uint64
	logger      *slog.Logger
}

// NewEventBus creates an empty bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers:    make(map[string]map[uint64]EventHandler),
		allHandlers: make(map[uint64]EventHandler),
		logger:      logger,
	}
}

// On subscribes to one event type and returns the unsubscribe function.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	if eb.handlers[eventType] == nil {
		eb.handlers[eventType] = make(map[uint64]EventHandler)
	}
	eb.handlers[eventType][id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.handlers[eventType], id)
	}
}

// OnAll subscribes to every event type.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	eb.allHandlers[id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.allHandlers, id)
	}
}

// Emit delivers an event synchronously. A panicking handler is recovered
// and logged.
func (eb *EventBus) Emit(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.handlers[event.Type])+len(eb.allHandlers))
	for _, h := range eb.handlers[event.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range eb.allHandlers {
		handlers = append(handlers, h)
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "type", event.Type, "panic", r)
				}
			}()
			h(event)
		}()
	}
}
