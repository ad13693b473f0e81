// Package events provides the in-process event bus used to broadcast job and
// schedule lifecycle events to interested components (SSE stream, logging).
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies a category of event
type EventType string

const (
	JobQueued       EventType = "job_queued"
	JobStarted      EventType = "job_started"
	JobCompleted    EventType = "job_completed"
	JobFailed       EventType = "job_failed"
	ScheduleCreated EventType = "schedule_created"
	ScheduleRemoved EventType = "schedule_removed"
)

// Event is a single emitted event
type Event struct {
	Type      EventType
	Source    string
	Timestamp time.Time
	Data      EventData
}

// Handler processes an event. Handlers run synchronously on the emitter's
// goroutine and must not block.
type Handler func(event *Event)

// Bus is a simple synchronous publish/subscribe event bus
type Bus struct {
	handlers    map[EventType][]Handler
	allHandlers map[uint64]Handler
	nextAllID   uint64
	mu          sync.RWMutex
	log         zerolog.Logger
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers:    make(map[EventType][]Handler),
		allHandlers: make(map[uint64]Handler),
		log:         log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll registers a handler for every event type. The returned
// function removes the handler again; transient subscribers such as SSE
// connections must call it when they disconnect.
func (b *Bus) SubscribeAll(handler Handler) func() {
	b.mu.Lock()
	id := b.nextAllID
	b.nextAllID++
	b.allHandlers[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.allHandlers, id)
		b.mu.Unlock()
	}
}

// Emit publishes a typed event to all matching handlers
func (b *Bus) Emit(source string, data EventData) {
	event := &Event{
		Type:      data.EventType(),
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	b.mu.RLock()
	typed := make([]Handler, len(b.handlers[event.Type]))
	copy(typed, b.handlers[event.Type])
	all := make([]Handler, 0, len(b.allHandlers))
	for _, h := range b.allHandlers {
		all = append(all, h)
	}
	b.mu.RUnlock()

	for _, h := range typed {
		h(event)
	}
	for _, h := range all {
		h(event)
	}

	b.log.Debug().
		Str("event_type", string(event.Type)).
		Str("source", source).
		Msg("Event emitted")
}
