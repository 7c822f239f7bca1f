package batch

import (
	"sync"
	"time"

	"micetrack/internal/backend"
)

// EventType classifies batch lifecycle events
type EventType string

const (
	EventBatchStarted  EventType = "batch_started"
	EventBatchFinished EventType = "batch_finished"
	EventBatchStopped  EventType = "batch_stopped"
	EventJobStatus     EventType = "job_status"
	EventJobProgress   EventType = "job_progress"
)

// Event is one batch or job lifecycle transition
type Event struct {
	Type      EventType        `json:"type"`
	BatchID   string           `json:"batch_id"`
	Index     int              `json:"index"` // queue position of the job, -1 for batch-level events
	Job       backend.Snapshot `json:"job,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// EventHandler receives published events
type EventHandler func(*Event)

// EventBus provides pub/sub for batch lifecycle events.
// Subscribers include the websocket hub, metrics and the console log.
type EventBus struct {
	subscribers map[*eventSubscription]bool
	mu          sync.RWMutex
}

type eventSubscription struct {
	channel chan *Event
	handler EventHandler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]bool),
	}
}

// Subscribe registers a handler for all events.
// Returns an unsubscribe function.
func (b *EventBus) Subscribe(handler EventHandler) func() {
	sub := &eventSubscription{handler: handler}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// SubscribeChannel returns a buffered channel that receives events. Events
// are dropped for subscribers whose channel is full rather than blocking the
// orchestrator. Returns the channel and an unsubscribe function.
func (b *EventBus) SubscribeChannel(bufferSize int) (<-chan *Event, func()) {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	ch := make(chan *Event, bufferSize)
	sub := &eventSubscription{channel: ch}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
		close(ch)
	}
}

// Publish delivers an event to all subscribers.
func (b *EventBus) Publish(ev *Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := make([]*eventSubscription, 0, len(b.subscribers))
	for sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.handler != nil {
			sub.handler(ev)
		}
		if sub.channel != nil {
			select {
			case sub.channel <- ev:
			default: // slow subscriber, drop
			}
		}
	}
}
