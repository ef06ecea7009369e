package events

import (
	"log/slog"
	"sync"
	"time"

	"fieldsync/internal/logging"
	"fieldsync/internal/queue"
)

// Type enumerates the lifecycle events engines publish.
type Type string

const (
	EventAdded           Type = "added"
	EventUpdated         Type = "updated"
	EventStateChanged    Type = "state_changed"
	EventSyncStarted     Type = "sync_started"
	EventProgressUpdated Type = "progress_updated"
	EventSyncCompleted   Type = "sync_completed"
	EventSyncError       Type = "sync_error"
)

// Event is one in-process notification. Delivery is best-effort and never
// persisted; consumers that miss events recover by re-querying the engine.
type Event struct {
	Type     Type
	Family   queue.Family
	LocalID  string
	State    queue.State
	Progress int
	// Count carries the actionable item total on syncStarted and the
	// failure total on syncCompleted.
	Count int
	Error string
	At    time.Time
}

// Handler receives published events.
type Handler interface {
	HandleEvent(Event)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(Event)

func (f HandlerFunc) HandleEvent(evt Event) { f(evt) }

// Bus fans events out to registered handlers in process. A misbehaving
// handler never disturbs the publisher or other handlers.
type Bus struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]Handler
	logger   *slog.Logger
}

// NewBus constructs an event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[int]Handler),
		logger:   logging.NewComponentLogger(logger, "events"),
	}
}

// Subscribe registers a handler and returns its unsubscribe function.
func (b *Bus) Subscribe(handler Handler) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Publish delivers the event to every subscribed handler.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, handler := range b.handlers {
		handlers = append(handlers, handler)
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.deliver(handler, evt)
	}
}

func (b *Bus) deliver(handler Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				logging.String("event", string(evt.Type)),
				logging.Any("panic", r),
			)
		}
	}()
	handler.HandleEvent(evt)
}
