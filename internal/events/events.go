package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"dayroll/internal/models"

	"github.com/rs/zerolog"
)

const (
	EventTasksChanged  = "tasks_changed"
	EventSyncCompleted = "sync_completed"
)

// Origin tells whether a change was made by the user or applied from a remote copy.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// TasksChanged describes one mutation of the local task collection.
// Days lists every day whose set changed, old and new.
type TasksChanged struct {
	Operation string       `json:"operation"`
	Days      []models.Day `json:"days"`
	TaskIDs   []string     `json:"task_ids,omitempty"`
	Origin    Origin       `json:"origin"`
}

// SyncCompleted is published after every finished sync run.
type SyncCompleted struct {
	Direction  models.SyncDirection `json:"direction"`
	OK         bool                 `json:"ok"`
	DaysOK     int                  `json:"days_ok"`
	DaysFailed int                  `json:"days_failed"`
	Error      string               `json:"error,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        uint64
	Type      string
	Data      any
	CreatedAt time.Time
}

// JSON returns the event data serialized for external consumers.
func (e Event) JSON() ([]byte, error) {
	return json.Marshal(e.Data)
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

type subscription struct {
	id      uint64
	handler EventHandler
}

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]subscription
	mu          sync.RWMutex
	nextID      uint64
	seq         uint64
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus. logger may be nil.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EventBus{subscribers: make(map[string][]subscription), logger: logger}
}

// Subscribe registers a handler for a given event type and returns a func that removes it.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subscribers[eventType]
			for i, s := range subs {
				if s.id == id {
					b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish notifies subscribers of the event type. Handlers run synchronously
// on the caller's goroutine; a failing or panicking handler does not stop the rest.
func (b *EventBus) Publish(eventType string, data any) {
	if b == nil {
		return
	}

	b.mu.Lock()
	b.seq++
	event := Event{ID: b.seq, Type: eventType, Data: data, CreatedAt: time.Now()}
	handlers := append([]subscription(nil), b.subscribers[eventType]...)
	b.mu.Unlock()

	for _, s := range handlers {
		if err := b.dispatch(s.handler, event); err != nil {
			b.logger.Error().Err(err).Str("event", eventType).Uint64("event_id", event.ID).Msg("event handler failed")
		}
	}
}

func (b *EventBus) dispatch(handler EventHandler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(event)
}
