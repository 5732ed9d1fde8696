package events

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"offer-attribution/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventRunCompleted is emitted after a pipeline run produced its tables
	EventRunCompleted EventType = "run.completed"
	// EventRunFailed is emitted when a run was rejected or could not be stored
	EventRunFailed EventType = "run.failed"
	// EventRunDeleted is emitted when a stored run is removed
	EventRunDeleted EventType = "run.deleted"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// RunCompletedData contains data for run completed events.
type RunCompletedData struct {
	Summary models.RunSummary
}

// RunFailedData contains data for run failed events.
type RunFailedData struct {
	Stage string
	Err   error
}

// RunDeletedData contains data for run deleted events.
type RunDeletedData struct {
	RunID string
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
	inflight sync.WaitGroup
}

// NewManager creates a new event manager.
func NewManager(enabled bool) *Manager {
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return
	}

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish publishes an event to all subscribed handlers. Handlers run
// asynchronously; their errors are logged.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	m.mu.RLock()
	handlers := m.handlers[eventType]
	enabled := m.enabled
	m.mu.RUnlock()

	if !enabled || len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	// handlers outlive the request that published the event
	ctx = context.WithoutCancel(ctx)
	for _, handler := range handlers {
		m.inflight.Add(1)
		go func(h Handler) {
			defer m.inflight.Done()
			if err := h(ctx, event); err != nil {
				log.WithError(err).WithField("event", eventType).Warn("Event handler failed")
			}
		}(handler)
	}
}

// PublishRunCompleted publishes a run completed event.
func (m *Manager) PublishRunCompleted(ctx context.Context, summary models.RunSummary) {
	m.Publish(ctx, EventRunCompleted, RunCompletedData{Summary: summary})
}

// PublishRunFailed publishes a run failed event.
func (m *Manager) PublishRunFailed(ctx context.Context, stage string, err error) {
	m.Publish(ctx, EventRunFailed, RunFailedData{Stage: stage, Err: err})
}

// PublishRunDeleted publishes a run deleted event.
func (m *Manager) PublishRunDeleted(ctx context.Context, runID string) {
	m.Publish(ctx, EventRunDeleted, RunDeletedData{RunID: runID})
}

// Wait blocks until every handler started so far has returned.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

// Shutdown stops accepting events and waits for running handlers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
	m.mu.Unlock()

	m.Wait()
}
