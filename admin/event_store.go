package admin

import (
	"context"
	"sync"
	"time"

	"fundflow/event"
)

// EventStore is an in-memory ring buffer of engine events backing the
// operator event feed. It keeps at most maxEvents entries, dropping the
// oldest when the cap is exceeded.
type EventStore struct {
	events    []StoredEvent
	maxEvents int
	mu        sync.RWMutex
	nextID    int64
}

// StoredEvent is one captured engine event.
type StoredEvent struct {
	ID            int64          `json:"id"`
	Type          string         `json:"type"`
	WorkflowID    string         `json:"workflow_id"`
	CorrelationID string         `json:"correlation_id"`
	Kind          string         `json:"kind"`
	Activity      string         `json:"activity,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Data          map[string]any `json:"data,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// EventFilter selects events for listing.
type EventFilter struct {
	// Type filters on the event type, empty matches all.
	Type string
	// WorkflowID filters on the workflow instance, empty matches all.
	WorkflowID string
	// Limit caps the number of returned events.
	Limit int
	// Offset skips that many matching events.
	Offset int
}

// NewEventStore creates an event store holding at most maxEvents entries.
func NewEventStore(maxEvents int) *EventStore {
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	return &EventStore{
		events:    make([]StoredEvent, 0, maxEvents),
		maxEvents: maxEvents,
	}
}

// Store captures one engine event.
func (s *EventStore) Store(e event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++

	var errorMsg string
	if e.Error != nil {
		errorMsg = e.Error.Error()
	}

	stored := StoredEvent{
		ID:            s.nextID,
		Type:          string(e.Type),
		WorkflowID:    e.WorkflowID,
		CorrelationID: e.CorrelationID,
		Kind:          e.Kind,
		Activity:      e.Activity,
		Timestamp:     e.Timestamp,
		Data:          e.Data,
		Error:         errorMsg,
	}

	s.events = append(s.events, stored)

	if len(s.events) > s.maxEvents {
		excess := len(s.events) - s.maxEvents
		s.events = s.events[excess:]
	}
}

// List returns the matching events, newest first.
func (s *EventStore) List(filter EventFilter) []StoredEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	var filtered []StoredEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]

		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.WorkflowID != "" && e.WorkflowID != filter.WorkflowID {
			continue
		}

		filtered = append(filtered, e)
	}

	if filter.Offset >= len(filtered) {
		return []StoredEvent{}
	}

	start := filter.Offset
	end := start + filter.Limit
	if end > len(filtered) {
		end = len(filtered)
	}

	return filtered[start:end]
}

// Count returns the number of events matching the filter.
func (s *EventStore) Count(filter EventFilter) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if filter.Type == "" && filter.WorkflowID == "" {
		return len(s.events)
	}

	count := 0
	for _, e := range s.events {
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.WorkflowID != "" && e.WorkflowID != filter.WorkflowID {
			continue
		}
		count++
	}
	return count
}

// EventHandler returns a handler capturing every published event, suitable
// for EventBus.SubscribeAll.
func (s *EventStore) EventHandler() event.EventHandler {
	return func(ctx context.Context, e event.Event) error {
		s.Store(e)
		return nil
	}
}

// Clear drops all stored events.
func (s *EventStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make([]StoredEvent, 0, s.maxEvents)
}

// Len returns the number of stored events.
func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// GetEventTypes returns the distinct types of all stored events.
func (s *EventStore) GetEventTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	typeSet := make(map[string]struct{})
	for _, e := range s.events {
		typeSet[e.Type] = struct{}{}
	}

	types := make([]string, 0, len(typeSet))
	for t := range typeSet {
		types = append(types, t)
	}
	return types
}
