// Package event provides event definitions and the event bus for the
// workflow engine. Alert events are the operational side channel required
// for compensation failures and forced terminations.
package event

import (
	"time"
)

// EventType identifies a lifecycle or alert event
type EventType string

const (
	// Workflow lifecycle events
	EventWorkflowStarted   EventType = "workflow.started"
	EventWorkflowAwaiting  EventType = "workflow.awaiting_signal"
	EventWorkflowFinalized EventType = "workflow.finalized"
	EventWorkflowFailed    EventType = "workflow.failed"

	// Signal events
	EventSignalDelivered EventType = "signal.delivered"
	EventSignalRejected  EventType = "signal.rejected"
	EventSignalTimeout   EventType = "signal.timeout"

	// Activity lifecycle events
	EventActivityStarted   EventType = "activity.started"
	EventActivityCompleted EventType = "activity.completed"
	EventActivityFailed    EventType = "activity.failed"

	// Compensation events
	EventCompensationStarted   EventType = "compensation.started"
	EventCompensationCompleted EventType = "compensation.completed"
	EventCompensationFailed    EventType = "compensation.failed"

	// Reconciliation events
	EventReconcileStarted  EventType = "reconcile.started"
	EventReconcileResolved EventType = "reconcile.resolved"
	EventReconcileDeferred EventType = "reconcile.deferred"

	// Circuit breaker events
	EventCircuitOpened EventType = "circuit.opened"
	EventCircuitClosed EventType = "circuit.closed"

	// Operator events
	EventOperatorAcknowledged EventType = "operator.acknowledged"

	// Alert events
	EventAlertWarning  EventType = "alert.warning"
	EventAlertCritical EventType = "alert.critical"
)

// Event carries the context of one engine occurrence
type Event struct {
	Type          EventType      // event type
	WorkflowID    string         // workflow instance id
	CorrelationID string         // caller-visible correlation id
	Kind          string         // saga kind (topup / withdraw)
	Activity      string         // activity name, set on activity events
	Timestamp     time.Time      // event timestamp
	Data          map[string]any // additional payload
	Error         error          // error, set on failure events
}

// NewEvent creates a new event with the given type and automatically sets the timestamp.
func NewEvent(eventType EventType) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      make(map[string]any),
	}
}

// WithWorkflowID sets the workflow instance id on the event.
func (e Event) WithWorkflowID(id string) Event {
	e.WorkflowID = id
	return e
}

// WithCorrelationID sets the correlation id on the event.
func (e Event) WithCorrelationID(id string) Event {
	e.CorrelationID = id
	return e
}

// WithKind sets the saga kind on the event.
func (e Event) WithKind(kind string) Event {
	e.Kind = kind
	return e
}

// WithActivity sets the activity name on the event.
func (e Event) WithActivity(activity string) Event {
	e.Activity = activity
	return e
}

// WithError sets the error on the event.
func (e Event) WithError(err error) Event {
	e.Error = err
	return e
}

// WithData sets a key-value pair in the event data.
func (e Event) WithData(key string, value any) Event {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// IsAlert returns true for operational alert events.
func (t EventType) IsAlert() bool {
	return t == EventAlertWarning || t == EventAlertCritical
}

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}
