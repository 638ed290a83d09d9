package fundflow

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowInstance is the durable state of one top-up or withdraw saga.
// Every field generated before a suspension point (transfer reference,
// authorization handle, signal deadline) is produced exactly once and
// persisted before the instance suspends, so a resumed run replays the
// recorded values instead of minting new ones.
type WorkflowInstance struct {
	// ID is the storage row id
	ID int64

	// WorkflowID is the engine-assigned unique instance identifier
	WorkflowID string

	// CorrelationID is the caller-visible identifier, unique per instance
	CorrelationID string

	// Kind is the saga kind (top-up or withdraw)
	Kind Kind

	// Status is the current lifecycle status
	Status Status

	// Request identity
	UserID     string
	AccountKey string
	Amount     int64
	Currency   string

	// TransferReference is the bank-side transfer identifier, assigned at
	// initiation and stable for status lookups and reversal
	TransferReference string

	// AuthorizationHandle is the opaque handle consumed by the finalize call
	AuthorizationHandle string

	// ReceiptID is the bank receipt recorded when finalize succeeds
	ReceiptID string

	// BrokerOperationID is the broker-side operation identifier
	BrokerOperationID string

	// Signal bookkeeping. SignalPayload is stored on durable acceptance and
	// empty before it; SignalReceivedAt doubles as the single-shot marker.
	SignalDeadline   *time.Time
	SignalPayload    string
	SignalReceivedAt *time.Time

	// CurrentStep is the finalization progress cursor: 0 before finalize,
	// 1 after the transfer finalized, 2 after the broker operation completed.
	// A resumed run re-enters the finalization list at this index.
	CurrentStep int

	// ReconcileAttempts counts reconciliation verification passes
	ReconcileAttempts int

	// ManualReview flags the instance for operator attention
	ManualReview bool

	// ErrorMsg records the terminal failure reason
	ErrorMsg string

	// Version is the optimistic locking counter
	Version int

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time

	// DeadlineAt is the absolute instance deadline; past it the instance is
	// force-terminated rather than silently abandoned
	DeadlineAt *time.Time
}

// Finalization cursor values recorded in CurrentStep.
const (
	// StepNone means no finalization activity has completed
	StepNone = 0
	// StepTransferFinalized means the irreversible bank finalize succeeded
	StepTransferFinalized = 1
	// StepBrokerCompleted means the broker operation was recorded
	StepBrokerCompleted = 2
)

// NewInstance creates a workflow instance for the given request. The
// workflow id is always engine-assigned; the correlation id is taken from
// the request when present so callers can create idempotently.
func NewInstance(req *StartRequest) *WorkflowInstance {
	now := time.Now()
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	return &WorkflowInstance{
		WorkflowID:    uuid.New().String(),
		CorrelationID: correlationID,
		Kind:          req.Kind,
		Status:        StatusInitialized,
		UserID:        req.UserID,
		AccountKey:    req.AccountKey,
		Amount:        req.Amount,
		Currency:      req.Currency,
		CurrentStep:   StepNone,
		Version:       0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsTerminal returns true if the instance is in a terminal status.
func (w *WorkflowInstance) IsTerminal() bool {
	return IsTerminal(w.Status)
}

// SignalAccepted returns true if an authorization signal was durably accepted.
func (w *WorkflowInstance) SignalAccepted() bool {
	return w.SignalReceivedAt != nil
}

// TransferFinalized returns true if the irreversible bank finalize completed,
// which is the condition for compensation on any later failure.
func (w *WorkflowInstance) TransferFinalized() bool {
	return w.CurrentStep >= StepTransferFinalized
}

// DeadlinePassed returns true if the absolute instance deadline has passed.
func (w *WorkflowInstance) DeadlinePassed(now time.Time) bool {
	return w.DeadlineAt != nil && now.After(*w.DeadlineAt)
}

// IncrementVersion increments the version for optimistic locking.
func (w *WorkflowInstance) IncrementVersion() {
	w.Version++
	w.UpdatedAt = time.Now()
}

// Snapshot returns the read-only view exposed by query and signal.
func (w *WorkflowInstance) Snapshot() *Snapshot {
	return &Snapshot{
		CorrelationID:     w.CorrelationID,
		WorkflowID:        w.WorkflowID,
		Kind:              w.Kind,
		Status:            w.Status,
		AccountKey:        w.AccountKey,
		Amount:            w.Amount,
		Currency:          w.Currency,
		TransferReference: w.TransferReference,
		BrokerOperationID: w.BrokerOperationID,
		ManualReview:      w.ManualReview,
		ErrorMsg:          w.ErrorMsg,
		SignalDeadline:    w.SignalDeadline,
		CreatedAt:         w.CreatedAt,
		UpdatedAt:         w.UpdatedAt,
		CompletedAt:       w.CompletedAt,
	}
}

// HistoryEvent is one append-only audit record. Events of one instance are
// strictly sequenced by Seq and never mutated or reordered.
type HistoryEvent struct {
	ID         int64
	WorkflowID string
	Seq        int
	Phase      Phase
	Activity   string
	Outcome    Outcome
	Class      Class
	Attempts   int
	Detail     string
	CreatedAt  time.Time
}

// NewHistoryEvent creates a history event for the given instance and sequence.
func NewHistoryEvent(workflowID string, seq int, phase Phase, activity string, outcome Outcome) *HistoryEvent {
	return &HistoryEvent{
		WorkflowID: workflowID,
		Seq:        seq,
		Phase:      phase,
		Activity:   activity,
		Outcome:    outcome,
		CreatedAt:  time.Now(),
	}
}
