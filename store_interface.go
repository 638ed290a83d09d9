package fundflow

import (
	"context"
	"time"
)

// InstanceStore defines the storage interface for workflow instances and
// history. This interface is implemented by store/mysql and store/memory.
//
// UpdateInstance is the engine's durable arbiter: it must apply the write
// only where the stored version equals the instance version minus one and
// return ErrVersionConflict otherwise. The signal-versus-deadline race is
// decided by whichever side commits its conditional update first.
type InstanceStore interface {
	// Instance operations
	CreateInstance(ctx context.Context, inst *WorkflowInstance) error
	UpdateInstance(ctx context.Context, inst *WorkflowInstance) error
	GetInstance(ctx context.Context, workflowID string) (*WorkflowInstance, error)
	GetInstanceByCorrelationID(ctx context.Context, correlationID string) (*WorkflowInstance, error)

	// HasActive reports whether any non-terminal instance other than
	// excludeWorkflowID exists for the account key
	HasActive(ctx context.Context, accountKey, excludeWorkflowID string) (bool, error)

	// History operations. History is append-only; AppendHistory must reject
	// duplicate (workflow id, seq) pairs with ErrDuplicateHistorySeq.
	AppendHistory(ctx context.Context, ev *HistoryEvent) error
	GetHistory(ctx context.Context, workflowID string) ([]*HistoryEvent, error)
	NextHistorySeq(ctx context.Context, workflowID string) (int, error)

	// Reconciliation queries
	GetReconcilable(ctx context.Context, createdAfter time.Time, maxAttempts, limit int) ([]*WorkflowInstance, error)
	GetExpiredAwaiting(ctx context.Context, asOf time.Time, limit int) ([]*WorkflowInstance, error)
	GetStuck(ctx context.Context, statuses []Status, olderThan time.Duration, limit int) ([]*WorkflowInstance, error)
	GetOverdue(ctx context.Context, asOf time.Time, limit int) ([]*WorkflowInstance, error)

	// Admin queries
	ListInstances(ctx context.Context, filter *InstanceFilter) ([]*WorkflowInstance, int64, error)

	// Idempotency operations
	CheckIdempotency(ctx context.Context, key string) (exists bool, result []byte, err error)
	MarkIdempotency(ctx context.Context, key string, result []byte, ttl time.Duration) error
	DeleteExpiredIdempotency(ctx context.Context) (int64, error)
}

// InstanceFilter defines filters for listing instances.
type InstanceFilter struct {
	Status       []Status
	Kind         Kind
	AccountKey   string
	ManualReview *bool
	StartTime    time.Time
	EndTime      time.Time
	Limit        int
	Offset       int
}

// NewInstanceFilter creates a new InstanceFilter with default values.
func NewInstanceFilter() *InstanceFilter {
	return &InstanceFilter{
		Limit:  100,
		Offset: 0,
	}
}

// WithStatus adds status filters.
func (f *InstanceFilter) WithStatus(status ...Status) *InstanceFilter {
	f.Status = append(f.Status, status...)
	return f
}

// WithKind sets the workflow kind filter.
func (f *InstanceFilter) WithKind(kind Kind) *InstanceFilter {
	f.Kind = kind
	return f
}

// WithAccountKey sets the account key filter.
func (f *InstanceFilter) WithAccountKey(accountKey string) *InstanceFilter {
	f.AccountKey = accountKey
	return f
}

// WithManualReview filters on the manual review flag.
func (f *InstanceFilter) WithManualReview(flagged bool) *InstanceFilter {
	f.ManualReview = &flagged
	return f
}

// WithTimeRange sets the time range filter.
func (f *InstanceFilter) WithTimeRange(start, end time.Time) *InstanceFilter {
	f.StartTime = start
	f.EndTime = end
	return f
}

// WithPagination sets pagination parameters.
func (f *InstanceFilter) WithPagination(limit, offset int) *InstanceFilter {
	f.Limit = limit
	f.Offset = offset
	return f
}
