// Package admin provides the operator surface for the money movement engine.
// It lets operators query instances, inspect audit history, watch engine and
// collaborator health, and acknowledge instances that require manual
// intervention after a failed compensation.
package admin

import (
	"context"
	"errors"
	"fmt"

	"fundflow"
	"fundflow/circuit"
	"fundflow/event"
)

// InstanceListResult represents the result of listing workflow instances.
type InstanceListResult struct {
	// Instances is the list of instances.
	Instances []*fundflow.WorkflowInstance
	// Total is the total number of instances matching the filter.
	Total int64
	// Limit is the maximum number of results returned.
	Limit int
	// Offset is the number of results skipped.
	Offset int
}

// InstanceDetail represents detailed instance information.
type InstanceDetail struct {
	// Instance is the workflow instance record.
	Instance *fundflow.WorkflowInstance
	// History is the append-only audit trail, ordered by sequence.
	History []*fundflow.HistoryEvent
}

// BreakerStatus is the observed state of one collaborator's circuit breaker.
type BreakerStatus struct {
	State  circuit.State
	Counts circuit.BreakerCounts
}

// EngineStats represents engine statistics.
type EngineStats struct {
	// TotalInstances is the total number of instances.
	TotalInstances int64
	// ActiveInstances is the number of non-terminal instances.
	ActiveInstances int64
	// AwaitingSignal is the number of instances suspended on authorization.
	AwaitingSignal int64
	// Reconciling is the number of instances owned by reconciliation.
	Reconciling int64
	// Finalized is the number of successfully completed instances.
	Finalized int64
	// Failed is the number of cleanly failed instances.
	Failed int64
	// RolledBack is the number of compensated instances.
	RolledBack int64
	// NeedsOperator is the number of instances flagged for manual review.
	NeedsOperator int64
	// Breakers contains circuit breaker statistics by collaborator.
	Breakers map[string]BreakerStatus
}

// Admin provides administrative operations for the engine.
type Admin interface {
	// ListInstances lists workflow instances with optional filters.
	ListInstances(ctx context.Context, filter *fundflow.InstanceFilter) (*InstanceListResult, error)

	// GetInstance retrieves one instance with its full audit history.
	GetInstance(ctx context.Context, workflowID string) (*InstanceDetail, error)

	// Acknowledge records that an operator has taken over a COMPENSATION_REQUIRED
	// instance. The status stays terminal; the acknowledgement lands in the
	// audit history and clears the manual review flag.
	Acknowledge(ctx context.Context, workflowID, operator, note string) error

	// GetStats retrieves engine statistics.
	GetStats(ctx context.Context) (*EngineStats, error)
}

// AdminImpl implements the Admin interface.
type AdminImpl struct {
	store   fundflow.InstanceStore
	breaker circuit.Breaker
	events  event.EventBus
}

// AdminOption is a function that configures the Admin.
type AdminOption func(*AdminImpl)

// WithAdminStore sets the store for the admin.
func WithAdminStore(s fundflow.InstanceStore) AdminOption {
	return func(a *AdminImpl) {
		a.store = s
	}
}

// WithAdminBreaker sets the circuit breaker for the admin.
func WithAdminBreaker(b circuit.Breaker) AdminOption {
	return func(a *AdminImpl) {
		a.breaker = b
	}
}

// WithAdminEventBus sets the event bus for the admin.
func WithAdminEventBus(e event.EventBus) AdminOption {
	return func(a *AdminImpl) {
		a.events = e
	}
}

// NewAdmin creates a new Admin with the given options.
func NewAdmin(opts ...AdminOption) *AdminImpl {
	a := &AdminImpl{}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

var _ Admin = (*AdminImpl)(nil)

// ListInstances lists workflow instances with optional filters.
func (a *AdminImpl) ListInstances(ctx context.Context, filter *fundflow.InstanceFilter) (*InstanceListResult, error) {
	if a.store == nil {
		return nil, fmt.Errorf("store not configured")
	}

	if filter == nil {
		filter = fundflow.NewInstanceFilter()
	}
	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	instances, total, err := a.store.ListInstances(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	return &InstanceListResult{
		Instances: instances,
		Total:     total,
		Limit:     filter.Limit,
		Offset:    filter.Offset,
	}, nil
}

// GetInstance retrieves one instance with its full audit history.
func (a *AdminImpl) GetInstance(ctx context.Context, workflowID string) (*InstanceDetail, error) {
	if a.store == nil {
		return nil, fmt.Errorf("store not configured")
	}

	inst, err := a.store.GetInstance(ctx, workflowID)
	if err != nil {
		if errors.Is(err, fundflow.ErrInstanceNotFound) {
			return nil, fundflow.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	history, err := a.store.GetHistory(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}

	return &InstanceDetail{
		Instance: inst,
		History:  history,
	}, nil
}

// Acknowledge records that an operator has taken over a COMPENSATION_REQUIRED
// instance. The acknowledgement is appended to the audit history and the
// manual review flag is cleared so the instance drops off the attention list.
// The terminal status itself is never changed; undoing the money movement is
// the operator's job, outside the engine.
func (a *AdminImpl) Acknowledge(ctx context.Context, workflowID, operator, note string) error {
	if a.store == nil {
		return fmt.Errorf("store not configured")
	}
	if operator == "" {
		return fmt.Errorf("%w: operator is required", fundflow.ErrInvalidRequest)
	}

	inst, err := a.store.GetInstance(ctx, workflowID)
	if err != nil {
		if errors.Is(err, fundflow.ErrInstanceNotFound) {
			return fundflow.ErrInstanceNotFound
		}
		return fmt.Errorf("failed to get instance: %w", err)
	}

	if inst.Status != fundflow.StatusCompensationRequired {
		return fmt.Errorf("%w: only COMPENSATION_REQUIRED instances can be acknowledged, current status %s",
			fundflow.ErrInvalidTransition, inst.Status)
	}

	seq, err := a.store.NextHistorySeq(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to allocate history sequence: %w", err)
	}

	ev := fundflow.NewHistoryEvent(workflowID, seq, fundflow.PhaseCompensation, fundflow.ActivityOperatorAck, fundflow.OutcomeCompleted)
	ev.Detail = fmt.Sprintf("acknowledged by %s: %s", operator, note)
	if err := a.store.AppendHistory(ctx, ev); err != nil {
		return fmt.Errorf("failed to record acknowledgement: %w", err)
	}

	if inst.ManualReview {
		inst.ManualReview = false
		inst.IncrementVersion()
		if err := a.store.UpdateInstance(ctx, inst); err != nil {
			return fmt.Errorf("failed to clear manual review flag: %w", err)
		}
	}

	if a.events != nil {
		a.events.Publish(ctx, event.NewEvent(event.EventOperatorAcknowledged).
			WithWorkflowID(workflowID).
			WithCorrelationID(inst.CorrelationID).
			WithKind(string(inst.Kind)).
			WithData("operator", operator).
			WithData("note", note))
	}

	return nil
}

// GetStats retrieves engine statistics: instance counts by lifecycle group
// and the circuit breaker counters for every collaborator seen so far.
func (a *AdminImpl) GetStats(ctx context.Context) (*EngineStats, error) {
	if a.store == nil {
		return nil, fmt.Errorf("store not configured")
	}

	stats := &EngineStats{
		Breakers: make(map[string]BreakerStatus),
	}

	count := func(statuses ...fundflow.Status) (int64, error) {
		filter := fundflow.NewInstanceFilter().WithPagination(1, 0)
		if len(statuses) > 0 {
			filter = filter.WithStatus(statuses...)
		}
		_, total, err := a.store.ListInstances(ctx, filter)
		return total, err
	}

	var err error
	if stats.TotalInstances, err = count(); err != nil {
		return nil, fmt.Errorf("failed to count instances: %w", err)
	}
	if stats.AwaitingSignal, err = count(fundflow.StatusAwaitingSignal); err != nil {
		return nil, fmt.Errorf("failed to count awaiting instances: %w", err)
	}
	if stats.Reconciling, err = count(fundflow.StatusFinalizationTimeout); err != nil {
		return nil, fmt.Errorf("failed to count reconciling instances: %w", err)
	}
	if stats.Finalized, err = count(fundflow.StatusFinalized); err != nil {
		return nil, fmt.Errorf("failed to count finalized instances: %w", err)
	}
	if stats.Failed, err = count(fundflow.StatusInitiationFailed, fundflow.StatusFinalizationFailed); err != nil {
		return nil, fmt.Errorf("failed to count failed instances: %w", err)
	}
	if stats.RolledBack, err = count(fundflow.StatusRolledBack); err != nil {
		return nil, fmt.Errorf("failed to count rolled back instances: %w", err)
	}
	if stats.NeedsOperator, err = count(fundflow.StatusCompensationRequired); err != nil {
		return nil, fmt.Errorf("failed to count instances needing an operator: %w", err)
	}

	terminal := int64(0)
	for _, status := range fundflow.TerminalStatuses() {
		n, err := count(status)
		if err != nil {
			return nil, fmt.Errorf("failed to count terminal instances: %w", err)
		}
		terminal += n
	}
	stats.ActiveInstances = stats.TotalInstances - terminal

	if a.breaker != nil {
		for _, name := range a.breaker.Collaborators() {
			cb := a.breaker.Get(name)
			stats.Breakers[name] = BreakerStatus{
				State:  cb.State(),
				Counts: cb.Counts(),
			}
		}
	}

	return stats, nil
}
