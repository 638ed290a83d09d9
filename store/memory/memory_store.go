// Package memory provides an in-memory implementation of the instance store.
// It is meant for demos and tests; production deployments use store/mysql.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"fundflow"
)

// MemoryStore keeps instances, history and idempotency records in process
// memory. All methods return copies so callers never share mutable state
// with the store.
type MemoryStore struct {
	mu            sync.Mutex
	instances     map[string]*fundflow.WorkflowInstance
	byCorrelation map[string]string
	history       map[string][]*fundflow.HistoryEvent
	idempotency   map[string]idempotencyRecord
	nextID        int64
	nextHistoryID int64
}

type idempotencyRecord struct {
	result    []byte
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances:     make(map[string]*fundflow.WorkflowInstance),
		byCorrelation: make(map[string]string),
		history:       make(map[string][]*fundflow.HistoryEvent),
		idempotency:   make(map[string]idempotencyRecord),
	}
}

// CreateInstance stores a new instance. Both the workflow id and the
// correlation id must be unused.
func (s *MemoryStore) CreateInstance(ctx context.Context, inst *fundflow.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[inst.WorkflowID]; exists {
		return fundflow.ErrInstanceAlreadyExists
	}
	if _, exists := s.byCorrelation[inst.CorrelationID]; exists {
		return fundflow.ErrInstanceAlreadyExists
	}

	s.nextID++
	inst.ID = s.nextID

	cp := *inst
	s.instances[inst.WorkflowID] = &cp
	s.byCorrelation[inst.CorrelationID] = inst.WorkflowID
	return nil
}

// UpdateInstance applies the write only where the stored version is exactly
// one behind, returning ErrVersionConflict otherwise. The conflict return is
// load-bearing: it decides the signal-versus-deadline race.
func (s *MemoryStore) UpdateInstance(ctx context.Context, inst *fundflow.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.instances[inst.WorkflowID]
	if !ok {
		return fundflow.ErrInstanceNotFound
	}
	if existing.Version != inst.Version-1 {
		return fundflow.ErrVersionConflict
	}

	cp := *inst
	s.instances[inst.WorkflowID] = &cp
	return nil
}

// GetInstance retrieves an instance by workflow id.
func (s *MemoryStore) GetInstance(ctx context.Context, workflowID string) (*fundflow.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[workflowID]
	if !ok {
		return nil, fundflow.ErrInstanceNotFound
	}

	cp := *inst
	return &cp, nil
}

// GetInstanceByCorrelationID retrieves an instance by its caller-visible
// correlation id.
func (s *MemoryStore) GetInstanceByCorrelationID(ctx context.Context, correlationID string) (*fundflow.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	workflowID, ok := s.byCorrelation[correlationID]
	if !ok {
		return nil, fundflow.ErrInstanceNotFound
	}
	inst, ok := s.instances[workflowID]
	if !ok {
		return nil, fundflow.ErrInstanceNotFound
	}

	cp := *inst
	return &cp, nil
}

// HasActive reports whether any non-terminal instance other than
// excludeWorkflowID exists for the account key.
func (s *MemoryStore) HasActive(ctx context.Context, accountKey, excludeWorkflowID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inst := range s.instances {
		if inst.AccountKey != accountKey || inst.WorkflowID == excludeWorkflowID {
			continue
		}
		if !fundflow.IsTerminal(inst.Status) {
			return true, nil
		}
	}
	return false, nil
}

// AppendHistory appends one history event, rejecting a reused sequence
// number with ErrDuplicateHistorySeq.
func (s *MemoryStore) AppendHistory(ctx context.Context, ev *fundflow.HistoryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.history[ev.WorkflowID] {
		if existing.Seq == ev.Seq {
			return fundflow.ErrDuplicateHistorySeq
		}
	}

	s.nextHistoryID++
	ev.ID = s.nextHistoryID

	cp := *ev
	s.history[ev.WorkflowID] = append(s.history[ev.WorkflowID], &cp)
	return nil
}

// GetHistory returns the workflow's history ordered by sequence number.
func (s *MemoryStore) GetHistory(ctx context.Context, workflowID string) ([]*fundflow.HistoryEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]*fundflow.HistoryEvent, 0, len(s.history[workflowID]))
	for _, ev := range s.history[workflowID] {
		cp := *ev
		events = append(events, &cp)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Seq < events[j].Seq
	})
	return events, nil
}

// NextHistorySeq returns the next unused sequence number for the workflow,
// starting at 1.
func (s *MemoryStore) NextHistorySeq(ctx context.Context, workflowID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	max := 0
	for _, ev := range s.history[workflowID] {
		if ev.Seq > max {
			max = ev.Seq
		}
	}
	return max + 1, nil
}

// GetReconcilable returns instances parked for reconciliation that were
// created after the cutoff and have not spent more than maxAttempts passes,
// oldest first.
func (s *MemoryStore) GetReconcilable(ctx context.Context, createdAfter time.Time, maxAttempts, limit int) ([]*fundflow.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*fundflow.WorkflowInstance
	for _, inst := range s.instances {
		if !fundflow.IsReconcilable(inst.Status) {
			continue
		}
		if inst.CreatedAt.Before(createdAfter) || inst.ReconcileAttempts > maxAttempts {
			continue
		}
		cp := *inst
		result = append(result, &cp)
	}
	sortByCreatedAsc(result)
	return clip(result, limit), nil
}

// GetExpiredAwaiting returns suspended instances whose signal deadline passed
// as of the given time, earliest deadline first.
func (s *MemoryStore) GetExpiredAwaiting(ctx context.Context, asOf time.Time, limit int) ([]*fundflow.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*fundflow.WorkflowInstance
	for _, inst := range s.instances {
		if inst.Status != fundflow.StatusAwaitingSignal {
			continue
		}
		if inst.SignalDeadline == nil || inst.SignalDeadline.After(asOf) {
			continue
		}
		cp := *inst
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SignalDeadline.Before(*result[j].SignalDeadline)
	})
	return clip(result, limit), nil
}

// GetStuck returns instances sitting in one of the given statuses with no
// update for longer than olderThan, oldest first.
func (s *MemoryStore) GetStuck(ctx context.Context, statuses []fundflow.Status, olderThan time.Duration, limit int) ([]*fundflow.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := time.Now().Add(-olderThan)
	var result []*fundflow.WorkflowInstance
	for _, inst := range s.instances {
		if !statusIn(inst.Status, statuses) || !inst.UpdatedAt.Before(threshold) {
			continue
		}
		cp := *inst
		result = append(result, &cp)
	}
	sortByCreatedAsc(result)
	return clip(result, limit), nil
}

// GetOverdue returns non-terminal instances whose absolute deadline passed as
// of the given time, oldest first.
func (s *MemoryStore) GetOverdue(ctx context.Context, asOf time.Time, limit int) ([]*fundflow.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*fundflow.WorkflowInstance
	for _, inst := range s.instances {
		if fundflow.IsTerminal(inst.Status) {
			continue
		}
		if inst.DeadlineAt == nil || inst.DeadlineAt.After(asOf) {
			continue
		}
		cp := *inst
		result = append(result, &cp)
	}
	sortByCreatedAsc(result)
	return clip(result, limit), nil
}

// ListInstances lists instances with optional filters, newest first.
func (s *MemoryStore) ListInstances(ctx context.Context, filter *fundflow.InstanceFilter) ([]*fundflow.WorkflowInstance, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*fundflow.WorkflowInstance
	for _, inst := range s.instances {
		if filter != nil && !matches(inst, filter) {
			continue
		}
		cp := *inst
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	total := int64(len(result))
	if filter != nil {
		if filter.Offset > 0 {
			if filter.Offset >= len(result) {
				return nil, total, nil
			}
			result = result[filter.Offset:]
		}
		if filter.Limit > 0 && filter.Limit < len(result) {
			result = result[:filter.Limit]
		}
	}
	return result, total, nil
}

// CheckIdempotency checks whether the key was already marked and, if so,
// returns the recorded result.
func (s *MemoryStore) CheckIdempotency(ctx context.Context, key string) (bool, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.idempotency[key]
	if !ok {
		return false, nil, nil
	}
	if time.Now().After(record.expiresAt) {
		delete(s.idempotency, key)
		return false, nil, nil
	}
	return true, record.result, nil
}

// MarkIdempotency records the key with its result for the given TTL.
func (s *MemoryStore) MarkIdempotency(ctx context.Context, key string, result []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.idempotency[key] = idempotencyRecord{
		result:    result,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// DeleteExpiredIdempotency removes expired idempotency records.
func (s *MemoryStore) DeleteExpiredIdempotency(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var count int64
	for key, record := range s.idempotency {
		if now.After(record.expiresAt) {
			delete(s.idempotency, key)
			count++
		}
	}
	return count, nil
}

func matches(inst *fundflow.WorkflowInstance, filter *fundflow.InstanceFilter) bool {
	if len(filter.Status) > 0 && !statusIn(inst.Status, filter.Status) {
		return false
	}
	if filter.Kind != "" && inst.Kind != filter.Kind {
		return false
	}
	if filter.AccountKey != "" && inst.AccountKey != filter.AccountKey {
		return false
	}
	if filter.ManualReview != nil && inst.ManualReview != *filter.ManualReview {
		return false
	}
	if !filter.StartTime.IsZero() && inst.CreatedAt.Before(filter.StartTime) {
		return false
	}
	if !filter.EndTime.IsZero() && inst.CreatedAt.After(filter.EndTime) {
		return false
	}
	return true
}

func statusIn(status fundflow.Status, set []fundflow.Status) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

func sortByCreatedAsc(instances []*fundflow.WorkflowInstance) {
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].CreatedAt.Before(instances[j].CreatedAt)
	})
}

func clip(instances []*fundflow.WorkflowInstance, limit int) []*fundflow.WorkflowInstance {
	if limit > 0 && len(instances) > limit {
		return instances[:limit]
	}
	return instances
}

// Ensure MemoryStore implements the instance store interface.
var _ fundflow.InstanceStore = (*MemoryStore)(nil)
