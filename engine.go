package fundflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"fundflow/circuit"
	"fundflow/event"
	"fundflow/idempotency"
	"fundflow/lock"
	"fundflow/metrics"
	"fundflow/tracing"
)

// recoverBatchSize bounds how many suspended instances one recovery pass
// loads. A restart with more than this re-arms the rest on later passes or
// leaves them to the expired-awaiting sweep.
const recoverBatchSize = 512

// Engine is the entry point of the money movement workflow engine. It starts
// top-up and withdraw instances, delivers authorization signals, answers
// queries and re-arms deadline timers after a restart. The phase work itself
// is delegated to the Coordinator.
type Engine struct {
	// coordinator drives the saga phases
	coordinator *Coordinator

	// Dependencies
	store   InstanceStore
	locker  lock.Locker
	breaker circuit.Breaker
	events  event.EventBus
	checker idempotency.Checker
	metrics metrics.Metrics
	tracer  tracing.Tracer

	// External collaborators
	collab Collaborators

	// Request boundary validation
	validate *validator.Validate

	// Deadline timers for suspended instances
	timers *signalTimers

	// runSlots bounds concurrent instance runs
	runSlots chan struct{}

	// Background run lifecycle. runCtx outlives any caller context so a
	// timeout or finalization run never dies with the request that spawned it.
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	// Configuration
	config Config
}

// EngineOption is a function that configures the Engine.
type EngineOption func(*Engine)

// WithEngineStore sets the instance store for the engine.
func WithEngineStore(s InstanceStore) EngineOption {
	return func(e *Engine) {
		e.store = s
	}
}

// WithEngineLocker sets the locker for the engine.
func WithEngineLocker(l lock.Locker) EngineOption {
	return func(e *Engine) {
		e.locker = l
	}
}

// WithEngineBreaker sets the circuit breaker for the engine.
func WithEngineBreaker(b circuit.Breaker) EngineOption {
	return func(e *Engine) {
		e.breaker = b
	}
}

// WithEngineEventBus sets the event bus for the engine.
func WithEngineEventBus(eb event.EventBus) EngineOption {
	return func(e *Engine) {
		e.events = eb
	}
}

// WithEngineChecker sets the idempotency checker for the engine.
func WithEngineChecker(ch idempotency.Checker) EngineOption {
	return func(e *Engine) {
		e.checker = ch
	}
}

// WithEngineMetrics sets the metrics sink for the engine.
func WithEngineMetrics(m metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithEngineTracer sets the tracer for the engine.
func WithEngineTracer(t tracing.Tracer) EngineOption {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithEngineCollaborators sets the external collaborators for the engine.
func WithEngineCollaborators(collab Collaborators) EngineOption {
	return func(e *Engine) {
		e.collab = collab
	}
}

// WithEngineConfig sets the configuration for the engine.
func WithEngineConfig(cfg Config) EngineOption {
	return func(e *Engine) {
		e.config = cfg
	}
}

// NewEngine creates a new Engine with the given options.
// The engine must be configured with at least a store, a locker and the
// external collaborators before starting workflows.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		metrics:  &metrics.NoopMetrics{},
		tracer:   &tracing.NoopTracer{},
		validate: validator.New(validator.WithRequiredStructEnabled()),
		timers:   newSignalTimers(),
		config:   DefaultConfig(),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.runSlots = make(chan struct{}, e.config.MaxConcurrentRuns)
	e.runCtx, e.runCancel = context.WithCancel(context.Background())

	// Coordinator shares the same dependencies
	e.coordinator = NewCoordinator(
		WithStore(e.store),
		WithLocker(e.locker),
		WithBreaker(e.breaker),
		WithEventBus(e.events),
		WithChecker(e.checker),
		WithMetrics(e.metrics),
		WithTracer(e.tracer),
		WithCollaborators(e.collab),
		WithCoordinatorConfig(e.config),
	)

	return e
}

// Start validates the request, creates the instance and drives initiation
// through to the suspension point. On success the returned result carries the
// authorization handle and the signal deadline; the caller must deliver the
// signal before the deadline or the instance times out.
//
// Start is idempotent on correlation id: a request reusing the correlation id
// of an existing instance returns that instance's current state instead of
// starting a second workflow. A failed initiation returns the terminal result
// together with the failure cause.
func (e *Engine) Start(ctx context.Context, req *StartRequest) (*StartResult, error) {
	if err := e.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if req.CorrelationID != "" {
		existing, err := e.store.GetInstanceByCorrelationID(ctx, req.CorrelationID)
		if err != nil && !errors.Is(err, ErrInstanceNotFound) {
			return nil, err
		}
		if existing != nil {
			return startResultOf(existing), nil
		}
	}

	inst := NewInstance(req)
	deadline := inst.CreatedAt.Add(e.config.InstanceTTL)
	inst.DeadlineAt = &deadline

	if err := e.store.CreateInstance(ctx, inst); err != nil {
		if errors.Is(err, ErrInstanceAlreadyExists) {
			// Lost a concurrent create race on the same correlation id; the
			// winner's instance is the answer.
			existing, gerr := e.store.GetInstanceByCorrelationID(ctx, inst.CorrelationID)
			if gerr == nil {
				return startResultOf(existing), nil
			}
		}
		return nil, err
	}

	e.metrics.WorkflowStarted(string(inst.Kind))

	if err := e.acquireRun(ctx); err != nil {
		return nil, err
	}
	inst, err := e.coordinator.RunInitiation(ctx, inst)
	e.releaseRun()
	if err != nil {
		return startResultOf(inst), err
	}

	e.armDeadline(inst)
	return startResultOf(inst), nil
}

// Signal delivers the authorization payload for a suspended instance. An
// accepted signal resumes the workflow into finalization; Signal then blocks
// up to the configured wait budget so interactive callers usually see the
// terminal outcome in one round trip, and returns the instance's current
// snapshot for the caller to poll past the budget.
//
// Redelivering a signal to an instance that already accepted one is
// idempotent and returns the current snapshot. A signal arriving after the
// deadline elapsed, or for an instance past the suspension point, returns
// ErrSignalNotAccepted alongside the snapshot.
func (e *Engine) Signal(ctx context.Context, req *SignalRequest) (*Snapshot, error) {
	if err := e.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	inst, err := e.store.GetInstanceByCorrelationID(ctx, req.CorrelationID)
	if err != nil {
		return nil, err
	}

	inst, accepted, err := e.coordinator.AcceptSignal(ctx, inst, req.Payload)
	if err != nil {
		if errors.Is(err, ErrSignalNotAccepted) {
			e.metrics.SignalRejected(string(inst.Kind))
			e.publishEvent(ctx, event.NewEvent(event.EventSignalRejected).
				WithWorkflowID(inst.WorkflowID).
				WithCorrelationID(inst.CorrelationID).
				WithKind(string(inst.Kind)).
				WithError(err))
			return inst.Snapshot(), err
		}
		return nil, err
	}
	if !accepted {
		// Redelivery after an earlier accepted signal. The workflow is
		// already progressing; report where it stands.
		return inst.Snapshot(), nil
	}

	e.timers.Cancel(inst.WorkflowID)

	// The finalization run keeps ownership of inst from here. Snapshot first
	// so the budget-expiry path below never reads a mutating instance.
	snapshot := inst.Snapshot()

	done := make(chan *Snapshot, 1)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.acquireRun(e.runCtx); err != nil {
			done <- snapshot
			return
		}
		defer e.releaseRun()
		final, _ := e.coordinator.RunFinalization(e.runCtx, inst)
		done <- final.Snapshot()
	}()

	wait := time.NewTimer(e.config.SignalWaitBudget)
	defer wait.Stop()
	select {
	case final := <-done:
		return final, nil
	case <-wait.C:
		if fresh, gerr := e.store.GetInstance(ctx, inst.WorkflowID); gerr == nil {
			return fresh.Snapshot(), nil
		}
		return snapshot, nil
	case <-ctx.Done():
		return snapshot, ctx.Err()
	}
}

// Query returns the current snapshot of the instance with the given
// correlation id.
func (e *Engine) Query(ctx context.Context, correlationID string) (*Snapshot, error) {
	inst, err := e.store.GetInstanceByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	return inst.Snapshot(), nil
}

// History returns the append-only audit history of the workflow, ordered by
// sequence number.
func (e *Engine) History(ctx context.Context, workflowID string) ([]*HistoryEvent, error) {
	return e.store.GetHistory(ctx, workflowID)
}

// RecoverSuspended reloads suspended instances after a restart, re-arming the
// deadline timer of every instance still inside its window and running the
// timeout path for those whose deadline passed while the process was down.
// It returns the number of instances handled.
func (e *Engine) RecoverSuspended(ctx context.Context) (int, error) {
	instances, _, err := e.store.ListInstances(ctx, &InstanceFilter{
		Status: []Status{StatusAwaitingSignal},
		Limit:  recoverBatchSize,
	})
	if err != nil {
		return 0, err
	}

	now := time.Now()
	recovered := 0
	for _, inst := range instances {
		if inst.SignalDeadline != nil && inst.SignalDeadline.After(now) {
			e.armDeadline(inst)
		} else {
			workflowID := inst.WorkflowID
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				e.runTimeout(workflowID)
			}()
		}
		recovered++
	}

	return recovered, nil
}

// Subscribe subscribes a handler to a specific event type.
func (e *Engine) Subscribe(eventType event.EventType, handler event.EventHandler) error {
	if e.events == nil {
		return nil
	}
	return e.events.Subscribe(eventType, handler)
}

// SubscribeAll subscribes a handler to all events.
func (e *Engine) SubscribeAll(handler event.EventHandler) error {
	if e.events == nil {
		return nil
	}
	return e.events.SubscribeAll(handler)
}

// Close stops the deadline timers and waits for in-flight runs to finish.
// Past the context deadline the remaining runs are cancelled; their instances
// stay resumable from persisted state and the scheduled sweeps pick them up.
func (e *Engine) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		e.timers.Close()
	})

	idle := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		e.runCancel()
		return ctx.Err()
	}
}

// Coordinator returns the underlying coordinator.
// This is useful for advanced use cases like reconciliation jobs.
func (e *Engine) Coordinator() *Coordinator {
	return e.coordinator
}

// Store returns the underlying store.
func (e *Engine) Store() InstanceStore {
	return e.store
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// armDeadline arms the deadline timer for a suspended instance. Instances in
// any other status carry no timer.
func (e *Engine) armDeadline(inst *WorkflowInstance) {
	if inst.Status != StatusAwaitingSignal || inst.SignalDeadline == nil {
		return
	}
	workflowID := inst.WorkflowID
	e.timers.Arm(workflowID, *inst.SignalDeadline, func() {
		e.wg.Add(1)
		defer e.wg.Done()
		e.runTimeout(workflowID)
	})
}

// runTimeout drives the signal timeout path for one instance. It re-reads the
// instance first: a signal that won the race in the meantime leaves nothing
// to do.
func (e *Engine) runTimeout(workflowID string) {
	ctx := e.runCtx
	if err := e.acquireRun(ctx); err != nil {
		return
	}
	defer e.releaseRun()

	inst, err := e.store.GetInstance(ctx, workflowID)
	if err != nil {
		e.publishEvent(ctx, event.NewEvent(event.EventAlertWarning).
			WithWorkflowID(workflowID).
			WithData("message", "timeout run could not load instance").
			WithError(err))
		return
	}
	if inst.Status != StatusAwaitingSignal {
		return
	}

	if _, err := e.coordinator.RunSignalTimeout(ctx, inst); err != nil {
		e.publishEvent(ctx, event.NewEvent(event.EventAlertWarning).
			WithWorkflowID(workflowID).
			WithCorrelationID(inst.CorrelationID).
			WithKind(string(inst.Kind)).
			WithData("message", "signal timeout run failed").
			WithError(err))
	}
}

// acquireRun takes a worker slot, blocking until one frees up or the context
// ends.
func (e *Engine) acquireRun(ctx context.Context) error {
	select {
	case e.runSlots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) releaseRun() {
	<-e.runSlots
}

// publishEvent publishes an event to the event bus.
func (e *Engine) publishEvent(ctx context.Context, ev event.Event) {
	if e.events != nil {
		e.events.Publish(ctx, ev)
	}
}

// startResultOf builds the caller-visible start result from an instance.
func startResultOf(inst *WorkflowInstance) *StartResult {
	res := &StartResult{
		CorrelationID:       inst.CorrelationID,
		WorkflowID:          inst.WorkflowID,
		Status:              inst.Status,
		AuthorizationHandle: inst.AuthorizationHandle,
	}
	if inst.SignalDeadline != nil {
		res.SignalDeadline = *inst.SignalDeadline
	}
	return res
}
