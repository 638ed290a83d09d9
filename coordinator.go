package fundflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fundflow/circuit"
	"fundflow/event"
	"fundflow/idempotency"
	"fundflow/lock"
	"fundflow/metrics"
	"fundflow/tracing"
)

// Reconciliation resolutions reported by Reconcile and recorded in metrics.
const (
	ReconcileResumed    = "resumed"
	ReconcileFailed     = "failed"
	ReconcileDeferred   = "deferred"
	ReconcileForcedFail = "forced_failed"
)

// Coordinator drives workflow instances through the saga phases: initiation,
// the signal wait, finalization under the account lock, compensation and
// reconciliation. It owns every state transition; callers hand it an instance
// and a phase entry point and read the outcome off the instance.
type Coordinator struct {
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

	// Breaker state last observed per activity, for transition events
	cbStates map[string]circuit.State
	cbMu     sync.Mutex

	// Configuration
	config Config
}

// CoordinatorOption is a function that configures the Coordinator.
type CoordinatorOption func(*Coordinator)

// WithStore sets the instance store for the coordinator.
func WithStore(s InstanceStore) CoordinatorOption {
	return func(c *Coordinator) {
		c.store = s
	}
}

// WithLocker sets the locker for the coordinator.
func WithLocker(l lock.Locker) CoordinatorOption {
	return func(c *Coordinator) {
		c.locker = l
	}
}

// WithBreaker sets the circuit breaker for the coordinator.
func WithBreaker(b circuit.Breaker) CoordinatorOption {
	return func(c *Coordinator) {
		c.breaker = b
	}
}

// WithEventBus sets the event bus for the coordinator.
func WithEventBus(e event.EventBus) CoordinatorOption {
	return func(c *Coordinator) {
		c.events = e
	}
}

// WithChecker sets the idempotency checker for the coordinator.
func WithChecker(ch idempotency.Checker) CoordinatorOption {
	return func(c *Coordinator) {
		c.checker = ch
	}
}

// WithMetrics sets the metrics sink for the coordinator.
func WithMetrics(m metrics.Metrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithTracer sets the tracer for the coordinator.
func WithTracer(t tracing.Tracer) CoordinatorOption {
	return func(c *Coordinator) {
		c.tracer = t
	}
}

// WithCollaborators sets the external collaborators for the coordinator.
func WithCollaborators(collab Collaborators) CoordinatorOption {
	return func(c *Coordinator) {
		c.collab = collab
	}
}

// WithCoordinatorConfig sets the configuration for the coordinator.
func WithCoordinatorConfig(cfg Config) CoordinatorOption {
	return func(c *Coordinator) {
		c.config = cfg
	}
}

// NewCoordinator creates a new Coordinator with the given options.
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		cbStates: make(map[string]circuit.State),
		metrics:  &metrics.NoopMetrics{},
		tracer:   &tracing.NoopTracer{},
		config:   DefaultConfig(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// RunInitiation drives a freshly created instance through the initiation
// activities and suspends it awaiting the authorization signal. Any activity
// failure here is clean: nothing irreversible has happened yet, so the
// instance terminates as INITIATION_FAILED without compensation.
func (c *Coordinator) RunInitiation(ctx context.Context, inst *WorkflowInstance) (*WorkflowInstance, error) {
	ctx, span := c.tracer.StartWorkflow(ctx, inst.WorkflowID, string(inst.Kind))
	defer span.End()

	if err := c.transition(inst, StatusInitiating); err != nil {
		return inst, err
	}
	if err := c.persistInstance(ctx, inst); err != nil {
		return inst, err
	}

	c.publishEvent(ctx, event.NewEvent(event.EventWorkflowStarted).
		WithWorkflowID(inst.WorkflowID).
		WithCorrelationID(inst.CorrelationID).
		WithKind(string(inst.Kind)))

	for _, act := range c.initiationActivities() {
		res := c.runActivity(ctx, inst, act)
		if !res.OK() {
			span.SetError(res.Failure)
			if err := c.finish(ctx, inst, StatusInitiationFailed, res.Failure); err != nil {
				return inst, err
			}
			return inst, res.Failure
		}
	}

	// The deadline and the authorization handle are minted exactly once,
	// before suspension, and reused identically on any resume.
	deadline := time.Now().Add(c.config.SignalTimeout)
	inst.SignalDeadline = &deadline
	if err := c.transition(inst, StatusInitiated); err != nil {
		return inst, err
	}
	if err := c.persistInstance(ctx, inst); err != nil {
		return inst, err
	}

	if err := c.transition(inst, StatusAwaitingSignal); err != nil {
		return inst, err
	}
	if err := c.persistInstance(ctx, inst); err != nil {
		return inst, err
	}

	c.publishEvent(ctx, event.NewEvent(event.EventWorkflowAwaiting).
		WithWorkflowID(inst.WorkflowID).
		WithCorrelationID(inst.CorrelationID).
		WithKind(string(inst.Kind)).
		WithData("deadline", deadline))

	return inst, nil
}

// AcceptSignal durably records the authorization payload for a suspended
// instance and moves it to FINALIZING. The conditional version update is the
// arbiter of the race against the deadline: whichever side commits first
// wins. Returns the current instance and whether this delivery was the one
// accepted; a delivery losing to an earlier accepted signal is not an error,
// a delivery losing to the deadline is ErrSignalNotAccepted.
func (c *Coordinator) AcceptSignal(ctx context.Context, inst *WorkflowInstance, payload string) (*WorkflowInstance, bool, error) {
	if inst.Status != StatusAwaitingSignal {
		if inst.SignalAccepted() {
			return inst, false, nil
		}
		return inst, false, fmt.Errorf("%w: status %s", ErrSignalNotAccepted, inst.Status)
	}

	now := time.Now()
	suspended := time.Duration(0)
	if inst.SignalDeadline != nil {
		suspended = now.Sub(inst.SignalDeadline.Add(-c.config.SignalTimeout))
	}

	inst.SignalPayload = payload
	inst.SignalReceivedAt = &now
	if err := c.transition(inst, StatusFinalizing); err != nil {
		return inst, false, err
	}
	if err := c.persistInstance(ctx, inst); err != nil {
		if !errors.Is(err, ErrVersionConflict) {
			return inst, false, err
		}
		fresh, gerr := c.store.GetInstance(ctx, inst.WorkflowID)
		if gerr != nil {
			return inst, false, gerr
		}
		if fresh.SignalAccepted() {
			return fresh, false, nil
		}
		return fresh, false, fmt.Errorf("%w: deadline elapsed first", ErrSignalNotAccepted)
	}

	c.metrics.SignalDelivered(string(inst.Kind), suspended)
	c.record(ctx, inst, PhaseSignal, ActivityAwaitSignal, OutcomeDelivered, "", 0, "")
	c.publishEvent(ctx, event.NewEvent(event.EventSignalDelivered).
		WithWorkflowID(inst.WorkflowID).
		WithCorrelationID(inst.CorrelationID).
		WithKind(string(inst.Kind)))

	return inst, true, nil
}

// RunFinalization executes the finalization activities under the per-account
// lock, starting from the persisted cursor. It is entered from signal
// acceptance with cursor 0 and from reconciliation resume with the finalize
// step already behind it.
func (c *Coordinator) RunFinalization(ctx context.Context, inst *WorkflowInstance) (*WorkflowInstance, error) {
	ctx, span := c.tracer.StartWorkflow(ctx, inst.WorkflowID, string(inst.Kind))
	defer span.End()

	lockStart := time.Now()
	handle, err := c.locker.Acquire(ctx, accountLockKey(inst.AccountKey), inst.WorkflowID, c.config.LockTTL)
	if err != nil {
		c.metrics.LockDenied()
		if errors.Is(err, lock.ErrNotAcquired) {
			err = fmt.Errorf("%w: account %s", ErrOperationInProgress, inst.AccountKey)
		} else {
			err = fmt.Errorf("%w: %v", ErrLockAcquisitionFailed, err)
		}
		span.SetError(err)
		if inst.TransferFinalized() {
			// Money already moved; never abandon the instance over a lock
			// denial. The stuck sweep retries it later.
			return inst, err
		}
		if ferr := c.finish(ctx, inst, StatusFinalizationFailed, err); ferr != nil {
			return inst, ferr
		}
		return inst, err
	}
	c.metrics.LockAcquired(time.Since(lockStart))
	defer handle.Release(ctx)

	stopExtend := c.startLockExtender(ctx, handle, inst)
	defer stopExtend()

	inst, err = c.finalizeFrom(ctx, inst)
	if err != nil {
		span.SetError(err)
	}
	return inst, err
}

// finalizeFrom runs the finalization activities the cursor has not yet
// passed. The cursor is persisted after every completed irreversible step so
// a crashed run resumes exactly where it stopped instead of re-executing.
func (c *Coordinator) finalizeFrom(ctx context.Context, inst *WorkflowInstance) (*WorkflowInstance, error) {
	var token string

	if inst.CurrentStep < StepTransferFinalized {
		if inst.DeadlinePassed(time.Now()) {
			cause := fmt.Errorf("%w: deadline %s", ErrInstanceDeadlineExceeded, inst.DeadlineAt.Format(time.RFC3339))
			if err := c.finish(ctx, inst, StatusFinalizationFailed, cause); err != nil {
				return inst, err
			}
			return inst, cause
		}

		res := c.runActivity(ctx, inst, c.finalizeTransferActivity())
		if !res.OK() {
			if res.Failure.Class == ClassTimeout {
				// The bank may or may not have executed the transfer. Park the
				// instance for reconciliation to resolve against the source
				// of truth instead of guessing.
				if err := c.parkForReconciliation(ctx, inst, res.Failure); err != nil {
					return inst, err
				}
				return inst, res.Failure
			}
			return c.failFinalization(ctx, inst, res.Failure)
		}

		inst.CurrentStep = StepTransferFinalized
		if err := c.persistInstance(ctx, inst); err != nil {
			return inst, err
		}
	}

	if inst.CurrentStep < StepBrokerCompleted {
		res := c.runActivity(ctx, inst, c.fetchBrokerTokenActivity(&token))
		if !res.OK() {
			return c.failFinalization(ctx, inst, res.Failure)
		}

		res = c.runActivity(ctx, inst, c.createBrokerOperationActivity(&token))
		if !res.OK() {
			return c.failFinalization(ctx, inst, res.Failure)
		}

		inst.CurrentStep = StepBrokerCompleted
		if err := c.persistInstance(ctx, inst); err != nil {
			return inst, err
		}
	}

	if err := c.finish(ctx, inst, StatusFinalized, nil); err != nil {
		return inst, err
	}
	return inst, nil
}

// failFinalization routes a finalization failure: after the irreversible
// finalize step it must compensate, before it the instance fails clean.
func (c *Coordinator) failFinalization(ctx context.Context, inst *WorkflowInstance, failure *Failure) (*WorkflowInstance, error) {
	if inst.TransferFinalized() {
		return c.RunCompensation(ctx, inst, failure)
	}
	if err := c.finish(ctx, inst, StatusFinalizationFailed, failure); err != nil {
		return inst, err
	}
	return inst, failure
}

// parkForReconciliation hands an instance whose finalize outcome is unknown
// to the reconciliation job.
func (c *Coordinator) parkForReconciliation(ctx context.Context, inst *WorkflowInstance, cause error) error {
	if err := c.transition(inst, StatusFinalizationTimeout); err != nil {
		return err
	}
	inst.ErrorMsg = cause.Error()
	if err := c.persistInstance(ctx, inst); err != nil {
		return err
	}

	c.publishEvent(ctx, event.NewEvent(event.EventAlertWarning).
		WithWorkflowID(inst.WorkflowID).
		WithCorrelationID(inst.CorrelationID).
		WithKind(string(inst.Kind)).
		WithData("message", "finalize timed out, awaiting reconciliation").
		WithError(cause))

	return nil
}

// RunSignalTimeout drives a suspended instance whose authorization deadline
// elapsed. The conditional update decides the race against a concurrent
// signal delivery; losing it means the signal was accepted and there is
// nothing to do.
func (c *Coordinator) RunSignalTimeout(ctx context.Context, inst *WorkflowInstance) (*WorkflowInstance, error) {
	if inst.Status != StatusAwaitingSignal {
		return inst, nil
	}

	if err := c.transition(inst, StatusSignalTimeout); err != nil {
		return inst, err
	}
	if err := c.persistInstance(ctx, inst); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			fresh, gerr := c.store.GetInstance(ctx, inst.WorkflowID)
			if gerr != nil {
				return inst, nil
			}
			return fresh, nil
		}
		return inst, err
	}

	c.metrics.SignalTimeout(string(inst.Kind))
	c.record(ctx, inst, PhaseSignal, ActivityAwaitSignal, OutcomeExpired, "", 0, "")
	c.publishEvent(ctx, event.NewEvent(event.EventSignalTimeout).
		WithWorkflowID(inst.WorkflowID).
		WithCorrelationID(inst.CorrelationID).
		WithKind(string(inst.Kind)))

	// Before the finalize step the debit never happened, so the instance
	// fails clean; anything irreversible demands compensation.
	if inst.TransferFinalized() {
		return c.RunCompensation(ctx, inst, ErrSignalDeadlineElapsed)
	}
	if err := c.finish(ctx, inst, StatusFinalizationFailed, ErrSignalDeadlineElapsed); err != nil {
		return inst, err
	}
	return inst, nil
}

// Reconcile resolves one instance parked in FINALIZATION_TIMEOUT against the
// bank's authoritative transfer status: resume the remaining finalization
// when the transfer went through, fail clean when it did not, defer while it
// is still pending. Attempts and the instance deadline bound how long an
// instance may stay unresolved.
func (c *Coordinator) Reconcile(ctx context.Context, inst *WorkflowInstance) (string, error) {
	resolution, err := c.reconcile(ctx, inst)
	if resolution != "" {
		c.metrics.ReconcileProcessed(resolution)
	}
	return resolution, err
}

func (c *Coordinator) reconcile(ctx context.Context, inst *WorkflowInstance) (string, error) {
	if !IsReconcilable(inst.Status) {
		return "", fmt.Errorf("%w: %s is not reconcilable", ErrInvalidTransition, inst.Status)
	}

	c.publishEvent(ctx, event.NewEvent(event.EventReconcileStarted).
		WithWorkflowID(inst.WorkflowID).
		WithCorrelationID(inst.CorrelationID).
		WithKind(string(inst.Kind)).
		WithData("attempt", inst.ReconcileAttempts+1))

	if inst.ReconcileAttempts >= c.config.ReconcileMaxAttempts || inst.DeadlinePassed(time.Now()) {
		return c.forceFail(ctx, inst)
	}

	var state TransferState
	res := c.runActivity(ctx, inst, c.verifyTransferActivity(&state))
	if !res.OK() {
		// Verification itself failed; burn one pass and let the next scan
		// try again.
		return c.deferReconcile(ctx, inst, "verification failed")
	}

	switch state {
	case TransferConfirmed:
		// The debit went through. Re-enter finalization past the finalize
		// step, under the usual lock and compensation rules.
		inst.CurrentStep = StepTransferFinalized
		if err := c.transition(inst, StatusFinalizing); err != nil {
			return "", err
		}
		if err := c.persistInstance(ctx, inst); err != nil {
			return "", err
		}
		c.publishEvent(ctx, event.NewEvent(event.EventReconcileResolved).
			WithWorkflowID(inst.WorkflowID).
			WithCorrelationID(inst.CorrelationID).
			WithKind(string(inst.Kind)).
			WithData("state", string(state)))
		_, err := c.RunFinalization(ctx, inst)
		return ReconcileResumed, err

	case TransferFailed:
		// The debit never completed; terminal failure with nothing to reverse.
		cause := fmt.Errorf("transfer %s failed at the bank", inst.TransferReference)
		if err := c.finish(ctx, inst, StatusFinalizationFailed, cause); err != nil {
			return "", err
		}
		c.publishEvent(ctx, event.NewEvent(event.EventReconcileResolved).
			WithWorkflowID(inst.WorkflowID).
			WithCorrelationID(inst.CorrelationID).
			WithKind(string(inst.Kind)).
			WithData("state", string(state)))
		return ReconcileFailed, nil

	default:
		return c.deferReconcile(ctx, inst, "transfer still pending")
	}
}

// deferReconcile counts one unresolved pass and leaves the instance for the
// next scheduled scan.
func (c *Coordinator) deferReconcile(ctx context.Context, inst *WorkflowInstance, reason string) (string, error) {
	inst.ReconcileAttempts++
	if err := c.persistInstance(ctx, inst); err != nil {
		return "", err
	}

	c.publishEvent(ctx, event.NewEvent(event.EventReconcileDeferred).
		WithWorkflowID(inst.WorkflowID).
		WithCorrelationID(inst.CorrelationID).
		WithKind(string(inst.Kind)).
		WithData("reason", reason).
		WithData("attempts", inst.ReconcileAttempts))

	return ReconcileDeferred, nil
}

// ResumeStuck drives an instance abandoned mid-run by a crashed process to
// its next stable state. Interrupted initiation fails clean because the
// caller never saw an awaiting response; interrupted finalization re-enters
// the cursor walk; interrupted compensation re-runs its remaining reversals.
func (c *Coordinator) ResumeStuck(ctx context.Context, inst *WorkflowInstance) (*WorkflowInstance, error) {
	switch inst.Status {
	case StatusInitialized:
		// Created but never run; nothing happened yet, so initiation can
		// start from scratch.
		return c.RunInitiation(ctx, inst)

	case StatusInitiating:
		cause := errors.New("initiation interrupted by restart")
		if err := c.finish(ctx, inst, StatusInitiationFailed, cause); err != nil {
			return inst, err
		}
		return inst, nil

	case StatusFinalizing:
		return c.RunFinalization(ctx, inst)

	case StatusCompensating:
		cause := errors.New("compensation interrupted by restart")
		if inst.ErrorMsg != "" {
			cause = errors.New(inst.ErrorMsg)
		}
		return c.compensate(ctx, inst, cause)

	default:
		return inst, nil
	}
}

// forceFail terminates an instance reconciliation could not resolve within
// its attempt and deadline budget. The transfer outcome is still unknown, so
// the instance is flagged for manual review and a critical alert goes out.
func (c *Coordinator) forceFail(ctx context.Context, inst *WorkflowInstance) (string, error) {
	inst.ManualReview = true
	cause := fmt.Errorf("transfer %s unresolved after %d reconciliation attempts",
		inst.TransferReference, inst.ReconcileAttempts)
	if err := c.finish(ctx, inst, StatusFinalizationFailed, cause); err != nil {
		return "", err
	}

	c.publishEvent(ctx, event.NewEvent(event.EventAlertCritical).
		WithWorkflowID(inst.WorkflowID).
		WithCorrelationID(inst.CorrelationID).
		WithKind(string(inst.Kind)).
		WithData("message", fmt.Sprintf("workflow %s force-failed with transfer outcome unknown, manual review required", inst.WorkflowID)).
		WithError(cause))

	return ReconcileForcedFail, nil
}

// initiationActivities is the initiation saga definition: user validation and
// restriction checks fail fast, transfer initiation retries on the medium
// policy with business rejections short-circuiting.
func (c *Coordinator) initiationActivities() []*Activity {
	return []*Activity{
		{
			Name:   ActivityValidateUser,
			Phase:  PhaseInitiation,
			Policy: PolicyFailFast,
			Run: func(ctx context.Context, inst *WorkflowInstance) error {
				_, err := c.collab.Users.ValidateUser(ctx, inst.UserID)
				return err
			},
		},
		{
			Name:   ActivityCheckRestrictions,
			Phase:  PhaseInitiation,
			Policy: PolicyFailFast,
			Run: func(ctx context.Context, inst *WorkflowInstance) error {
				// One live operation per account: a second start is rejected
				// while any earlier instance is still in flight.
				active, err := c.store.HasActive(ctx, inst.AccountKey, inst.WorkflowID)
				if err != nil {
					return err
				}
				if active {
					return ErrOperationInProgress
				}
				return c.collab.Restrictions.CheckRestrictions(ctx, requestOf(inst))
			},
		},
		{
			Name:   ActivityInitiateTransfer,
			Phase:  PhaseInitiation,
			Policy: PolicyMedium,
			NonRetryable: []error{
				ErrInsufficientFunds,
				ErrTransferRejected,
				ErrAccountSuspended,
			},
			Run: func(ctx context.Context, inst *WorkflowInstance) error {
				intent, err := c.collab.Transfers.InitiateTransfer(ctx, requestOf(inst), inst.CorrelationID)
				if err != nil {
					return err
				}
				inst.TransferReference = intent.Reference
				inst.AuthorizationHandle = intent.Authorization
				return nil
			},
		},
	}
}

// finalizeTransferActivity is the irreversible step. It runs at most once per
// process run: a timeout parks the instance for reconciliation rather than
// risking a double debit on retry.
func (c *Coordinator) finalizeTransferActivity() *Activity {
	return &Activity{
		Name:   ActivityFinalizeTransfer,
		Phase:  PhaseFinalization,
		Policy: PolicyFailFast,
		Run: func(ctx context.Context, inst *WorkflowInstance) error {
			receipt, err := c.collab.Transfers.FinalizeTransfer(ctx, inst.AuthorizationHandle, inst.SignalPayload)
			if err != nil {
				return err
			}
			inst.ReceiptID = receipt.ReceiptID
			return nil
		},
	}
}

// fetchBrokerTokenActivity loads a broker token into the run-scoped slot.
// The token is a process-local credential, never persisted; a resumed run
// always fetches a fresh one.
func (c *Coordinator) fetchBrokerTokenActivity(token *string) *Activity {
	return &Activity{
		Name:   ActivityFetchBrokerToken,
		Phase:  PhaseFinalization,
		Policy: PolicyShort,
		Run: func(ctx context.Context, inst *WorkflowInstance) error {
			t, err := c.collab.Broker.Token(ctx, false)
			if err != nil {
				return err
			}
			*token = t
			return nil
		},
	}
}

// createBrokerOperationActivity records the broker deposit or redemption.
// The operation is keyed by a per-workflow idempotency key so retries, crash
// resumes and reconciliation re-entry never create a second operation.
func (c *Coordinator) createBrokerOperationActivity(token *string) *Activity {
	return &Activity{
		Name:         ActivityCreateBrokerOp,
		Phase:        PhaseFinalization,
		Policy:       PolicyLong,
		NonRetryable: []error{ErrBrokerRejected},
		Run: func(ctx context.Context, inst *WorkflowInstance) error {
			key := brokerIdempotencyKey(inst)
			if c.checker != nil {
				exists, cached, err := c.checker.Check(ctx, key)
				if err != nil {
					return fmt.Errorf("%w: %v", ErrIdempotencyCheckFailed, err)
				}
				if exists {
					inst.BrokerOperationID = string(cached)
					return nil
				}
			}

			receipt, err := c.submitBrokerOperation(ctx, token, inst)
			if err != nil {
				return err
			}
			inst.BrokerOperationID = receipt.OperationID

			if c.checker != nil {
				c.checker.Mark(ctx, key, []byte(receipt.OperationID), c.config.IdempotencyTTL)
			}
			return nil
		},
	}
}

// submitBrokerOperation submits the order, discarding a cached token and
// re-fetching exactly once when the broker reports it unauthorized.
func (c *Coordinator) submitBrokerOperation(ctx context.Context, token *string, inst *WorkflowInstance) (*BrokerReceipt, error) {
	order := &BrokerOrder{
		IdempotencyKey: brokerIdempotencyKey(inst),
		Side:           inst.Kind.BrokerSide(),
		AccountKey:     inst.AccountKey,
		Amount:         inst.Amount,
		Currency:       inst.Currency,
		Reference:      inst.TransferReference,
	}

	receipt, err := c.collab.Broker.CreateOperation(ctx, *token, order)
	if errors.Is(err, ErrBrokerUnauthorized) {
		fresh, terr := c.collab.Broker.Token(ctx, true)
		if terr != nil {
			return nil, terr
		}
		*token = fresh
		receipt, err = c.collab.Broker.CreateOperation(ctx, *token, order)
	}
	return receipt, err
}

// verifyTransferActivity asks the bank for the authoritative transfer state,
// writing it into the caller's slot.
func (c *Coordinator) verifyTransferActivity(state *TransferState) *Activity {
	return &Activity{
		Name:   ActivityVerifyTransfer,
		Phase:  PhaseReconciliation,
		Policy: PolicyLong,
		Run: func(ctx context.Context, inst *WorkflowInstance) error {
			s, err := c.collab.Transfers.VerifyTransferStatus(ctx, inst.TransferReference)
			if err != nil {
				return err
			}
			*state = s
			return nil
		},
	}
}

// notifyActivity reports the terminal outcome to the user. Best effort: its
// failure never changes the workflow outcome.
func (c *Coordinator) notifyActivity(phase Phase) *Activity {
	return &Activity{
		Name:       ActivityNotifyResult,
		Phase:      phase,
		Policy:     PolicyShort,
		BestEffort: true,
		Run: func(ctx context.Context, inst *WorkflowInstance) error {
			return c.collab.Notifier.Notify(ctx, &Notification{
				CorrelationID: inst.CorrelationID,
				UserID:        inst.UserID,
				Kind:          inst.Kind,
				Status:        inst.Status,
				Amount:        inst.Amount,
				Currency:      inst.Currency,
			})
		},
	}
}

// finish moves the instance to a terminal status, persists it and emits the
// terminal event, metrics and best-effort user notification.
func (c *Coordinator) finish(ctx context.Context, inst *WorkflowInstance, status Status, cause error) error {
	if err := c.transition(inst, status); err != nil {
		return err
	}
	if cause != nil {
		inst.ErrorMsg = cause.Error()
	}
	now := time.Now()
	inst.CompletedAt = &now
	if err := c.persistInstance(ctx, inst); err != nil {
		return err
	}

	c.metrics.WorkflowCompleted(string(inst.Kind), string(status), now.Sub(inst.CreatedAt))

	if status == StatusFinalized {
		c.publishEvent(ctx, event.NewEvent(event.EventWorkflowFinalized).
			WithWorkflowID(inst.WorkflowID).
			WithCorrelationID(inst.CorrelationID).
			WithKind(string(inst.Kind)))
	} else {
		c.publishEvent(ctx, event.NewEvent(event.EventWorkflowFailed).
			WithWorkflowID(inst.WorkflowID).
			WithCorrelationID(inst.CorrelationID).
			WithKind(string(inst.Kind)).
			WithData("status", string(status)).
			WithError(cause))
	}

	if c.collab.Notifier != nil {
		c.runActivity(ctx, inst, c.notifyActivity(statusPhase(status)))
	}

	return nil
}

// transition validates and applies a status change in memory. Persistence is
// the caller's job.
func (c *Coordinator) transition(inst *WorkflowInstance, to Status) error {
	if !ValidateTransition(inst.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inst.Status, to)
	}
	inst.Status = to
	return nil
}

// persistInstance writes the instance with optimistic locking, retrying
// transient store failures on the short policy. Version conflicts pass
// through untouched: they are the race arbiter, not a transient fault.
func (c *Coordinator) persistInstance(ctx context.Context, inst *WorkflowInstance) error {
	inst.IncrementVersion()

	var lastErr error
	for attempt := 1; attempt <= PolicyShort.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.backoffSleep(ctx, PolicyShort, attempt-1); err != nil {
				return err
			}
		}

		err := c.store.UpdateInstance(ctx, inst)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrInstanceNotFound) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("%w: %s: %v", ErrStoreOperationFailed, ActivityPersistInstance, lastErr)
}

// startLockExtender starts a goroutine that periodically extends the lock TTL
// while finalization runs.
func (c *Coordinator) startLockExtender(ctx context.Context, handle lock.Handle, inst *WorkflowInstance) func() {
	ticker := time.NewTicker(c.config.LockExtendPeriod)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := handle.Extend(ctx, c.config.LockTTL); err != nil {
					c.metrics.LockExtendFailed()
					c.publishEvent(ctx, event.NewEvent(event.EventAlertWarning).
						WithWorkflowID(inst.WorkflowID).
						WithData("message", "lock extend failed").
						WithError(err))
					// Don't exit immediately - the run in flight still gets
					// its chance to complete.
				} else {
					c.metrics.LockExtended()
				}
			case <-done:
				ticker.Stop()
				return
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()

	return func() { close(done) }
}

// observeBreaker records breaker state transitions as metrics and events.
func (c *Coordinator) observeBreaker(ctx context.Context, name string, state circuit.State) {
	c.cbMu.Lock()
	prev, seen := c.cbStates[name]
	c.cbStates[name] = state
	c.cbMu.Unlock()
	if seen && prev == state {
		return
	}

	c.metrics.CircuitStateChanged(name, state)
	switch {
	case state == circuit.StateOpen:
		c.publishEvent(ctx, event.NewEvent(event.EventCircuitOpened).
			WithActivity(name))
	case seen && state == circuit.StateClosed:
		c.publishEvent(ctx, event.NewEvent(event.EventCircuitClosed).
			WithActivity(name))
	}
}

// publishEvent publishes an event to the event bus.
func (c *Coordinator) publishEvent(ctx context.Context, e event.Event) {
	if c.events != nil {
		c.events.Publish(ctx, e)
	}
}

// statusPhase maps a terminal status to the phase that produced it.
func statusPhase(status Status) Phase {
	switch status {
	case StatusInitiationFailed:
		return PhaseInitiation
	case StatusRolledBack, StatusCompensationRequired:
		return PhaseCompensation
	default:
		return PhaseFinalization
	}
}

// requestOf rebuilds the start request from the persisted instance fields.
func requestOf(inst *WorkflowInstance) *StartRequest {
	return &StartRequest{
		Kind:          inst.Kind,
		CorrelationID: inst.CorrelationID,
		UserID:        inst.UserID,
		AccountKey:    inst.AccountKey,
		Amount:        inst.Amount,
		Currency:      inst.Currency,
	}
}

func accountLockKey(accountKey string) string {
	return "account:" + accountKey
}

func brokerIdempotencyKey(inst *WorkflowInstance) string {
	return "broker_op:" + inst.WorkflowID
}
