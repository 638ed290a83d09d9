// Package reconcile provides the background worker that resolves parked,
// expired and abandoned workflow instances.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"fundflow"
	"fundflow/event"
	"fundflow/lock"
	"fundflow/metrics"
)

// Coordinator is the slice of the workflow coordinator the worker drives.
type Coordinator interface {
	// Reconcile resolves one instance parked in FINALIZATION_TIMEOUT.
	Reconcile(ctx context.Context, inst *fundflow.WorkflowInstance) (string, error)
	// RunSignalTimeout expires a suspended instance whose deadline passed.
	RunSignalTimeout(ctx context.Context, inst *fundflow.WorkflowInstance) (*fundflow.WorkflowInstance, error)
	// ResumeStuck drives an instance abandoned mid-run to its next stable state.
	ResumeStuck(ctx context.Context, inst *fundflow.WorkflowInstance) (*fundflow.WorkflowInstance, error)
}

// Config holds the configuration for the reconciliation worker.
type Config struct {
	// Schedule is the cron expression driving scans.
	Schedule string
	// Window bounds how far back reconcilable instances are picked up;
	// instances past it fall to the overdue sweep.
	Window time.Duration
	// MaxAttempts is the reconciliation attempt ceiling per instance.
	MaxAttempts int
	// StuckThreshold is the silence after which a running instance counts
	// as abandoned by a dead process.
	StuckThreshold time.Duration
	// ExpiryGrace delays the expired-signal sweep past the deadline so an
	// alive engine's own timer gets to act first.
	ExpiryGrace time.Duration
	// LockTTL is the TTL for per-instance reconcile locks.
	LockTTL time.Duration
	// BatchSize caps how many instances one sweep loads.
	BatchSize int
}

// DefaultConfig returns the default configuration for the worker.
func DefaultConfig() Config {
	return Config{
		Schedule:       "@every 30s",
		Window:         24 * time.Hour,
		MaxAttempts:    10,
		StuckThreshold: 5 * time.Minute,
		ExpiryGrace:    10 * time.Second,
		LockTTL:        30 * time.Second,
		BatchSize:      100,
	}
}

// Logger defines the logging interface.
type Logger interface {
	Printf(format string, v ...any)
}

type defaultLogger struct{}

func (l *defaultLogger) Printf(format string, v ...any) {
	log.Printf("[ReconcileWorker] "+format, v...)
}

// Worker periodically scans the store for instances that cannot make
// progress on their own: parked in FINALIZATION_TIMEOUT, suspended past
// their signal deadline, abandoned mid-run by a crashed process, or past
// their absolute deadline. Every eligible instance is processed under a
// per-instance lock so multiple worker replicas never double-process.
type Worker struct {
	id          string
	store       fundflow.InstanceStore
	locker      lock.Locker
	coordinator Coordinator
	events      event.EventBus
	metrics     metrics.Metrics
	config      Config
	logger      Logger

	cron    *cron.Cron
	running bool
	wg      sync.WaitGroup
	mu      sync.Mutex

	scannedCount   int64
	processedCount int64
	failedCount    int64
	metricsMu      sync.RWMutex
}

// WorkerOption is a function that configures the Worker.
type WorkerOption func(*Worker)

// WithStore sets the instance store for the worker.
func WithStore(s fundflow.InstanceStore) WorkerOption {
	return func(w *Worker) {
		w.store = s
	}
}

// WithLocker sets the locker for the worker.
func WithLocker(l lock.Locker) WorkerOption {
	return func(w *Worker) {
		w.locker = l
	}
}

// WithCoordinator sets the coordinator for the worker.
func WithCoordinator(c Coordinator) WorkerOption {
	return func(w *Worker) {
		w.coordinator = c
	}
}

// WithEventBus sets the event bus for the worker.
func WithEventBus(e event.EventBus) WorkerOption {
	return func(w *Worker) {
		w.events = e
	}
}

// WithMetrics sets the metrics sink for the worker.
func WithMetrics(m metrics.Metrics) WorkerOption {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithConfig sets the configuration for the worker.
func WithConfig(cfg Config) WorkerOption {
	return func(w *Worker) {
		w.config = cfg
	}
}

// WithLogger sets the logger for the worker.
func WithLogger(l Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = l
	}
}

// NewWorker creates a new reconciliation worker with the given options.
func NewWorker(opts ...WorkerOption) *Worker {
	w := &Worker{
		id:      uuid.New().String(),
		config:  DefaultConfig(),
		logger:  &defaultLogger{},
		metrics: &metrics.NoopMetrics{},
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Start schedules periodic scans and runs one immediately.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("reconcile worker already running")
	}

	w.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
		cron.Recover(cron.DefaultLogger),
	))
	if _, err := w.cron.AddFunc(w.config.Schedule, func() { w.scan(ctx) }); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("invalid schedule %q: %w", w.config.Schedule, err)
	}
	w.cron.Start()
	w.running = true
	w.mu.Unlock()

	// First fire of the schedule is one period away; scan now so a restart
	// picks up its backlog immediately
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.scan(ctx)
	}()

	w.logger.Printf("started with schedule=%q, stuckThreshold=%v", w.config.Schedule, w.config.StuckThreshold)
	return nil
}

// Stop stops the worker gracefully, waiting for an in-flight scan.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	stopped := w.cron.Stop()
	w.mu.Unlock()

	<-stopped.Done()
	w.wg.Wait()
	w.logger.Printf("stopped")
}

// IsRunning returns true if the worker is running.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Config returns the worker's configuration.
func (w *Worker) Config() Config {
	return w.config
}

// ScanOnce performs a single scan synchronously.
func (w *Worker) ScanOnce(ctx context.Context) {
	w.scan(ctx)
}

// scan performs one pass over every sweep.
func (w *Worker) scan(ctx context.Context) {
	now := time.Now()

	// 1. Suspended instances whose signal deadline passed. Covers deadlines
	// whose in-process timer died with the process.
	expired, err := w.store.GetExpiredAwaiting(ctx, now.Add(-w.config.ExpiryGrace), w.config.BatchSize)
	if err != nil {
		w.logger.Printf("failed to load expired awaiting instances: %v", err)
	} else {
		w.sweep(ctx, expired)
	}

	// 2. Instances parked for reconciliation inside the window.
	parked, err := w.store.GetReconcilable(ctx, now.Add(-w.config.Window), w.config.MaxAttempts, w.config.BatchSize)
	if err != nil {
		w.logger.Printf("failed to load reconcilable instances: %v", err)
	} else {
		w.sweep(ctx, parked)
	}

	// 3. Instances abandoned mid-run by a crashed process.
	stuck, err := w.store.GetStuck(ctx, []fundflow.Status{
		fundflow.StatusInitialized,
		fundflow.StatusInitiating,
		fundflow.StatusFinalizing,
		fundflow.StatusCompensating,
	}, w.config.StuckThreshold, w.config.BatchSize)
	if err != nil {
		w.logger.Printf("failed to load stuck instances: %v", err)
	} else {
		w.sweep(ctx, stuck)
	}

	// 4. Anything non-terminal past its absolute deadline, including parked
	// instances the window no longer covers.
	overdue, err := w.store.GetOverdue(ctx, now, w.config.BatchSize)
	if err != nil {
		w.logger.Printf("failed to load overdue instances: %v", err)
	} else {
		w.sweep(ctx, overdue)
	}

	// 5. Expired idempotency records.
	if deleted, err := w.store.DeleteExpiredIdempotency(ctx); err != nil {
		w.logger.Printf("failed to delete expired idempotency records: %v", err)
	} else if deleted > 0 {
		w.logger.Printf("deleted %d expired idempotency records", deleted)
	}
}

// sweep processes one batch of instances.
func (w *Worker) sweep(ctx context.Context, instances []*fundflow.WorkflowInstance) {
	w.incrementScanned(int64(len(instances)))
	w.metrics.ReconcileScanned(len(instances))
	for _, inst := range instances {
		w.process(ctx, inst)
	}
}

// process resolves a single instance under a per-instance lock. The instance
// is reloaded after acquisition and dispatched on its current status, so a
// resolution that happened between the sweep query and the lock is honored.
func (w *Worker) process(ctx context.Context, inst *fundflow.WorkflowInstance) {
	lockKey := "reconcile:" + inst.WorkflowID
	handle, err := w.locker.Acquire(ctx, lockKey, w.id, w.config.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			// Another replica is processing this instance
			return
		}
		w.logger.Printf("failed to lock %s: %v", inst.WorkflowID, err)
		return
	}
	defer handle.Release(ctx)

	current, err := w.store.GetInstance(ctx, inst.WorkflowID)
	if err != nil {
		w.logger.Printf("failed to reload %s: %v", inst.WorkflowID, err)
		return
	}
	if current.IsTerminal() {
		return
	}

	switch {
	case current.Status == fundflow.StatusAwaitingSignal:
		deadline := current.SignalDeadline
		if deadline == nil || time.Since(*deadline) < w.config.ExpiryGrace {
			return
		}
		w.logger.Printf("expiring %s: signal deadline passed at %v", current.WorkflowID, deadline)
		_, err = w.coordinator.RunSignalTimeout(ctx, current)

	case fundflow.IsReconcilable(current.Status):
		var resolution string
		resolution, err = w.coordinator.Reconcile(ctx, current)
		if resolution != "" {
			w.logger.Printf("reconciled %s: %s (attempt %d)", current.WorkflowID, resolution, current.ReconcileAttempts)
		}

	default:
		if time.Since(current.UpdatedAt) < w.config.StuckThreshold {
			// The owning process may still be alive; leave it alone
			return
		}
		w.logger.Printf("resuming stuck %s (status=%s, silent since %v)", current.WorkflowID, current.Status, current.UpdatedAt)
		_, err = w.coordinator.ResumeStuck(ctx, current)
	}

	if err != nil {
		w.incrementFailed()
		w.logger.Printf("failed to resolve %s: %v", current.WorkflowID, err)
		w.publishEvent(ctx, event.NewEvent(event.EventAlertWarning).
			WithWorkflowID(current.WorkflowID).
			WithCorrelationID(current.CorrelationID).
			WithKind(string(current.Kind)).
			WithData("message", fmt.Sprintf("reconcile pass failed: %v", err)).
			WithError(err))
		return
	}

	w.incrementProcessed()
}

// publishEvent publishes an event to the event bus.
func (w *Worker) publishEvent(ctx context.Context, e event.Event) {
	if w.events != nil {
		w.events.Publish(ctx, e)
	}
}

// Metrics methods

func (w *Worker) incrementScanned(count int64) {
	w.metricsMu.Lock()
	defer w.metricsMu.Unlock()
	w.scannedCount += count
}

func (w *Worker) incrementProcessed() {
	w.metricsMu.Lock()
	defer w.metricsMu.Unlock()
	w.processedCount++
}

func (w *Worker) incrementFailed() {
	w.metricsMu.Lock()
	defer w.metricsMu.Unlock()
	w.failedCount++
}

// Stats holds the worker's counters since start or the last reset.
type Stats struct {
	ScannedCount   int64
	ProcessedCount int64
	FailedCount    int64
	IsRunning      bool
}

// Stats returns the current statistics of the worker.
func (w *Worker) Stats() Stats {
	w.metricsMu.RLock()
	defer w.metricsMu.RUnlock()
	return Stats{
		ScannedCount:   w.scannedCount,
		ProcessedCount: w.processedCount,
		FailedCount:    w.failedCount,
		IsRunning:      w.IsRunning(),
	}
}

// ResetStats resets the statistics counters.
func (w *Worker) ResetStats() {
	w.metricsMu.Lock()
	defer w.metricsMu.Unlock()
	w.scannedCount = 0
	w.processedCount = 0
	w.failedCount = 0
}

// Ensure the workflow coordinator satisfies the worker's interface.
var _ Coordinator = (*fundflow.Coordinator)(nil)
