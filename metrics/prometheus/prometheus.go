// Package prometheus provides a Prometheus implementation of the metrics interface.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"fundflow/circuit"
	"fundflow/metrics"
)

// PrometheusMetrics implements the Metrics interface using Prometheus.
type PrometheusMetrics struct {
	// Workflow metrics
	workflowStartedTotal   *prometheus.CounterVec
	workflowCompletedTotal *prometheus.CounterVec
	workflowDuration       *prometheus.HistogramVec

	// Activity metrics
	activityStartedTotal   *prometheus.CounterVec
	activityCompletedTotal *prometheus.CounterVec
	activityFailedTotal    *prometheus.CounterVec
	activityAttempts       *prometheus.HistogramVec
	activityDuration       *prometheus.HistogramVec

	// Signal metrics
	signalDeliveredTotal *prometheus.CounterVec
	signalTimeoutTotal   *prometheus.CounterVec
	signalRejectedTotal  *prometheus.CounterVec
	signalWaitDuration   *prometheus.HistogramVec

	// Compensation metrics
	compensationCompletedTotal *prometheus.CounterVec
	compensationFailedTotal    *prometheus.CounterVec

	// Circuit breaker metrics
	circuitState *prometheus.GaugeVec

	// Reconciliation metrics
	reconcileScannedTotal   prometheus.Counter
	reconcileProcessedTotal *prometheus.CounterVec

	// Lock metrics
	lockAcquiredTotal     prometheus.Counter
	lockDeniedTotal       prometheus.Counter
	lockExtendedTotal     prometheus.Counter
	lockExtendFailedTotal prometheus.Counter
	lockAcquireDuration   prometheus.Histogram
}

var _ metrics.Metrics = (*PrometheusMetrics)(nil)

// Config holds configuration for PrometheusMetrics.
type Config struct {
	// Namespace is the prefix for all metrics (e.g., "fundflow")
	Namespace string
	// Subsystem is an optional subsystem name
	Subsystem string
	// Registry is the Prometheus registry to use. If nil, the default registry is used.
	Registry prometheus.Registerer
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Namespace: "fundflow",
		Subsystem: "",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// New creates a new PrometheusMetrics instance with the given configuration.
func New(cfg Config) *PrometheusMetrics {
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(cfg.Registry)

	return &PrometheusMetrics{
		// Workflow metrics
		workflowStartedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "workflow_started_total",
			Help:      "Total number of workflow instances started",
		}, []string{"kind"}),

		workflowCompletedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "workflow_completed_total",
			Help:      "Total number of workflow instances reaching a terminal status",
		}, []string{"kind", "status"}),

		workflowDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "workflow_duration_seconds",
			Help:      "Workflow duration from start to terminal status in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~5min
		}, []string{"kind", "status"}),

		// Activity metrics
		activityStartedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "activity_started_total",
			Help:      "Total number of activities started",
		}, []string{"activity"}),

		activityCompletedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "activity_completed_total",
			Help:      "Total number of activities completed successfully",
		}, []string{"activity"}),

		activityFailedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "activity_failed_total",
			Help:      "Total number of activities failed after exhausting their policy",
		}, []string{"activity", "class"}),

		activityAttempts: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "activity_attempts",
			Help:      "Attempts used per completed activity",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}, []string{"activity"}),

		activityDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "activity_duration_seconds",
			Help:      "Activity duration including retries in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		}, []string{"activity"}),

		// Signal metrics
		signalDeliveredTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "signal_delivered_total",
			Help:      "Total number of authorization signals durably accepted",
		}, []string{"kind"}),

		signalTimeoutTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "signal_timeout_total",
			Help:      "Total number of authorization deadlines elapsed without a signal",
		}, []string{"kind"}),

		signalRejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "signal_rejected_total",
			Help:      "Total number of signals rejected as no longer accepted",
		}, []string{"kind"}),

		signalWaitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "signal_wait_duration_seconds",
			Help:      "Time between suspension and signal acceptance in seconds",
			Buckets:   prometheus.LinearBuckets(1, 2, 12), // 1s to 23s
		}, []string{"kind"}),

		// Compensation metrics
		compensationCompletedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "compensation_completed_total",
			Help:      "Total number of instances rolled back successfully",
		}, []string{"kind"}),

		compensationFailedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "compensation_failed_total",
			Help:      "Total number of instances left requiring manual compensation",
		}, []string{"kind"}),

		// Circuit breaker metrics
		circuitState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "circuit_breaker_state",
			Help:      "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
		}, []string{"collaborator"}),

		// Reconciliation metrics
		reconcileScannedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "reconcile_scanned_total",
			Help:      "Total number of instances scanned by reconciliation",
		}),

		reconcileProcessedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "reconcile_processed_total",
			Help:      "Total number of instances processed by reconciliation",
		}, []string{"resolution"}),

		// Lock metrics
		lockAcquiredTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "lock_acquired_total",
			Help:      "Total number of account locks acquired",
		}),

		lockDeniedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "lock_denied_total",
			Help:      "Total number of lock acquisitions denied by a concurrent holder",
		}),

		lockExtendedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "lock_extended_total",
			Help:      "Total number of lock extensions",
		}),

		lockExtendFailedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "lock_extend_failed_total",
			Help:      "Total number of lock extension failures",
		}),

		lockAcquireDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "lock_acquire_duration_seconds",
			Help:      "Time taken to acquire the account lock in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		}),
	}
}

// Workflow metrics

func (p *PrometheusMetrics) WorkflowStarted(kind string) {
	p.workflowStartedTotal.WithLabelValues(kind).Inc()
}

func (p *PrometheusMetrics) WorkflowCompleted(kind, status string, duration time.Duration) {
	p.workflowCompletedTotal.WithLabelValues(kind, status).Inc()
	p.workflowDuration.WithLabelValues(kind, status).Observe(duration.Seconds())
}

// Activity metrics

func (p *PrometheusMetrics) ActivityStarted(activity string) {
	p.activityStartedTotal.WithLabelValues(activity).Inc()
}

func (p *PrometheusMetrics) ActivityCompleted(activity string, attempts int, duration time.Duration) {
	p.activityCompletedTotal.WithLabelValues(activity).Inc()
	p.activityAttempts.WithLabelValues(activity).Observe(float64(attempts))
	p.activityDuration.WithLabelValues(activity).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ActivityFailed(activity, class string) {
	p.activityFailedTotal.WithLabelValues(activity, class).Inc()
}

// Signal metrics

func (p *PrometheusMetrics) SignalDelivered(kind string, waited time.Duration) {
	p.signalDeliveredTotal.WithLabelValues(kind).Inc()
	p.signalWaitDuration.WithLabelValues(kind).Observe(waited.Seconds())
}

func (p *PrometheusMetrics) SignalTimeout(kind string) {
	p.signalTimeoutTotal.WithLabelValues(kind).Inc()
}

func (p *PrometheusMetrics) SignalRejected(kind string) {
	p.signalRejectedTotal.WithLabelValues(kind).Inc()
}

// Compensation metrics

func (p *PrometheusMetrics) CompensationCompleted(kind string) {
	p.compensationCompletedTotal.WithLabelValues(kind).Inc()
}

func (p *PrometheusMetrics) CompensationFailed(kind string) {
	p.compensationFailedTotal.WithLabelValues(kind).Inc()
}

// Circuit breaker metrics

func (p *PrometheusMetrics) CircuitStateChanged(collaborator string, state circuit.State) {
	p.circuitState.WithLabelValues(collaborator).Set(float64(state))
}

// Reconciliation metrics

func (p *PrometheusMetrics) ReconcileScanned(count int) {
	p.reconcileScannedTotal.Add(float64(count))
}

func (p *PrometheusMetrics) ReconcileProcessed(resolution string) {
	p.reconcileProcessedTotal.WithLabelValues(resolution).Inc()
}

// Lock metrics

func (p *PrometheusMetrics) LockAcquired(duration time.Duration) {
	p.lockAcquiredTotal.Inc()
	p.lockAcquireDuration.Observe(duration.Seconds())
}

func (p *PrometheusMetrics) LockDenied() {
	p.lockDeniedTotal.Inc()
}

func (p *PrometheusMetrics) LockExtended() {
	p.lockExtendedTotal.Inc()
}

func (p *PrometheusMetrics) LockExtendFailed() {
	p.lockExtendFailedTotal.Inc()
}
