// Package metrics provides the metrics interface for the workflow engine.
package metrics

import (
	"time"

	"fundflow/circuit"
)

// Metrics defines the interface for collecting observability metrics.
// Implementations can use Prometheus, StatsD, or other metrics backends.
type Metrics interface {
	// Workflow metrics
	WorkflowStarted(kind string)
	WorkflowCompleted(kind, status string, duration time.Duration)

	// Activity metrics
	ActivityStarted(activity string)
	ActivityCompleted(activity string, attempts int, duration time.Duration)
	ActivityFailed(activity, class string)

	// Signal metrics
	SignalDelivered(kind string, waited time.Duration)
	SignalTimeout(kind string)
	SignalRejected(kind string)

	// Compensation metrics
	CompensationCompleted(kind string)
	CompensationFailed(kind string)

	// Circuit breaker metrics
	CircuitStateChanged(collaborator string, state circuit.State)

	// Reconciliation metrics
	ReconcileScanned(count int)
	ReconcileProcessed(resolution string)

	// Lock metrics
	LockAcquired(duration time.Duration)
	LockDenied()
	LockExtended()
	LockExtendFailed()
}

// NoopMetrics is a no-op implementation of Metrics for testing or when metrics are disabled.
type NoopMetrics struct{}

var _ Metrics = (*NoopMetrics)(nil)

func (n *NoopMetrics) WorkflowStarted(kind string)                                      {}
func (n *NoopMetrics) WorkflowCompleted(kind, status string, duration time.Duration)    {}
func (n *NoopMetrics) ActivityStarted(activity string)                                  {}
func (n *NoopMetrics) ActivityCompleted(activity string, attempts int, d time.Duration) {}
func (n *NoopMetrics) ActivityFailed(activity, class string)                            {}
func (n *NoopMetrics) SignalDelivered(kind string, waited time.Duration)                {}
func (n *NoopMetrics) SignalTimeout(kind string)                                        {}
func (n *NoopMetrics) SignalRejected(kind string)                                       {}
func (n *NoopMetrics) CompensationCompleted(kind string)                                {}
func (n *NoopMetrics) CompensationFailed(kind string)                                   {}
func (n *NoopMetrics) CircuitStateChanged(collaborator string, s circuit.State)         {}
func (n *NoopMetrics) ReconcileScanned(count int)                                       {}
func (n *NoopMetrics) ReconcileProcessed(resolution string)                             {}
func (n *NoopMetrics) LockAcquired(duration time.Duration)                              {}
func (n *NoopMetrics) LockDenied()                                                      {}
func (n *NoopMetrics) LockExtended()                                                    {}
func (n *NoopMetrics) LockExtendFailed()                                                {}
