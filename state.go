package fundflow

// Status represents the lifecycle status of a workflow instance
type Status string

const (
	// StatusInitialized indicates the instance has been created
	StatusInitialized Status = "INITIALIZED"
	// StatusInitiating indicates the initiation activities are running
	StatusInitiating Status = "INITIATING"
	// StatusInitiationFailed indicates initiation failed before anything irreversible
	StatusInitiationFailed Status = "INITIATION_FAILED"
	// StatusInitiated indicates the transfer has been initiated and authorization requested
	StatusInitiated Status = "INITIATED"
	// StatusAwaitingSignal indicates the instance is suspended on the authorization signal
	StatusAwaitingSignal Status = "AWAITING_SIGNAL"
	// StatusSignalTimeout indicates the authorization deadline elapsed without a signal
	StatusSignalTimeout Status = "SIGNAL_TIMEOUT"
	// StatusFinalizing indicates the finalization activities are running under the account lock
	StatusFinalizing Status = "FINALIZING"
	// StatusFinalizationTimeout indicates the finalize call timed out mid-flight and
	// the true outcome is only known to the bank; reconciliation owns the instance
	StatusFinalizationTimeout Status = "FINALIZATION_TIMEOUT"
	// StatusFinalizationFailed indicates finalization failed with no irreversible effect left behind
	StatusFinalizationFailed Status = "FINALIZATION_FAILED"
	// StatusFinalized indicates both legs completed successfully
	StatusFinalized Status = "FINALIZED"
	// StatusCompensating indicates compensation activities are running
	StatusCompensating Status = "COMPENSATING"
	// StatusRolledBack indicates compensation succeeded and the transfer was reversed
	StatusRolledBack Status = "ROLLED_BACK"
	// StatusCompensationRequired indicates compensation exhausted its retries and
	// an operator must resolve the instance by hand
	StatusCompensationRequired Status = "COMPENSATION_REQUIRED"
)

// validTransitions defines valid status transitions for workflow instances
var validTransitions = map[Status][]Status{
	StatusInitialized: {
		StatusInitiating,
	},
	StatusInitiating: {
		StatusInitiationFailed,
		StatusInitiated,
	},
	StatusInitiated: {
		StatusAwaitingSignal,
	},
	StatusAwaitingSignal: {
		StatusFinalizing,
		StatusSignalTimeout,
	},
	StatusSignalTimeout: {
		StatusFinalizationFailed,
		StatusCompensating,
	},
	StatusFinalizing: {
		StatusFinalized,
		StatusFinalizationFailed,
		StatusFinalizationTimeout,
		StatusCompensating,
	},
	StatusFinalizationTimeout: {
		StatusFinalizing,
		StatusFinalizationFailed,
	},
	StatusCompensating: {
		StatusRolledBack,
		StatusCompensationRequired,
	},
	StatusInitiationFailed:     {},
	StatusFinalizationFailed:   {},
	StatusFinalized:            {},
	StatusRolledBack:           {},
	StatusCompensationRequired: {},
}

// ValidateTransition checks if a workflow status transition is valid
func ValidateTransition(from, to Status) bool {
	validTargets, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, target := range validTargets {
		if target == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the status is terminal (no further transitions)
func IsTerminal(status Status) bool {
	switch status {
	case StatusInitiationFailed, StatusFinalizationFailed, StatusFinalized,
		StatusRolledBack, StatusCompensationRequired:
		return true
	default:
		return false
	}
}

// TerminalStatuses returns the set of terminal statuses.
func TerminalStatuses() []Status {
	return []Status{
		StatusInitiationFailed,
		StatusFinalizationFailed,
		StatusFinalized,
		StatusRolledBack,
		StatusCompensationRequired,
	}
}

// IsFailed returns true if the status represents a failed outcome
func IsFailed(status Status) bool {
	switch status {
	case StatusInitiationFailed, StatusFinalizationFailed, StatusCompensationRequired:
		return true
	default:
		return false
	}
}

// IsReconcilable returns true if the reconciliation job owns instances in this status.
// These are the statuses where the local view and the external truth may disagree.
func IsReconcilable(status Status) bool {
	return status == StatusFinalizationTimeout
}

// IsSuspended returns true if the instance is parked waiting for an external trigger
// (the authorization signal or the deadline timer).
func IsSuspended(status Status) bool {
	return status == StatusAwaitingSignal
}

// Phase identifies which part of the saga produced a history event
type Phase string

const (
	// PhaseInitiation covers validation, restriction checks and transfer initiation
	PhaseInitiation Phase = "initiation"
	// PhaseSignal covers authorization signal delivery and deadline expiry
	PhaseSignal Phase = "signal"
	// PhaseFinalization covers the activities run under the account lock
	PhaseFinalization Phase = "finalization"
	// PhaseCompensation covers compensation activities
	PhaseCompensation Phase = "compensation"
	// PhaseReconciliation covers reconciliation verification and resumption
	PhaseReconciliation Phase = "reconciliation"
)

// Outcome records how an activity or signal concluded in the history
type Outcome string

const (
	// OutcomeCompleted indicates the activity completed successfully
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed indicates the activity failed terminally
	OutcomeFailed Outcome = "failed"
	// OutcomeTimedOut indicates the activity timed out with the true result unknown
	OutcomeTimedOut Outcome = "timed_out"
	// OutcomeSkipped indicates the activity was not run
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDelivered indicates the authorization signal was durably accepted
	OutcomeDelivered Outcome = "delivered"
	// OutcomeExpired indicates the authorization deadline elapsed first
	OutcomeExpired Outcome = "expired"
)
