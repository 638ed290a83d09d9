package fundflow

import (
	"context"
	"errors"
	"time"
)

// Activity names. History events, metrics and circuit breakers are all
// keyed by these.
const (
	ActivityValidateUser      = "validate_user"
	ActivityCheckRestrictions = "check_restrictions"
	ActivityInitiateTransfer  = "initiate_transfer"
	ActivityFinalizeTransfer  = "finalize_transfer"
	ActivityFetchBrokerToken  = "fetch_broker_token"
	ActivityCreateBrokerOp    = "create_broker_operation"
	ActivityVerifyTransfer    = "verify_transfer_status"
	ActivityReverseTransfer   = "reverse_transfer"
	ActivityNotifyResult      = "notify_result"
	ActivityPersistInstance   = "persist_instance"

	// ActivityAwaitSignal names the suspension point in history; it is not a
	// registry entry and never runs through the executor.
	ActivityAwaitSignal = "await_signal"

	// ActivityOperatorAck names the manual acknowledgement recorded by the
	// admin surface on instances requiring operator intervention.
	ActivityOperatorAck = "operator_ack"
)

// Activity is one entry of the table-driven registry the executor consults.
// Each entry declares its per-attempt timeout, retry policy and the error
// set that short-circuits retries regardless of classification.
type Activity struct {
	// Name identifies the activity in history, metrics and breakers
	Name string

	// Phase is the saga phase the activity runs in
	Phase Phase

	// Policy is the retry policy class
	Policy RetryPolicy

	// Timeout bounds a single attempt; zero falls back to the engine default
	Timeout time.Duration

	// NonRetryable lists sentinel errors that stop the retry loop immediately
	NonRetryable []error

	// BestEffort marks activities whose failure never fails the workflow
	BestEffort bool

	// Run executes one attempt against the collaborator. Results that later
	// activities need are written onto the instance by the closure.
	Run func(ctx context.Context, inst *WorkflowInstance) error
}

// isNonRetryable returns true if err matches the activity's non-retryable set.
func (a *Activity) isNonRetryable(err error) bool {
	for _, target := range a.NonRetryable {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// attemptTimeout resolves the per-attempt timeout against the engine default.
func (a *Activity) attemptTimeout(fallback time.Duration) time.Duration {
	if a.Timeout > 0 {
		return a.Timeout
	}
	return fallback
}

// ActivityResult is what the executor reports back to the coordinator: the
// attempt count and the classified failure, never a bare error.
type ActivityResult struct {
	Activity string
	Attempts int
	Failure  *Failure
}

// OK returns true when the activity completed successfully.
func (r *ActivityResult) OK() bool {
	return r.Failure == nil
}

// Outcome maps the result to the history outcome vocabulary.
func (r *ActivityResult) Outcome() Outcome {
	if r.Failure == nil {
		return OutcomeCompleted
	}
	switch r.Failure.Class {
	case ClassTimeout:
		return OutcomeTimedOut
	default:
		return OutcomeFailed
	}
}
