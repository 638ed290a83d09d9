package fundflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fundflow/event"
)

// runActivity drives one activity through its retry policy and reports a
// classified result, never a bare error. Retries apply only to TIMEOUT and
// INFRA classes; REJECTED and FATAL failures and the activity's own
// non-retryable set short-circuit immediately. Every run appends exactly one
// history event regardless of outcome.
func (c *Coordinator) runActivity(ctx context.Context, inst *WorkflowInstance, act *Activity) *ActivityResult {
	res := &ActivityResult{Activity: act.Name}

	c.publishEvent(ctx, event.NewEvent(event.EventActivityStarted).
		WithWorkflowID(inst.WorkflowID).
		WithCorrelationID(inst.CorrelationID).
		WithKind(string(inst.Kind)).
		WithActivity(act.Name))
	c.metrics.ActivityStarted(act.Name)

	started := time.Now()
	var failure *Failure
	for attempt := 1; attempt <= act.Policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.backoffSleep(ctx, act.Policy, attempt-1); err != nil {
				failure = NewFailure(ClassInfra, err)
				break
			}
		}

		res.Attempts = attempt

		attemptCtx, span := c.tracer.StartActivity(ctx, inst.WorkflowID, act.Name, attempt)
		err := c.attemptActivity(attemptCtx, inst, act)
		span.SetError(err)
		span.End()

		if err == nil {
			c.metrics.ActivityCompleted(act.Name, attempt, time.Since(started))
			c.publishEvent(ctx, event.NewEvent(event.EventActivityCompleted).
				WithWorkflowID(inst.WorkflowID).
				WithCorrelationID(inst.CorrelationID).
				WithKind(string(inst.Kind)).
				WithActivity(act.Name).
				WithData("attempts", attempt))
			c.record(ctx, inst, act.Phase, act.Name, OutcomeCompleted, "", attempt, "")
			return res
		}

		failure = Classify(err)
		c.metrics.ActivityFailed(act.Name, string(failure.Class))

		if !failure.Class.Retryable() || act.isNonRetryable(err) {
			break
		}
	}

	// Exhausting a retryable policy is reported distinctly so the caller can
	// tell "gave up" from "told no".
	if failure != nil && failure.Class.Retryable() && res.Attempts >= act.Policy.MaxAttempts {
		failure = NewFailure(failure.Class,
			fmt.Errorf("%w: %s: %v", ErrRetriesExhausted, act.Name, failure.Err))
	}
	res.Failure = failure

	c.publishEvent(ctx, event.NewEvent(event.EventActivityFailed).
		WithWorkflowID(inst.WorkflowID).
		WithCorrelationID(inst.CorrelationID).
		WithKind(string(inst.Kind)).
		WithActivity(act.Name).
		WithData("class", string(failure.Class)).
		WithData("attempts", res.Attempts).
		WithError(failure.Err))
	c.record(ctx, inst, act.Phase, act.Name, res.Outcome(), failure.Class, res.Attempts, failure.Err.Error())

	return res
}

// attemptActivity executes a single attempt, routed through the collaborator's
// circuit breaker when one is configured.
func (c *Coordinator) attemptActivity(ctx context.Context, inst *WorkflowInstance, act *Activity) error {
	if c.breaker == nil {
		return c.executeWithTimeout(ctx, inst, act)
	}

	cb := c.breaker.Get(act.Name)
	err := cb.Execute(ctx, func() error {
		return c.executeWithTimeout(ctx, inst, act)
	})
	c.observeBreaker(ctx, act.Name, cb.State())
	return err
}

// executeWithTimeout executes one attempt bounded by the per-attempt timeout.
func (c *Coordinator) executeWithTimeout(ctx context.Context, inst *WorkflowInstance, act *Activity) error {
	timeout := act.attemptTimeout(c.config.ActivityTimeout)

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- act.Run(timeoutCtx, inst)
	}()

	select {
	case err := <-done:
		return err
	case <-timeoutCtx.Done():
		if timeoutCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w: %s", ErrActivityTimeout, act.Name)
		}
		return timeoutCtx.Err()
	}
}

// backoffSleep waits out the policy backoff before the next attempt,
// returning early if the context is cancelled.
func (c *Coordinator) backoffSleep(ctx context.Context, policy RetryPolicy, attempt int) error {
	backoff := policy.Backoff(attempt)
	if backoff <= 0 {
		return nil
	}

	select {
	case <-time.After(backoff):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// record appends one history event for the instance. History is an audit
// trail: a failed append degrades to a warning alert, it never fails the
// workflow. Duplicate sequence rejections are retried with a fresh sequence.
func (c *Coordinator) record(ctx context.Context, inst *WorkflowInstance, phase Phase, activity string, outcome Outcome, class Class, attempts int, detail string) {
	var lastErr error
	for i := 0; i < 3; i++ {
		seq, err := c.store.NextHistorySeq(ctx, inst.WorkflowID)
		if err != nil {
			lastErr = err
			break
		}

		ev := NewHistoryEvent(inst.WorkflowID, seq, phase, activity, outcome)
		ev.Class = class
		ev.Attempts = attempts
		ev.Detail = detail

		err = c.store.AppendHistory(ctx, ev)
		if err == nil {
			return
		}
		lastErr = err
		if !errors.Is(err, ErrDuplicateHistorySeq) {
			break
		}
	}

	c.publishEvent(ctx, event.NewEvent(event.EventAlertWarning).
		WithWorkflowID(inst.WorkflowID).
		WithActivity(activity).
		WithData("message", "history append failed").
		WithError(lastErr))
}
