package fundflow

import (
	"context"
	"fmt"

	"fundflow/event"
)

// RunCompensation reverses the irreversible work of a workflow whose later
// steps failed. Compensations run in strict reverse order of the steps that
// completed; for this saga the only registered compensation is reversing the
// finalized bank transfer. Exhausting compensation retries is the worst
// outcome the engine knows: the instance terminates as COMPENSATION_REQUIRED
// and a critical alert demands an operator.
func (c *Coordinator) RunCompensation(ctx context.Context, inst *WorkflowInstance, cause error) (*WorkflowInstance, error) {
	if err := c.transition(inst, StatusCompensating); err != nil {
		return inst, err
	}
	inst.ErrorMsg = cause.Error()
	if err := c.persistInstance(ctx, inst); err != nil {
		return inst, err
	}

	c.publishEvent(ctx, event.NewEvent(event.EventCompensationStarted).
		WithWorkflowID(inst.WorkflowID).
		WithCorrelationID(inst.CorrelationID).
		WithKind(string(inst.Kind)).
		WithError(cause))

	return c.compensate(ctx, inst, cause)
}

// compensate runs the registered compensations for an instance already in
// COMPENSATING. Split from RunCompensation so a crashed compensation can be
// resumed without repeating the status transition.
func (c *Coordinator) compensate(ctx context.Context, inst *WorkflowInstance, cause error) (*WorkflowInstance, error) {
	comps := c.compensationActivities(inst)
	for i := len(comps) - 1; i >= 0; i-- {
		res := c.runActivity(ctx, inst, comps[i])
		if !res.OK() {
			return c.failCompensation(ctx, inst, comps[i].Name, res.Failure)
		}
	}

	c.metrics.CompensationCompleted(string(inst.Kind))
	c.publishEvent(ctx, event.NewEvent(event.EventCompensationCompleted).
		WithWorkflowID(inst.WorkflowID).
		WithCorrelationID(inst.CorrelationID).
		WithKind(string(inst.Kind)))

	if err := c.finish(ctx, inst, StatusRolledBack, cause); err != nil {
		return inst, err
	}
	return inst, nil
}

// compensationActivities returns the registered compensations in the
// completion order of the steps they undo; the caller runs them reversed.
// The broker operation is the saga's final effect and has no compensation.
func (c *Coordinator) compensationActivities(inst *WorkflowInstance) []*Activity {
	var comps []*Activity
	if inst.TransferFinalized() {
		comps = append(comps, c.reverseTransferActivity())
	}
	return comps
}

// reverseTransferActivity undoes the finalized transfer. Aggressive policy:
// this is the last automatic line before an operator gets paged.
func (c *Coordinator) reverseTransferActivity() *Activity {
	return &Activity{
		Name:   ActivityReverseTransfer,
		Phase:  PhaseCompensation,
		Policy: PolicyCompensation,
		Run: func(ctx context.Context, inst *WorkflowInstance) error {
			return c.collab.Transfers.ReverseTransfer(ctx, inst.TransferReference, inst.CorrelationID)
		},
	}
}

// failCompensation terminates a workflow whose compensation could not
// complete. Manual review is mandatory from here.
func (c *Coordinator) failCompensation(ctx context.Context, inst *WorkflowInstance, activity string, failure *Failure) (*WorkflowInstance, error) {
	inst.ManualReview = true
	compErr := fmt.Errorf("%w: %s: %v", ErrCompensationFailed, activity, failure.Err)

	c.metrics.CompensationFailed(string(inst.Kind))
	c.publishEvent(ctx, event.NewEvent(event.EventCompensationFailed).
		WithWorkflowID(inst.WorkflowID).
		WithCorrelationID(inst.CorrelationID).
		WithKind(string(inst.Kind)).
		WithActivity(activity).
		WithError(failure.Err))
	c.publishEvent(ctx, event.NewEvent(event.EventAlertCritical).
		WithWorkflowID(inst.WorkflowID).
		WithCorrelationID(inst.CorrelationID).
		WithKind(string(inst.Kind)).
		WithData("message", fmt.Sprintf("workflow %s compensation failed at %s, manual action required", inst.WorkflowID, activity)).
		WithError(failure.Err))

	if err := c.finish(ctx, inst, StatusCompensationRequired, compErr); err != nil {
		return inst, err
	}
	return inst, compErr
}
