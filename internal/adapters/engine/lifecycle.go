package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eleven-am/sagaflow/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const rejectedByApprover = "rejected by approver"

// transition persists the new status before applying it in memory.
func (e *Engine) transition(ctx context.Context, wctx *domain.ExecutionContext, to domain.WorkflowStatus, change domain.StatusChange) error {
	from := wctx.CurrentStatus()
	if !from.CanTransitionTo(to) {
		return domain.NewWorkflowError("engine", "transition", wctx.WorkflowID, domain.InvalidTransitionError(from, to))
	}

	change.Status = to
	change.At = e.now()
	if err := e.store.UpdateWorkflowStatus(ctx, wctx.WorkflowID, change); err != nil {
		return domain.NewWorkflowError("engine", "transition", wctx.WorkflowID, err)
	}
	wctx.SetStatus(to, change.At)

	e.logger.Debug("workflow status changed",
		"workflow_id", wctx.WorkflowID,
		"from", from,
		"to", to,
	)
	return nil
}

// fail moves the workflow to FAILED and, when auto rollback is on or force
// is set, drains the compensation stack.
func (e *Engine) fail(ctx context.Context, wctx *domain.ExecutionContext, step string, cause error, force bool) (domain.WorkflowStatus, error) {
	ctx = context.WithoutCancel(ctx)

	msg := cause.Error()
	if step != "" {
		msg = fmt.Sprintf("step %s: %s", step, msg)
	}
	wctx.SetLastError(msg)

	if err := e.transition(ctx, wctx, domain.WorkflowStatusFailed, domain.StatusChange{ErrorMessage: msg}); err != nil {
		e.logger.Error("failed to record workflow failure", "workflow_id", wctx.WorkflowID, "error", err)
		return wctx.CurrentStatus(), err
	}
	e.metrics.IncrementWorkflowsFailed()
	e.publish(&domain.WorkflowFailedEvent{
		WorkflowID: wctx.WorkflowID,
		FailedStep: step,
		Error:      msg,
		FailedAt:   e.now(),
	})
	e.logger.Warn("workflow failed", "workflow_id", wctx.WorkflowID, "step", step, "error", msg)

	if !force && !wctx.Spec.EnableAutoRollback {
		e.release(wctx)
		return domain.WorkflowStatusFailed, nil
	}
	return e.rollback(ctx, wctx, msg)
}

// rollback drains the stack of a FAILED workflow and marks it ROLLED_BACK.
// Compensation failures are recorded in the rollback reason.
func (e *Engine) rollback(ctx context.Context, wctx *domain.ExecutionContext, reason string) (domain.WorkflowStatus, error) {
	compensated, failed := e.drain(ctx, wctx)
	reason = rollbackReason(reason, failed)

	if err := e.transition(ctx, wctx, domain.WorkflowStatusRolledBack, domain.StatusChange{RollbackReason: reason}); err != nil {
		e.logger.Error("failed to record rollback", "workflow_id", wctx.WorkflowID, "error", err)
		return wctx.CurrentStatus(), err
	}
	e.metrics.IncrementWorkflowsRolledBack()
	e.publish(&domain.WorkflowRolledBackEvent{
		WorkflowID:         wctx.WorkflowID,
		Reason:             reason,
		Compensated:        compensated,
		FailedCompensation: failed,
		RolledBackAt:       e.now(),
	})
	e.logger.Info("workflow rolled back",
		"workflow_id", wctx.WorkflowID,
		"compensated", len(compensated),
		"failed", len(failed),
	)

	e.release(wctx)
	return domain.WorkflowStatusRolledBack, nil
}

// reject compensates a PAUSED workflow and leaves it FAILED.
func (e *Engine) reject(ctx context.Context, wctx *domain.ExecutionContext) (domain.WorkflowStatus, error) {
	ctx = context.WithoutCancel(ctx)
	wctx.SetLastError(rejectedByApprover)

	if err := e.transition(ctx, wctx, domain.WorkflowStatusFailed, domain.StatusChange{ErrorMessage: rejectedByApprover}); err != nil {
		return wctx.CurrentStatus(), err
	}
	e.metrics.IncrementWorkflowsFailed()

	compensated, failed := e.drain(ctx, wctx)
	reason := rollbackReason(rejectedByApprover, failed)
	if err := e.store.UpdateWorkflowStatus(ctx, wctx.WorkflowID, domain.StatusChange{
		Status:         domain.WorkflowStatusFailed,
		RollbackReason: reason,
		At:             e.now(),
	}); err != nil {
		e.logger.Error("failed to record rejection rollback", "workflow_id", wctx.WorkflowID, "error", err)
	}

	e.publish(&domain.WorkflowFailedEvent{
		WorkflowID: wctx.WorkflowID,
		Error:      rejectedByApprover,
		FailedAt:   e.now(),
	})
	e.logger.Info("workflow rejected",
		"workflow_id", wctx.WorkflowID,
		"compensated", len(compensated),
		"failed", len(failed),
	)

	e.release(wctx)
	return domain.WorkflowStatusFailed, nil
}

func rollbackReason(reason string, failed []string) string {
	if len(failed) == 0 {
		return reason
	}
	return fmt.Sprintf("%s; compensation failed for: %s", reason, strings.Join(failed, ", "))
}

func (e *Engine) pause(ctx context.Context, wctx *domain.ExecutionContext, reason string) (domain.WorkflowStatus, error) {
	if err := e.transition(ctx, wctx, domain.WorkflowStatusPaused, domain.StatusChange{}); err != nil {
		return wctx.CurrentStatus(), err
	}
	e.metrics.IncrementWorkflowsPaused()

	paused := wctx.PausedSteps()
	e.publish(&domain.WorkflowPausedEvent{
		WorkflowID:  wctx.WorkflowID,
		PausedSteps: paused,
		Reason:      reason,
		PausedAt:    e.now(),
	})
	e.logger.Info("workflow paused", "workflow_id", wctx.WorkflowID, "steps", paused, "reason", reason)
	return domain.WorkflowStatusPaused, nil
}

// complete consults the post-execution hook before marking the workflow
// COMPLETED. A deny there fails the workflow and always compensates.
func (e *Engine) complete(ctx context.Context, wctx *domain.ExecutionContext) (domain.WorkflowStatus, error) {
	hook := e.consultHook("post_execution", wctx, func(v *domain.ExecutionView) (domain.HookResult, error) {
		return e.hooks.PostExecution(ctx, v)
	})
	switch hook.Decision {
	case domain.HookDeny:
		return e.fail(ctx, wctx, "", fmt.Errorf("%w: %s", errDenied, hookReason(hook, "post-execution governance hook")), true)
	case domain.HookPause:
		e.logger.Warn("post-execution pause ignored; nothing left to gate", "workflow_id", wctx.WorkflowID)
	}

	if err := e.transition(ctx, wctx, domain.WorkflowStatusCompleted, domain.StatusChange{}); err != nil {
		return wctx.CurrentStatus(), err
	}
	e.metrics.IncrementWorkflowsCompleted()

	view := wctx.View()
	var duration time.Duration
	if view.StartedAt != nil && view.CompletedAt != nil {
		duration = view.CompletedAt.Sub(*view.StartedAt)
	}
	e.publish(&domain.WorkflowCompletedEvent{
		WorkflowID:     wctx.WorkflowID,
		FinalState:     view.State,
		CompletedSteps: view.CompletedSteps,
		CompletedAt:    e.now(),
		Duration:       duration,
	})
	e.logger.Info("workflow completed", "workflow_id", wctx.WorkflowID, "steps", len(view.CompletedSteps), "duration", duration)

	e.release(wctx)
	return domain.WorkflowStatusCompleted, nil
}

// approvePaused releases every step the workflow was waiting on. Approval
// steps become COMPLETED; gated action steps are flagged approved and run
// again on the next scheduler pass.
func (e *Engine) approvePaused(ctx context.Context, wctx *domain.ExecutionContext, approver string) error {
	for _, name := range wctx.TakePaused() {
		step, ok := wctx.Spec.Step(name)
		if !ok {
			continue
		}

		if step.Kind == domain.StepKindHumanApproval {
			if err := e.completeApproval(ctx, wctx, step, approver); err != nil {
				return err
			}
			continue
		}

		wctx.Approve(name)
		now := e.now()
		if err := e.store.CheckpointStep(ctx, domain.StepRecord{
			WorkflowID: wctx.WorkflowID,
			StepName:   name,
			Kind:       step.Kind,
			Status:     domain.StepStatusPending,
			Approved:   true,
			UpdatedAt:  now,
		}); err != nil {
			return domain.NewStepError("engine", "approve", wctx.WorkflowID, name, err)
		}
	}
	return nil
}

func (e *Engine) completeApproval(ctx context.Context, wctx *domain.ExecutionContext, step domain.StepDefinition, approver string) error {
	wctx.Lock()
	defer wctx.Unlock()

	outputs := map[string]interface{}{
		"approved":    true,
		"approved_by": approver,
	}
	state := wctx.StateSnapshot()
	if err := domain.MergeStepOutputs(state, step.Name, outputs, wctx.Spec.StepNames()...); err != nil {
		return domain.NewStepError("engine", "approve", wctx.WorkflowID, step.Name, err)
	}

	now := e.now()
	if err := e.store.CheckpointStep(ctx, domain.StepRecord{
		WorkflowID:  wctx.WorkflowID,
		StepName:    step.Name,
		Kind:        step.Kind,
		Status:      domain.StepStatusCompleted,
		Outputs:     outputs,
		Approved:    true,
		CompletedAt: &now,
		UpdatedAt:   now,
	}); err != nil {
		return domain.NewStepError("engine", "approve", wctx.WorkflowID, step.Name, err)
	}

	wctx.ReplaceState(state)
	wctx.MarkCompleted(step.Name)
	wctx.Approve(step.Name)
	return nil
}

// consultHook runs a governance hook against a fresh view. Hook errors are
// logged and treated as allow.
func (e *Engine) consultHook(phase string, wctx *domain.ExecutionContext, call func(*domain.ExecutionView) (domain.HookResult, error)) domain.HookResult {
	view := wctx.View()
	result, err := call(&view)
	if err != nil {
		e.logger.Warn("governance hook failed, treating as allow",
			"phase", phase,
			"workflow_id", wctx.WorkflowID,
			"error", err,
		)
		return domain.Allow()
	}
	if result.Decision == "" {
		result.Decision = domain.HookAllow
	}
	return result
}

func hookReason(result domain.HookResult, fallback string) string {
	if result.Reason != "" {
		return result.Reason
	}
	return fallback
}

func (e *Engine) startWorkflowSpan(ctx context.Context, name string, wctx *domain.ExecutionContext) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("workflow.id", wctx.WorkflowID),
		attribute.String("workflow.name", wctx.Spec.Name),
		attribute.String("principal.id", wctx.Principal.ID),
	))
}

func (e *Engine) finishSpan(span trace.Span, status domain.WorkflowStatus, err error) (domain.WorkflowStatus, error) {
	span.SetAttributes(attribute.String("workflow.status", string(status)))
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case status == domain.WorkflowStatusFailed || status == domain.WorkflowStatusRolledBack:
		span.SetStatus(codes.Error, string(status))
	}
	return status, err
}
