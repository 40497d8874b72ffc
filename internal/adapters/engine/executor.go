package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/eleven-am/sagaflow/internal/adapters/compensation"
	"github.com/eleven-am/sagaflow/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func (e *Engine) runStep(ctx context.Context, wctx *domain.ExecutionContext, step domain.StepDefinition) stepResult {
	ctx, span := e.tracer.Start(ctx, "step "+step.Name, trace.WithAttributes(
		attribute.String("workflow.id", wctx.WorkflowID),
		attribute.String("step.name", step.Name),
		attribute.String("step.kind", string(step.Kind)),
		attribute.String("step.capability", step.CapabilityID),
	))
	defer span.End()

	result := e.executeStep(ctx, wctx, step)
	switch result.outcome {
	case stepDone:
		span.SetAttributes(attribute.String("step.outcome", "completed"))
	case stepPaused:
		span.SetAttributes(attribute.String("step.outcome", "paused"))
	case stepFailed:
		span.SetAttributes(attribute.String("step.outcome", "failed"))
		span.RecordError(result.err)
		span.SetStatus(codes.Error, result.err.Error())
	}
	return result
}

func (e *Engine) executeStep(ctx context.Context, wctx *domain.ExecutionContext, step domain.StepDefinition) stepResult {
	if e.watchdog != nil {
		if err := e.watchdog.Check(ctx, wctx.WorkflowID); err != nil {
			return e.failStep(ctx, wctx, step, 0, err)
		}
	}

	if step.Kind == domain.StepKindHumanApproval {
		return e.awaitApproval(ctx, wctx, step)
	}

	inputs, err := resolveInputs(step.Inputs, wctx.StateSnapshot())
	if err != nil {
		return e.failStep(ctx, wctx, step, 0, err)
	}

	approved := wctx.IsApproved(step.Name)
	if !approved {
		hook := e.consultHook("pre_step", wctx, func(v *domain.ExecutionView) (domain.HookResult, error) {
			return e.hooks.PreStep(ctx, v, step, inputs)
		})
		switch hook.Decision {
		case domain.HookDeny:
			return e.failStep(ctx, wctx, step, 0, fmt.Errorf("%w: %s", errDenied, hookReason(hook, "pre-step governance hook")))
		case domain.HookPause:
			return e.gate(ctx, wctx, step, inputs, hookReason(hook, "pre-step governance hook"))
		}

		decision, err := e.policy.Check(ctx, wctx.Principal, step.CapabilityID, step.RiskLevel, executionInfo(wctx, step, 0))
		if err != nil {
			return e.failStep(ctx, wctx, step, 0, fmt.Errorf("policy check: %w", err))
		}
		switch decision {
		case domain.PolicyAllow, "":
		case domain.PolicyDeny:
			return e.failStep(ctx, wctx, step, 0, fmt.Errorf("%w: policy denied %s", errDenied, step.CapabilityID))
		case domain.PolicyRequireApproval:
			return e.gate(ctx, wctx, step, inputs, fmt.Sprintf("policy requires approval for %s", step.CapabilityID))
		default:
			return e.failStep(ctx, wctx, step, 0, fmt.Errorf("%w: unknown policy decision %q", domain.ErrInvalidInput, decision))
		}
	}

	started := e.now()
	if err := e.store.CheckpointStep(ctx, domain.StepRecord{
		WorkflowID: wctx.WorkflowID,
		StepName:   step.Name,
		Kind:       step.Kind,
		Status:     domain.StepStatusRunning,
		Inputs:     inputs,
		Approved:   approved,
		StartedAt:  &started,
		UpdatedAt:  started,
	}); err != nil {
		return e.failStep(ctx, wctx, step, 0, err)
	}

	result, attempts, err := e.invoke(ctx, wctx, step, inputs)
	if err != nil {
		return e.failStep(ctx, wctx, step, attempts, err)
	}
	if err := e.commit(ctx, wctx, step, inputs, result, attempts, started); err != nil {
		return e.failStep(ctx, wctx, step, attempts, err)
	}

	hook := e.consultHook("post_step", wctx, func(v *domain.ExecutionView) (domain.HookResult, error) {
		return e.hooks.PostStep(ctx, v, step, result)
	})
	switch hook.Decision {
	case domain.HookDeny:
		return stepResult{
			outcome: stepFailed,
			step:    step.Name,
			err:     fmt.Errorf("%w: %s", errDenied, hookReason(hook, "post-step governance hook")),
		}
	case domain.HookPause:
		return stepResult{outcome: stepPaused, step: step.Name, reason: hookReason(hook, "post-step governance hook")}
	}
	return stepResult{outcome: stepDone, step: step.Name}
}

// awaitApproval parks a HUMAN_APPROVAL step. The step counts as completed
// for scheduling so an approve does not enter it again.
func (e *Engine) awaitApproval(ctx context.Context, wctx *domain.ExecutionContext, step domain.StepDefinition) stepResult {
	reason := step.Description
	if reason == "" {
		reason = fmt.Sprintf("awaiting approval for step %s", step.Name)
	}
	if err := e.requestApproval(ctx, wctx, step, reason); err != nil {
		return e.failStep(ctx, wctx, step, 0, err)
	}

	now := e.now()
	if err := e.store.CheckpointStep(ctx, domain.StepRecord{
		WorkflowID: wctx.WorkflowID,
		StepName:   step.Name,
		Kind:       step.Kind,
		Status:     domain.StepStatusPaused,
		StartedAt:  &now,
		UpdatedAt:  now,
	}); err != nil {
		return e.failStep(ctx, wctx, step, 0, err)
	}

	wctx.MarkCompleted(step.Name)
	wctx.AddPaused(step.Name)
	return stepResult{outcome: stepPaused, step: step.Name, reason: reason}
}

// gate pauses an action step that governance or policy wants approved. The
// step is not completed; it runs on the next pass once approved.
func (e *Engine) gate(ctx context.Context, wctx *domain.ExecutionContext, step domain.StepDefinition, inputs map[string]interface{}, reason string) stepResult {
	if err := e.requestApproval(ctx, wctx, step, reason); err != nil {
		return e.failStep(ctx, wctx, step, 0, err)
	}

	now := e.now()
	if err := e.store.CheckpointStep(ctx, domain.StepRecord{
		WorkflowID: wctx.WorkflowID,
		StepName:   step.Name,
		Kind:       step.Kind,
		Status:     domain.StepStatusPaused,
		Inputs:     inputs,
		UpdatedAt:  now,
	}); err != nil {
		return e.failStep(ctx, wctx, step, 0, err)
	}

	wctx.AddPaused(step.Name)
	e.logger.Info("step gated for approval", "workflow_id", wctx.WorkflowID, "step", step.Name, "reason", reason)
	return stepResult{outcome: stepPaused, step: step.Name, reason: reason}
}

func (e *Engine) requestApproval(ctx context.Context, wctx *domain.ExecutionContext, step domain.StepDefinition, reason string) error {
	if e.approvals == nil {
		return nil
	}
	err := e.approvals.RequestApproval(ctx, domain.ApprovalRequest{
		WorkflowID:  wctx.WorkflowID,
		StepName:    step.Name,
		Principal:   wctx.Principal,
		Reason:      reason,
		RequestedAt: e.now(),
	})
	if err != nil {
		return fmt.Errorf("request approval: %w", err)
	}
	return nil
}

// invoke calls the capability with bounded retries. It returns the number
// of attempts made alongside the last error.
func (e *Engine) invoke(ctx context.Context, wctx *domain.ExecutionContext, step domain.StepDefinition, inputs map[string]interface{}) (*domain.ExecutionResult, int, error) {
	maxAttempts := e.config.EffectiveMaxRetries(step.MaxRetries)

	var (
		result  *domain.ExecutionResult
		attempt int
	)
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		e.metrics.IncrementStepsExecuted()

		res, err := e.attempt(ctx, wctx, step, inputs, attempt)
		if err != nil {
			if errors.Is(err, domain.ErrCapabilityNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = res
		return nil
	}
	notify := func(err error, wait time.Duration) {
		e.metrics.IncrementStepsRetried()
		e.logger.Warn("step attempt failed, retrying",
			"workflow_id", wctx.WorkflowID,
			"step", step.Name,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"wait", wait,
			"error", err,
		)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(e.newBackOff(), uint64(maxAttempts-1)), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, attempt, err
	}
	return result, attempt, nil
}

func (e *Engine) attempt(ctx context.Context, wctx *domain.ExecutionContext, step domain.StepDefinition, inputs map[string]interface{}, n int) (*domain.ExecutionResult, error) {
	if e.config.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.StepTimeout)
		defer cancel()
	}

	result, err := e.executor.Execute(ctx, step.CapabilityID, inputs, executionInfo(wctx, step, n))
	if err != nil {
		return nil, err
	}
	if result == nil {
		return &domain.ExecutionResult{Success: true}, nil
	}
	if !result.Success {
		if result.ErrorMessage == "" {
			return nil, errFailed
		}
		return nil, fmt.Errorf("%w: %s", errFailed, result.ErrorMessage)
	}
	return result, nil
}

func (e *Engine) newBackOff() backoff.BackOff {
	if e.config.RetryInitialInterval <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.config.RetryInitialInterval
	if e.config.RetryMaxInterval > 0 {
		b.MaxInterval = e.config.RetryMaxInterval
	}
	if e.config.RetryMultiplier >= 1 {
		b.Multiplier = e.config.RetryMultiplier
	}
	b.MaxElapsedTime = 0
	return b
}

// commit folds a successful result into the workflow. The compensation entry
// is logged before the COMPLETED row so a completed step always has its undo
// on record. The entry joins the in-memory stack only once both writes land.
func (e *Engine) commit(ctx context.Context, wctx *domain.ExecutionContext, step domain.StepDefinition, inputs map[string]interface{}, result *domain.ExecutionResult, attempts int, started time.Time) error {
	outputs, err := domain.NormalizeMap(result.Outputs)
	if err != nil {
		return fmt.Errorf("normalize outputs: %w", err)
	}

	wctx.Lock()
	defer wctx.Unlock()

	state := wctx.StateSnapshot()
	if err := domain.MergeStepOutputs(state, step.Name, outputs, wctx.Spec.StepNames()...); err != nil {
		return err
	}

	intent, ok, err := e.codec.Encode(result.Undo)
	if err != nil {
		e.logger.Warn("undo action rejected by codec",
			"workflow_id", wctx.WorkflowID,
			"step", step.Name,
			"error", err,
		)
		ok = false
	}
	if !ok && step.Compensation != nil {
		params, err := resolveInputs(step.Compensation.Inputs, state)
		if err != nil {
			return fmt.Errorf("compensation inputs: %w", err)
		}
		intent, ok = compensation.FromDefinition(step.Compensation, params), true
	}

	var recordID string
	if ok {
		if recordID, err = e.store.LogCompensation(ctx, wctx.WorkflowID, step.Name, intent); err != nil {
			return fmt.Errorf("log compensation: %w", err)
		}
	}

	now := e.now()
	if err := e.store.CheckpointStep(ctx, domain.StepRecord{
		WorkflowID:  wctx.WorkflowID,
		StepName:    step.Name,
		Kind:        step.Kind,
		Status:      domain.StepStatusCompleted,
		Inputs:      inputs,
		Outputs:     outputs,
		Attempts:    attempts,
		Approved:    wctx.IsApproved(step.Name),
		StartedAt:   &started,
		CompletedAt: &now,
		UpdatedAt:   now,
	}); err != nil {
		if ok {
			e.discardCompensation(ctx, wctx.WorkflowID, step.Name, recordID, "step checkpoint failed")
		}
		return err
	}

	if ok {
		wctx.PushCompensation(domain.CompensationEntry{StepName: step.Name, Intent: intent, RecordID: recordID})
	}

	wctx.ReplaceState(state)
	wctx.MarkCompleted(step.Name)

	e.metrics.IncrementStepsSucceeded()
	e.metrics.AddStepTime(now.Sub(started))
	e.publish(&domain.StepCompletedEvent{
		WorkflowID:  wctx.WorkflowID,
		StepName:    step.Name,
		Attempts:    attempts,
		Outputs:     outputs,
		Duration:    now.Sub(started),
		CompletedAt: now,
	})
	e.logger.Debug("step completed",
		"workflow_id", wctx.WorkflowID,
		"step", step.Name,
		"attempts", attempts,
		"compensable", ok,
	)
	return nil
}

func (e *Engine) failStep(ctx context.Context, wctx *domain.ExecutionContext, step domain.StepDefinition, attempts int, cause error) stepResult {
	ctx = context.WithoutCancel(ctx)
	now := e.now()
	if err := e.store.CheckpointStep(ctx, domain.StepRecord{
		WorkflowID: wctx.WorkflowID,
		StepName:   step.Name,
		Kind:       step.Kind,
		Status:     domain.StepStatusFailed,
		Attempts:   attempts,
		Error:      cause.Error(),
		UpdatedAt:  now,
	}); err != nil {
		e.logger.Error("failed to checkpoint step failure",
			"workflow_id", wctx.WorkflowID,
			"step", step.Name,
			"error", err,
		)
	}

	wctx.MarkFailed(step.Name)
	e.metrics.IncrementStepsFailed()
	e.publish(&domain.StepFailedEvent{
		WorkflowID: wctx.WorkflowID,
		StepName:   step.Name,
		Attempts:   attempts,
		Error:      cause.Error(),
		FailedAt:   now,
	})
	e.logger.Warn("step failed",
		"workflow_id", wctx.WorkflowID,
		"step", step.Name,
		"attempts", attempts,
		"error", cause,
	)
	return stepResult{outcome: stepFailed, step: step.Name, err: cause}
}

func executionInfo(wctx *domain.ExecutionContext, step domain.StepDefinition, attempt int) domain.ExecutionInfo {
	return domain.ExecutionInfo{
		WorkflowID: wctx.WorkflowID,
		StepName:   step.Name,
		Attempt:    attempt,
		Principal:  wctx.Principal,
		RiskLevel:  step.RiskLevel,
	}
}
