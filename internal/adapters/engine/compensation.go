package engine

import (
	"context"

	"github.com/eleven-am/sagaflow/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// drain pops the whole stack, newest first. A failed compensation is
// recorded and the drain moves on to the next entry.
func (e *Engine) drain(ctx context.Context, wctx *domain.ExecutionContext) (compensated, failed []string) {
	for {
		entry, ok := wctx.PopCompensation()
		if !ok {
			return compensated, failed
		}
		if err := e.compensate(ctx, wctx, entry); err != nil {
			failed = append(failed, entry.StepName)
			continue
		}
		compensated = append(compensated, entry.StepName)
	}
}

// compensateGroup undoes the named steps only, leaving the rest of the
// stack for the workflow-level rollback.
func (e *Engine) compensateGroup(ctx context.Context, wctx *domain.ExecutionContext, steps []string) {
	if len(steps) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, entry := range wctx.RemoveCompensations(steps) {
		_ = e.compensate(ctx, wctx, entry)
	}
}

func (e *Engine) compensate(ctx context.Context, wctx *domain.ExecutionContext, entry domain.CompensationEntry) error {
	ctx, span := e.tracer.Start(ctx, "compensate "+entry.StepName, trace.WithAttributes(
		attribute.String("workflow.id", wctx.WorkflowID),
		attribute.String("step.name", entry.StepName),
		attribute.String("compensation.action", entry.Intent.Action),
		attribute.String("compensation.capability", entry.Intent.CapabilityID),
	))
	defer span.End()

	info := domain.ExecutionInfo{
		WorkflowID:   wctx.WorkflowID,
		StepName:     entry.StepName,
		Attempt:      1,
		Principal:    wctx.Principal,
		Compensating: true,
	}
	if step, ok := wctx.Spec.Step(entry.StepName); ok {
		info.RiskLevel = step.RiskLevel
	}

	status := domain.CompensationStatusExecuted
	var msg string
	_, err := e.codec.Execute(ctx, entry.Intent, e.executor, info)
	if err != nil {
		status = domain.CompensationStatusFailed
		msg = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		e.metrics.IncrementCompensationsFailed()
		e.logger.Error("compensation failed",
			"workflow_id", wctx.WorkflowID,
			"step", entry.StepName,
			"action", entry.Intent.Action,
			"error", err,
		)
	} else {
		e.metrics.IncrementCompensationsExecuted()
		e.logger.Info("step compensated",
			"workflow_id", wctx.WorkflowID,
			"step", entry.StepName,
			"action", entry.Intent.Action,
		)
	}

	if entry.RecordID != "" {
		if markErr := e.store.MarkCompensation(ctx, wctx.WorkflowID, entry.RecordID, status, msg); markErr != nil {
			e.logger.Error("failed to record compensation outcome",
				"workflow_id", wctx.WorkflowID,
				"step", entry.StepName,
				"record_id", entry.RecordID,
				"error", markErr,
			)
		}
	}

	e.publish(&domain.CompensationEvent{
		WorkflowID: wctx.WorkflowID,
		StepName:   entry.StepName,
		Intent:     entry.Intent,
		Status:     status,
		Error:      msg,
		At:         e.now(),
	})
	return err
}

// discardCompensation retires a logged entry whose step never reached
// COMPLETED, so it can never be drained.
func (e *Engine) discardCompensation(ctx context.Context, workflowID, stepName, recordID, reason string) {
	if recordID == "" {
		return
	}
	e.logger.Warn("discarding compensation of unfinished step",
		"workflow_id", workflowID,
		"step", stepName,
		"record_id", recordID,
		"reason", reason,
	)
	if err := e.store.MarkCompensation(context.WithoutCancel(ctx), workflowID, recordID, domain.CompensationStatusFailed, reason); err != nil {
		e.logger.Error("failed to record compensation outcome",
			"workflow_id", workflowID,
			"step", stepName,
			"record_id", recordID,
			"error", err,
		)
	}
}
