package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/eleven-am/sagaflow/internal/domain"
)

// Recover rebuilds an in-memory context for every RUNNING or PAUSED
// workflow in the store. A workflow that cannot be rebuilt is marked FAILED
// with a "recovery failed" reason instead of being dropped.
func (e *Engine) Recover(ctx context.Context) (*domain.RecoveryReport, error) {
	records, err := e.store.GetRunningWorkflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("list running workflows: %w", err)
	}

	report := &domain.RecoveryReport{Failed: make(map[string]string)}
	for i := range records {
		record := &records[i]
		if e.get(record.ID) != nil {
			continue
		}

		wctx, err := e.reconstruct(ctx, record)
		if err != nil {
			reason := fmt.Sprintf("recovery failed: %v", err)
			report.Failed[record.ID] = reason
			e.logger.Error("workflow could not be recovered", "workflow_id", record.ID, "error", err)
			if err := e.store.UpdateWorkflowStatus(ctx, record.ID, domain.StatusChange{
				Status:       domain.WorkflowStatusFailed,
				ErrorMessage: reason,
				At:           e.now(),
			}); err != nil {
				e.logger.Error("failed to mark unrecoverable workflow", "workflow_id", record.ID, "error", err)
			}
			continue
		}

		wctx = e.register(wctx)
		e.metrics.IncrementWorkflowsRecovered()
		report.Recovered = append(report.Recovered, record.ID)
		switch wctx.CurrentStatus() {
		case domain.WorkflowStatusRunning:
			report.Running = append(report.Running, record.ID)
		case domain.WorkflowStatusPaused:
			report.Paused = append(report.Paused, record.ID)
		}
	}

	e.logger.Info("recovery finished",
		"recovered", len(report.Recovered),
		"running", len(report.Running),
		"paused", len(report.Paused),
		"failed", len(report.Failed),
	)
	return report, nil
}

// Continue re-enters the scheduler for a RUNNING workflow, typically one
// picked up by Recover.
func (e *Engine) Continue(ctx context.Context, workflowID string) (domain.WorkflowStatus, error) {
	wctx, status, err := e.load(ctx, workflowID)
	if err != nil {
		return status, err
	}
	if wctx == nil || wctx.CurrentStatus() != domain.WorkflowStatusRunning {
		return status, domain.NewWorkflowError("engine", "continue", workflowID,
			domain.InvalidTransitionError(status, domain.WorkflowStatusRunning))
	}

	ctx, span := e.startWorkflowSpan(ctx, "workflow.continue", wctx)
	defer span.End()

	e.logger.Info("continuing workflow",
		"workflow_id", workflowID,
		"completed", len(wctx.CompletedSteps()),
		"remaining", len(wctx.RemainingSteps()),
	)
	status, err = e.run(ctx, wctx)
	return e.finishSpan(span, status, err)
}

// reconstruct rebuilds a context from checkpoints. Settled rows are replayed
// in completion order so the state and the completed list match the moment
// the process stopped; the stack is rebuilt oldest entry first.
func (e *Engine) reconstruct(ctx context.Context, record *domain.WorkflowRecord) (*domain.ExecutionContext, error) {
	spec := record.Spec
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("stored spec: %w", err)
	}

	rows, err := e.store.GetWorkflowSteps(ctx, record.ID)
	if err != nil {
		return nil, err
	}
	stack, err := e.store.GetCompensationStack(ctx, record.ID)
	if err != nil {
		return nil, err
	}

	wctx := domain.NewExecutionContext(record.ID, spec, record.CreatedAt)
	if record.Principal.ID != "" {
		wctx.Principal = record.Principal
	}

	var settled []domain.StepRecord
	for _, row := range rows {
		if _, ok := spec.Step(row.StepName); !ok {
			return nil, fmt.Errorf("%w: checkpoint for undeclared step %q", domain.ErrInvalidInput, row.StepName)
		}
		if row.Approved {
			wctx.Approve(row.StepName)
		}

		switch {
		case row.Settled():
			settled = append(settled, row)
		case row.Status == domain.StepStatusRunning:
			e.logger.Warn("step was running when the process stopped and will run again",
				"workflow_id", record.ID,
				"step", row.StepName,
			)
		case row.Status == domain.StepStatusFailed:
			wctx.MarkFailed(row.StepName)
		}

		if row.Status == domain.StepStatusPaused && record.Status == domain.WorkflowStatusPaused {
			wctx.AddPaused(row.StepName)
		}
	}

	sort.SliceStable(settled, func(i, j int) bool {
		return settled[i].CompletionOrder < settled[j].CompletionOrder
	})
	state := domain.NewState(spec.InitialState)
	completed := make(map[string]bool, len(settled))
	for _, row := range settled {
		if row.Status == domain.StepStatusCompleted {
			if err := domain.MergeStepOutputs(state, row.StepName, row.Outputs, spec.StepNames()...); err != nil {
				return nil, err
			}
		}
		completed[row.StepName] = row.Status == domain.StepStatusCompleted
		wctx.MarkCompleted(row.StepName)
	}
	wctx.ReplaceState(state)

	for i := len(stack) - 1; i >= 0; i-- {
		entry := stack[i]
		if !completed[entry.StepName] {
			e.discardCompensation(ctx, record.ID, entry.StepName, entry.ID, "step did not complete before the process stopped")
			continue
		}
		if _, _, err := e.codec.Encode(entry.Intent); err != nil {
			return nil, fmt.Errorf("compensation for step %s: %w", entry.StepName, err)
		}
		wctx.PushCompensation(domain.CompensationEntry{
			StepName: entry.StepName,
			Intent:   entry.Intent,
			RecordID: entry.ID,
		})
	}

	wctx.Status = record.Status
	wctx.StartedAt = record.StartedAt
	wctx.LastError = record.ErrorMessage

	if e.watchdog != nil && record.StartedAt != nil {
		e.watchdog.Track(record.ID, spec.MaxExecutionTime, *record.StartedAt)
	}

	e.logger.Debug("workflow reconstructed",
		"workflow_id", record.ID,
		"status", record.Status,
		"completed", wctx.CompletedSteps(),
		"compensations", len(wctx.StackSnapshot()),
	)
	return wctx, nil
}
