package engine

import (
	"context"

	"github.com/eleven-am/sagaflow/internal/domain"
)

type outcome int

const (
	stepDone outcome = iota
	stepPaused
	stepFailed
)

type stepResult struct {
	outcome outcome
	step    string
	reason  string
	err     error
}

// run drives the scheduler until nothing is left, a step pauses the
// workflow, or a step fails. It also stops when the status is changed from
// outside, for example by Cancel.
func (e *Engine) run(ctx context.Context, wctx *domain.ExecutionContext) (domain.WorkflowStatus, error) {
	for {
		if status := wctx.CurrentStatus(); status != domain.WorkflowStatusRunning {
			return status, nil
		}

		if len(wctx.RemainingSteps()) == 0 {
			return e.complete(ctx, wctx)
		}

		ready := wctx.ExecutableSteps()
		if len(ready) == 0 {
			return e.fail(ctx, wctx, "", errUnsatisfiable, false)
		}

		var result stepResult
		if group := parallelGroup(ready); len(group) > 0 {
			result = e.runGroup(ctx, wctx, group)
		} else {
			result = e.runStep(ctx, wctx, ready[0])
		}

		switch result.outcome {
		case stepPaused:
			if wctx.CurrentStatus() != domain.WorkflowStatusRunning {
				return wctx.CurrentStatus(), nil
			}
			return e.pause(ctx, wctx, result.reason)
		case stepFailed:
			if wctx.CurrentStatus() != domain.WorkflowStatusRunning {
				return wctx.CurrentStatus(), nil
			}
			return e.fail(ctx, wctx, result.step, result.err, false)
		}
	}
}

// parallelGroup returns every ready PARALLEL step, in declaration order.
func parallelGroup(ready []domain.StepDefinition) []domain.StepDefinition {
	var group []domain.StepDefinition
	for _, step := range ready {
		if step.Kind == domain.StepKindParallel {
			group = append(group, step)
		}
	}
	return group
}
