package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/eleven-am/sagaflow/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// runGroup executes a PARALLEL group and waits for every member. Members
// are not cancelled when a sibling fails; once all have returned, the
// members that succeeded are compensated before the failure is reported.
func (e *Engine) runGroup(ctx context.Context, wctx *domain.ExecutionContext, group []domain.StepDefinition) stepResult {
	names := make([]string, len(group))
	for i, step := range group {
		names[i] = step.Name
	}
	ctx, span := e.tracer.Start(ctx, "parallel group", trace.WithAttributes(
		attribute.String("workflow.id", wctx.WorkflowID),
		attribute.StringSlice("group.steps", names),
	))
	defer span.End()

	results := make([]stepResult, len(group))
	var g errgroup.Group
	for i, step := range group {
		g.Go(func() error {
			results[i] = e.runStep(ctx, wctx, step)
			if results[i].outcome == stepFailed {
				return &memberFailure{index: i, err: results[i].err}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		var failure *memberFailure
		if !errors.As(err, &failure) {
			return stepResult{outcome: stepFailed, err: err}
		}

		var succeeded []string
		for i, result := range results {
			if result.outcome == stepDone {
				succeeded = append(succeeded, group[i].Name)
			}
		}
		e.logger.Warn("parallel group failed",
			"workflow_id", wctx.WorkflowID,
			"failed_step", group[failure.index].Name,
			"compensating", succeeded,
		)
		e.compensateGroup(ctx, wctx, succeeded)
		return results[failure.index]
	}

	var reasons []string
	for _, result := range results {
		if result.outcome == stepPaused {
			reasons = append(reasons, result.reason)
		}
	}
	if len(reasons) > 0 {
		return stepResult{outcome: stepPaused, reason: strings.Join(reasons, "; ")}
	}
	return stepResult{outcome: stepDone}
}
