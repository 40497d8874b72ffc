package governance

import (
	"context"
	"log/slog"

	"github.com/eleven-am/sagaflow/internal/domain"
	"github.com/eleven-am/sagaflow/internal/ports"
)

// Chain consults hooks in order. The first non-allow result wins. A hook
// that errors is logged and counts as allow.
type Chain struct {
	hooks  []ports.GovernanceHook
	logger *slog.Logger
}

var _ ports.GovernanceHook = (*Chain)(nil)

func NewChain(logger *slog.Logger, hooks ...ports.GovernanceHook) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Chain{logger: logger.With("component", "governance")}
	for _, h := range hooks {
		if h != nil {
			c.hooks = append(c.hooks, h)
		}
	}
	return c
}

func (c *Chain) Append(hook ports.GovernanceHook) {
	if hook != nil {
		c.hooks = append(c.hooks, hook)
	}
}

func (c *Chain) Len() int {
	return len(c.hooks)
}

func (c *Chain) PreExecution(ctx context.Context, wf *domain.ExecutionView) (domain.HookResult, error) {
	return c.consult("pre_execution", wf, "", func(h ports.GovernanceHook) (domain.HookResult, error) {
		return h.PreExecution(ctx, wf)
	})
}

func (c *Chain) PreStep(ctx context.Context, wf *domain.ExecutionView, step domain.StepDefinition, inputs map[string]interface{}) (domain.HookResult, error) {
	return c.consult("pre_step", wf, step.Name, func(h ports.GovernanceHook) (domain.HookResult, error) {
		return h.PreStep(ctx, wf, step, inputs)
	})
}

func (c *Chain) PostStep(ctx context.Context, wf *domain.ExecutionView, step domain.StepDefinition, result *domain.ExecutionResult) (domain.HookResult, error) {
	return c.consult("post_step", wf, step.Name, func(h ports.GovernanceHook) (domain.HookResult, error) {
		return h.PostStep(ctx, wf, step, result)
	})
}

func (c *Chain) PostExecution(ctx context.Context, wf *domain.ExecutionView) (domain.HookResult, error) {
	return c.consult("post_execution", wf, "", func(h ports.GovernanceHook) (domain.HookResult, error) {
		return h.PostExecution(ctx, wf)
	})
}

func (c *Chain) consult(phase string, wf *domain.ExecutionView, step string, call func(ports.GovernanceHook) (domain.HookResult, error)) (domain.HookResult, error) {
	for i, h := range c.hooks {
		result, err := call(h)
		if err != nil {
			c.logger.Warn("governance hook failed, treating as allow",
				"phase", phase,
				"hook", i,
				"workflow_id", workflowID(wf),
				"step", step,
				"error", err,
			)
			continue
		}
		if result.Decision == "" || result.Decision == domain.HookAllow {
			continue
		}
		c.logger.Info("governance hook intervened",
			"phase", phase,
			"hook", i,
			"workflow_id", workflowID(wf),
			"step", step,
			"decision", result.Decision,
			"reason", result.Reason,
		)
		return result, nil
	}
	return domain.Allow(), nil
}

func workflowID(wf *domain.ExecutionView) string {
	if wf == nil {
		return ""
	}
	return wf.WorkflowID
}
