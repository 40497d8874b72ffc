package ports

import (
	"context"

	"github.com/eleven-am/sagaflow/internal/domain"
)

// GovernanceHook is consulted around a workflow and each of its steps. A
// returned error is logged and treated as allow.
type GovernanceHook interface {
	PreExecution(ctx context.Context, wf *domain.ExecutionView) (domain.HookResult, error)
	PreStep(ctx context.Context, wf *domain.ExecutionView, step domain.StepDefinition, inputs map[string]interface{}) (domain.HookResult, error)
	PostStep(ctx context.Context, wf *domain.ExecutionView, step domain.StepDefinition, result *domain.ExecutionResult) (domain.HookResult, error)
	PostExecution(ctx context.Context, wf *domain.ExecutionView) (domain.HookResult, error)
}

// NopGovernanceHook allows everything. Embed it to override single methods.
type NopGovernanceHook struct{}

func (NopGovernanceHook) PreExecution(context.Context, *domain.ExecutionView) (domain.HookResult, error) {
	return domain.Allow(), nil
}

func (NopGovernanceHook) PreStep(context.Context, *domain.ExecutionView, domain.StepDefinition, map[string]interface{}) (domain.HookResult, error) {
	return domain.Allow(), nil
}

func (NopGovernanceHook) PostStep(context.Context, *domain.ExecutionView, domain.StepDefinition, *domain.ExecutionResult) (domain.HookResult, error) {
	return domain.Allow(), nil
}

func (NopGovernanceHook) PostExecution(context.Context, *domain.ExecutionView) (domain.HookResult, error) {
	return domain.Allow(), nil
}
