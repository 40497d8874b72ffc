package ports

import (
	"context"

	"github.com/eleven-am/sagaflow/internal/domain"
)

// CapabilityExecutor runs a capability. A non-nil error and a result with
// Success=false are both failures; the engine retries either.
type CapabilityExecutor interface {
	Execute(ctx context.Context, capabilityID string, inputs map[string]interface{}, info domain.ExecutionInfo) (*domain.ExecutionResult, error)
}

type CapabilityFunc func(ctx context.Context, inputs map[string]interface{}, info domain.ExecutionInfo) (*domain.ExecutionResult, error)

type PolicyChecker interface {
	Check(ctx context.Context, principal domain.Principal, capabilityID string, risk domain.RiskLevel, info domain.ExecutionInfo) (domain.PolicyDecision, error)
}

// PolicyFunc adapts a function to PolicyChecker.
type PolicyFunc func(ctx context.Context, principal domain.Principal, capabilityID string, risk domain.RiskLevel, info domain.ExecutionInfo) (domain.PolicyDecision, error)

func (f PolicyFunc) Check(ctx context.Context, principal domain.Principal, capabilityID string, risk domain.RiskLevel, info domain.ExecutionInfo) (domain.PolicyDecision, error) {
	return f(ctx, principal, capabilityID, risk, info)
}

type AllowAllPolicy struct{}

func (AllowAllPolicy) Check(context.Context, domain.Principal, string, domain.RiskLevel, domain.ExecutionInfo) (domain.PolicyDecision, error) {
	return domain.PolicyAllow, nil
}

// CompensationCodec normalizes a capability's undo value into an intent and
// turns a persisted intent back into an executable call.
type CompensationCodec interface {
	Encode(undo interface{}) (domain.CompensationIntent, bool, error)
	Execute(ctx context.Context, intent domain.CompensationIntent, executor CapabilityExecutor, info domain.ExecutionInfo) (*domain.ExecutionResult, error)
}
