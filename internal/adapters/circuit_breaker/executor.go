package circuit_breaker

import (
	"context"
	"errors"

	"github.com/eleven-am/sagaflow/internal/domain"
	"github.com/eleven-am/sagaflow/internal/ports"
)

// GuardedExecutor routes capability calls through a Breaker. Only transport
// errors trip it: a capability that runs and reports Success=false, or a
// runtime that answers "not found", is a healthy runtime.
type GuardedExecutor struct {
	next    ports.CapabilityExecutor
	breaker *Breaker
}

func Guard(next ports.CapabilityExecutor, breaker *Breaker) *GuardedExecutor {
	return &GuardedExecutor{next: next, breaker: breaker}
}

func (g *GuardedExecutor) Execute(ctx context.Context, capabilityID string, inputs map[string]interface{}, info domain.ExecutionInfo) (*domain.ExecutionResult, error) {
	var (
		result   *domain.ExecutionResult
		notFound error
	)
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		r, err := g.next.Execute(ctx, capabilityID, inputs, info)
		if errors.Is(err, domain.ErrCapabilityNotFound) {
			notFound = err
			return nil
		}
		result = r
		return err
	})
	if err != nil {
		return nil, err
	}
	if notFound != nil {
		return nil, notFound
	}
	return result, nil
}

func (g *GuardedExecutor) Breaker() *Breaker {
	return g.breaker
}
