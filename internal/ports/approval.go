package ports

import (
	"context"
	"time"

	"github.com/eleven-am/sagaflow/internal/domain"
)

type ApprovalService interface {
	RequestApproval(ctx context.Context, req domain.ApprovalRequest) error
	RecordDecision(ctx context.Context, workflowID string, decision domain.Decision, approver string) error
	IsPending(ctx context.Context, workflowID string) (bool, error)
}

// Watchdog is consulted at every step boundary. Check returns an error
// wrapping domain.ErrExpired once the workflow is over its budget. A zero
// budget never expires.
type Watchdog interface {
	Track(workflowID string, budget time.Duration, startedAt time.Time)
	Check(ctx context.Context, workflowID string) error
	Forget(workflowID string)
}
