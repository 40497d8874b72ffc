package ports

import (
	"context"

	"github.com/eleven-am/sagaflow/internal/domain"
)

// WorkflowEngine is the inbound surface. Workflow-level failures are
// reported through the returned status; errors are reserved for unknown
// ids, bad decisions and illegal transitions.
type WorkflowEngine interface {
	Submit(ctx context.Context, spec domain.WorkflowSpec) (string, error)
	Start(ctx context.Context, workflowID string) (domain.WorkflowStatus, error)
	Resume(ctx context.Context, workflowID string, decision domain.Decision, approver string) (domain.WorkflowStatus, error)
	Cancel(ctx context.Context, workflowID, reason string, rollback bool) (domain.WorkflowStatus, error)
	Rollback(ctx context.Context, workflowID, reason string) (domain.WorkflowStatus, error)
	GetStatus(ctx context.Context, workflowID string) (domain.WorkflowStatus, error)
	GetWorkflow(ctx context.Context, workflowID string) (*domain.WorkflowSnapshot, error)
	ListActive() []domain.ExecutionView

	Recover(ctx context.Context) (*domain.RecoveryReport, error)
	Continue(ctx context.Context, workflowID string) (domain.WorkflowStatus, error)

	Metrics() domain.ExecutionMetrics
}
