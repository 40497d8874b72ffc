package ports

import (
	"context"

	"github.com/eleven-am/sagaflow/internal/domain"
)

// CheckpointStore is the durable record of every workflow. Each write must
// be persisted before it returns; the engine proceeds only afterwards.
type CheckpointStore interface {
	CreateWorkflow(ctx context.Context, record domain.WorkflowRecord) error
	// UpdateWorkflowStatus is idempotent: applying the same change twice
	// leaves the row as after the first call.
	UpdateWorkflowStatus(ctx context.Context, workflowID string, change domain.StatusChange) error
	// CheckpointStep upserts by (workflow id, step name). The first write
	// assigns ExecutionOrder.
	CheckpointStep(ctx context.Context, step domain.StepRecord) error
	// LogCompensation appends to the compensation log and returns the new
	// record id.
	LogCompensation(ctx context.Context, workflowID, stepName string, intent domain.CompensationIntent) (string, error)
	// MarkCompensation flips a pending record to executed or failed exactly
	// once.
	MarkCompensation(ctx context.Context, workflowID, recordID string, status domain.CompensationStatus, errMsg string) error

	GetWorkflow(ctx context.Context, workflowID string) (*domain.WorkflowRecord, error)
	GetWorkflowSteps(ctx context.Context, workflowID string) ([]domain.StepRecord, error)
	// GetCompensationStack returns pending records, most recent first.
	GetCompensationStack(ctx context.Context, workflowID string) ([]domain.CompensationRecord, error)
	GetCompensationLog(ctx context.Context, workflowID string) ([]domain.CompensationRecord, error)
	// GetRunningWorkflows returns RUNNING and PAUSED workflows.
	GetRunningWorkflows(ctx context.Context) ([]domain.WorkflowRecord, error)

	Close() error
}
