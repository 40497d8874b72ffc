package domain

import "time"

type WorkflowRecord struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Version        string         `json:"version,omitempty"`
	Owner          string         `json:"owner"`
	Principal      Principal      `json:"principal"`
	Status         WorkflowStatus `json:"status"`
	Spec           WorkflowSpec   `json:"spec"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	RollbackReason string         `json:"rollback_reason,omitempty"`
}

// StepRecord is one row of workflow_steps. ExecutionOrder is assigned on the
// first write of a step; CompletionOrder the first time the row reaches
// completed or paused.
type StepRecord struct {
	WorkflowID      string                 `json:"workflow_id"`
	StepName        string                 `json:"step_name"`
	StepID          string                 `json:"step_id"`
	Kind            StepKind               `json:"kind"`
	Status          StepStatus             `json:"status"`
	Inputs          map[string]interface{} `json:"inputs,omitempty"`
	Outputs         map[string]interface{} `json:"outputs,omitempty"`
	ExecutionOrder  int64                  `json:"execution_order"`
	CompletionOrder int64                  `json:"completion_order,omitempty"`
	Attempts        int                    `json:"attempts"`
	Error           string                 `json:"error,omitempty"`
	Approved        bool                   `json:"approved,omitempty"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// Settled reports whether the step counts as done for scheduling purposes.
func (r StepRecord) Settled() bool {
	return r.Status == StepStatusCompleted ||
		(r.Status == StepStatusPaused && r.Kind == StepKindHumanApproval)
}

type CompensationRecord struct {
	ID         string             `json:"id"`
	WorkflowID string             `json:"workflow_id"`
	StepName   string             `json:"step_name"`
	Intent     CompensationIntent `json:"intent"`
	Sequence   int64              `json:"sequence"`
	Status     CompensationStatus `json:"status"`
	Error      string             `json:"error,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	ExecutedAt *time.Time         `json:"executed_at,omitempty"`
}

// StatusChange is the payload of an UpdateWorkflowStatus call.
type StatusChange struct {
	Status         WorkflowStatus
	ErrorMessage   string
	RollbackReason string
	At             time.Time
}

// ApplyStatusChange mutates rec the way every store must: StartedAt is set
// on the first running status, CompletedAt on the first terminal one, and
// UpdatedAt always moves. Applying the same change twice is a no-op apart
// from UpdatedAt.
func ApplyStatusChange(rec *WorkflowRecord, change StatusChange) {
	at := change.At
	if at.IsZero() {
		at = time.Now()
	}

	rec.Status = change.Status
	if change.ErrorMessage != "" {
		rec.ErrorMessage = change.ErrorMessage
	}
	if change.RollbackReason != "" {
		rec.RollbackReason = change.RollbackReason
	}
	if change.Status == WorkflowStatusRunning && rec.StartedAt == nil {
		rec.StartedAt = &at
	}
	if change.Status.IsTerminal() && rec.CompletedAt == nil {
		rec.CompletedAt = &at
	}
	rec.UpdatedAt = at
}

// WorkflowSnapshot is everything the store knows about one workflow.
type WorkflowSnapshot struct {
	Record        WorkflowRecord       `json:"record"`
	Steps         []StepRecord         `json:"steps"`
	Compensations []CompensationRecord `json:"compensations"`
}

// RecoveryReport summarizes one Recover pass.
type RecoveryReport struct {
	Recovered []string          `json:"recovered"`
	Running   []string          `json:"running"`
	Paused    []string          `json:"paused"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// MergeStepCheckpoint folds an upsert into the stored row. Orders and the
// step id belong to the store, and approval is sticky.
func MergeStepCheckpoint(existing, next StepRecord) StepRecord {
	row := next
	row.StepID = existing.StepID
	row.ExecutionOrder = existing.ExecutionOrder
	row.CompletionOrder = existing.CompletionOrder
	row.Approved = existing.Approved || next.Approved
	if row.StartedAt == nil {
		row.StartedAt = existing.StartedAt
	}
	if row.Inputs == nil {
		row.Inputs = existing.Inputs
	}
	if row.Outputs == nil {
		row.Outputs = existing.Outputs
	}
	if row.Kind == "" {
		row.Kind = existing.Kind
	}
	return row
}

// NeedsCompletionOrder is true the first time a row settles. A gated action
// step that pauses gets its order only once it completes.
func (r StepRecord) NeedsCompletionOrder() bool {
	return r.CompletionOrder == 0 && r.Settled()
}
