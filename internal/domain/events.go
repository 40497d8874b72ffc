package domain

import "time"

type WorkflowStartedEvent struct {
	WorkflowID string    `json:"workflow_id"`
	Name       string    `json:"name"`
	Owner      string    `json:"owner"`
	StartedAt  time.Time `json:"started_at"`
}

type WorkflowCompletedEvent struct {
	WorkflowID     string        `json:"workflow_id"`
	FinalState     State         `json:"final_state"`
	CompletedSteps []string      `json:"completed_steps"`
	CompletedAt    time.Time     `json:"completed_at"`
	Duration       time.Duration `json:"duration"`
}

type WorkflowFailedEvent struct {
	WorkflowID string    `json:"workflow_id"`
	FailedStep string    `json:"failed_step,omitempty"`
	Error      string    `json:"error"`
	FailedAt   time.Time `json:"failed_at"`
}

type WorkflowPausedEvent struct {
	WorkflowID  string    `json:"workflow_id"`
	PausedSteps []string  `json:"paused_steps"`
	Reason      string    `json:"reason,omitempty"`
	PausedAt    time.Time `json:"paused_at"`
}

type WorkflowResumedEvent struct {
	WorkflowID string    `json:"workflow_id"`
	Decision   Decision  `json:"decision"`
	Approver   string    `json:"approver"`
	ResumedAt  time.Time `json:"resumed_at"`
}

type WorkflowRolledBackEvent struct {
	WorkflowID         string    `json:"workflow_id"`
	Reason             string    `json:"reason,omitempty"`
	Compensated        []string  `json:"compensated"`
	FailedCompensation []string  `json:"failed_compensation,omitempty"`
	RolledBackAt       time.Time `json:"rolled_back_at"`
}

type StepCompletedEvent struct {
	WorkflowID  string                 `json:"workflow_id"`
	StepName    string                 `json:"step_name"`
	Attempts    int                    `json:"attempts"`
	Outputs     map[string]interface{} `json:"outputs,omitempty"`
	Duration    time.Duration          `json:"duration"`
	CompletedAt time.Time              `json:"completed_at"`
}

type StepFailedEvent struct {
	WorkflowID string    `json:"workflow_id"`
	StepName   string    `json:"step_name"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error"`
	FailedAt   time.Time `json:"failed_at"`
}

type CompensationEvent struct {
	WorkflowID string             `json:"workflow_id"`
	StepName   string             `json:"step_name"`
	Intent     CompensationIntent `json:"intent"`
	Status     CompensationStatus `json:"status"`
	Error      string             `json:"error,omitempty"`
	At         time.Time          `json:"at"`
}
