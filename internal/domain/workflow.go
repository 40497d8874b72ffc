package domain

import (
	"fmt"
	"strings"
	"time"
)

type WorkflowStatus string

const (
	WorkflowStatusPending    WorkflowStatus = "pending"
	WorkflowStatusRunning    WorkflowStatus = "running"
	WorkflowStatusPaused     WorkflowStatus = "paused"
	WorkflowStatusCompleted  WorkflowStatus = "completed"
	WorkflowStatusFailed     WorkflowStatus = "failed"
	WorkflowStatusRolledBack WorkflowStatus = "rolled_back"
)

var workflowTransitions = map[WorkflowStatus][]WorkflowStatus{
	WorkflowStatusPending: {WorkflowStatusRunning},
	WorkflowStatusRunning: {WorkflowStatusPaused, WorkflowStatusCompleted, WorkflowStatusFailed},
	WorkflowStatusPaused:  {WorkflowStatusRunning, WorkflowStatusFailed},
	WorkflowStatusFailed:  {WorkflowStatusRolledBack},
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s WorkflowStatus) CanTransitionTo(next WorkflowStatus) bool {
	for _, allowed := range workflowTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsActive is true for workflows recovery must pick up after a restart.
func (s WorkflowStatus) IsActive() bool {
	return s == WorkflowStatusRunning || s == WorkflowStatusPaused
}

func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusRolledBack:
		return true
	}
	return false
}

func ParseWorkflowStatus(raw string) (WorkflowStatus, error) {
	status := WorkflowStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case WorkflowStatusPending, WorkflowStatusRunning, WorkflowStatusPaused,
		WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusRolledBack:
		return status, nil
	}
	return "", fmt.Errorf("%w: unknown workflow status %q", ErrInvalidInput, raw)
}

type StepKind string

const (
	StepKindAction        StepKind = "action"
	StepKindParallel      StepKind = "parallel"
	StepKindHumanApproval StepKind = "human_approval"
)

// InvokesCapability is false only for approval gates.
func (k StepKind) InvokesCapability() bool {
	return k == StepKindAction || k == StepKindParallel
}

func (k StepKind) valid() bool {
	switch k {
	case StepKindAction, StepKindParallel, StepKindHumanApproval:
		return true
	}
	return false
}

type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

func (r RiskLevel) valid() bool {
	switch r {
	case "", RiskLevelLow, RiskLevelMedium, RiskLevelHigh, RiskLevelCritical:
		return true
	}
	return false
}

type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusPaused    StepStatus = "paused"
)

// CompensationDefinition is the declarative undo used when a capability
// returns no undo action of its own.
type CompensationDefinition struct {
	CapabilityID string                 `json:"capability_id" yaml:"capability_id"`
	Inputs       map[string]interface{} `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

type StepDefinition struct {
	Name         string                  `json:"name" yaml:"name"`
	Kind         StepKind                `json:"kind" yaml:"kind"`
	CapabilityID string                  `json:"capability_id,omitempty" yaml:"capability_id,omitempty"`
	Inputs       map[string]interface{}  `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	DependsOn    []string                `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	RiskLevel    RiskLevel               `json:"risk_level,omitempty" yaml:"risk_level,omitempty"`
	MaxRetries   int                     `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	Compensation *CompensationDefinition `json:"compensation,omitempty" yaml:"compensation,omitempty"`
	Description  string                  `json:"description,omitempty" yaml:"description,omitempty"`
}

// Principal is the identity a workflow runs as. It is passed explicitly to
// every collaborator instead of living in a process-wide context.
type Principal struct {
	ID            string `json:"id" yaml:"id"`
	WorkspaceRoot string `json:"workspace_root,omitempty" yaml:"workspace_root,omitempty"`
	SessionID     string `json:"session_id,omitempty" yaml:"session_id,omitempty"`
}

type WorkflowSpec struct {
	Name               string                 `json:"name" yaml:"name"`
	Version            string                 `json:"version,omitempty" yaml:"version,omitempty"`
	Description        string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Steps              []StepDefinition       `json:"steps" yaml:"steps"`
	InitialState       map[string]interface{} `json:"initial_state,omitempty" yaml:"initial_state,omitempty"`
	MaxExecutionTime   time.Duration          `json:"max_execution_time,omitempty" yaml:"max_execution_time,omitempty"`
	EnableAutoRollback bool                   `json:"enable_auto_rollback" yaml:"enable_auto_rollback"`
	Owner              Principal              `json:"owner" yaml:"owner"`
	Metadata           map[string]string      `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func (w *WorkflowSpec) Step(name string) (StepDefinition, bool) {
	for _, step := range w.Steps {
		if step.Name == name {
			return step, true
		}
	}
	return StepDefinition{}, false
}

func (w *WorkflowSpec) StepNames() []string {
	names := make([]string, 0, len(w.Steps))
	for _, step := range w.Steps {
		names = append(names, step.Name)
	}
	return names
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func ParseDecision(raw string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(raw))); d {
	case DecisionApprove, DecisionReject:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDecision, raw)
}
