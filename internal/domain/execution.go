package domain

import "time"

// ExecutionInfo describes the invocation to the capability runtime.
type ExecutionInfo struct {
	WorkflowID   string    `json:"workflow_id"`
	StepName     string    `json:"step_name"`
	Attempt      int       `json:"attempt"`
	Principal    Principal `json:"principal"`
	RiskLevel    RiskLevel `json:"risk_level,omitempty"`
	Compensating bool      `json:"compensating,omitempty"`
}

// ExecutionResult is what a capability hands back. Undo is optional and is
// normalized with IntentFromUndo.
type ExecutionResult struct {
	Success      bool                   `json:"success"`
	Outputs      map[string]interface{} `json:"outputs,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Undo         interface{}            `json:"-"`
}

type PolicyDecision string

const (
	PolicyAllow           PolicyDecision = "allow"
	PolicyDeny            PolicyDecision = "deny"
	PolicyRequireApproval PolicyDecision = "require_approval"
)

type HookDecision string

const (
	HookAllow HookDecision = "allow"
	HookDeny  HookDecision = "deny"
	HookPause HookDecision = "pause"
)

// HookResult carries the decision plus an optional explanation that ends up
// in the error message or pause reason.
type HookResult struct {
	Decision HookDecision `json:"decision"`
	Reason   string       `json:"reason,omitempty"`
}

func Allow() HookResult {
	return HookResult{Decision: HookAllow}
}

type ApprovalRequest struct {
	ID          string    `json:"id"`
	WorkflowID  string    `json:"workflow_id"`
	StepName    string    `json:"step_name"`
	Principal   Principal `json:"principal"`
	Reason      string    `json:"reason,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

type ApprovalDecisionRecord struct {
	RequestID  string    `json:"request_id,omitempty"`
	WorkflowID string    `json:"workflow_id"`
	Decision   Decision  `json:"decision"`
	Approver   string    `json:"approver"`
	DecidedAt  time.Time `json:"decided_at"`
}
