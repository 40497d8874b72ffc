// Package sagaflow runs agent capabilities as all-or-nothing workflows.
//
// A workflow is a set of steps with dependencies. Each step invokes a
// capability and may return an undo action; when a later step fails the
// undo actions of completed steps are executed in reverse order. Every
// transition is checkpointed so a workflow interrupted by a crash can be
// picked up again after a restart.
//
// Basic usage:
//
//	manager, err := sagaflow.New(ctx, sagaflow.NewConfigBuilder("./data").Build())
//	if err != nil {
//	    return err
//	}
//	defer manager.Stop(ctx)
//
//	manager.RegisterCapability("mail.send", sendMail)
//	if err := manager.Start(ctx); err != nil {
//	    return err
//	}
//
//	spec, err := sagaflow.LoadWorkflowSpec("onboarding.yaml")
//	if err != nil {
//	    return err
//	}
//	id, status, err := manager.Run(ctx, *spec)
package sagaflow

import (
	"github.com/eleven-am/sagaflow/internal/core"
	"github.com/eleven-am/sagaflow/internal/domain"
	"github.com/eleven-am/sagaflow/internal/ports"
)

// Manager owns the engine, its checkpoint store and every collaborator.
type Manager = core.Manager

// Option customizes a Manager at construction.
type Option = core.Option

// WorkflowSpec declares the steps of a workflow, its initial state and its
// rollback behaviour.
type WorkflowSpec = domain.WorkflowSpec

// StepDefinition is one step of a WorkflowSpec.
type StepDefinition = domain.StepDefinition

// CompensationDefinition is the declarative undo of a step.
type CompensationDefinition = domain.CompensationDefinition

// Principal is the identity a workflow runs as.
type Principal = domain.Principal

type StepKind = domain.StepKind
type RiskLevel = domain.RiskLevel
type WorkflowStatus = domain.WorkflowStatus
type StepStatus = domain.StepStatus
type Decision = domain.Decision

// ExecutionInfo is handed to a capability alongside its inputs.
type ExecutionInfo = domain.ExecutionInfo

// ExecutionResult is what a capability returns. Undo is either a
// CompensationIntent or a map with the same fields.
type ExecutionResult = domain.ExecutionResult

// CompensationIntent is a persisted, replayable undo action.
type CompensationIntent = domain.CompensationIntent

// IntentInvoke compensates by calling CapabilityID with Params.
const IntentInvoke = domain.IntentInvoke

// CapabilityFunc implements a capability in process.
type CapabilityFunc = ports.CapabilityFunc

// PolicyChecker decides whether a principal may invoke a capability.
type PolicyChecker = ports.PolicyChecker
type PolicyFunc = ports.PolicyFunc
type PolicyDecision = domain.PolicyDecision

// GovernanceHook is consulted around a workflow and each of its steps.
type GovernanceHook = ports.GovernanceHook
type NopGovernanceHook = ports.NopGovernanceHook
type HookResult = domain.HookResult

// CheckpointStore is the durable record of every workflow.
type CheckpointStore = ports.CheckpointStore
type WorkflowRecord = domain.WorkflowRecord
type StepRecord = domain.StepRecord
type CompensationRecord = domain.CompensationRecord
type StatusChange = domain.StatusChange

// WorkflowSnapshot is everything the store knows about one workflow.
type WorkflowSnapshot = domain.WorkflowSnapshot

// ExecutionView is a read-only view of a workflow held in memory.
type ExecutionView = domain.ExecutionView

type ApprovalRequest = domain.ApprovalRequest
type ExecutionMetrics = domain.ExecutionMetrics

// Lifecycle events.
type WorkflowStartedEvent = core.WorkflowStartedEvent
type WorkflowCompletedEvent = core.WorkflowCompletedEvent
type WorkflowFailedEvent = core.WorkflowFailedEvent
type WorkflowPausedEvent = core.WorkflowPausedEvent
type WorkflowResumedEvent = core.WorkflowResumedEvent
type WorkflowRolledBackEvent = core.WorkflowRolledBackEvent
type StepCompletedEvent = core.StepCompletedEvent
type StepFailedEvent = core.StepFailedEvent
type CompensationEvent = core.CompensationEvent

const (
	StepKindAction        = domain.StepKindAction
	StepKindParallel      = domain.StepKindParallel
	StepKindHumanApproval = domain.StepKindHumanApproval

	RiskLevelLow      = domain.RiskLevelLow
	RiskLevelMedium   = domain.RiskLevelMedium
	RiskLevelHigh     = domain.RiskLevelHigh
	RiskLevelCritical = domain.RiskLevelCritical

	WorkflowStatusPending    = domain.WorkflowStatusPending
	WorkflowStatusRunning    = domain.WorkflowStatusRunning
	WorkflowStatusPaused     = domain.WorkflowStatusPaused
	WorkflowStatusCompleted  = domain.WorkflowStatusCompleted
	WorkflowStatusFailed     = domain.WorkflowStatusFailed
	WorkflowStatusRolledBack = domain.WorkflowStatusRolledBack

	DecisionApprove = domain.DecisionApprove
	DecisionReject  = domain.DecisionReject

	PolicyAllow           = domain.PolicyAllow
	PolicyDeny            = domain.PolicyDeny
	PolicyRequireApproval = domain.PolicyRequireApproval

	HookAllow = domain.HookAllow
	HookDeny  = domain.HookDeny
	HookPause = domain.HookPause
)

var (
	ErrWorkflowNotFound  = domain.ErrWorkflowNotFound
	ErrInvalidTransition = domain.ErrInvalidTransition
	ErrInvalidDecision   = domain.ErrInvalidDecision
	ErrInvalidInput      = domain.ErrInvalidInput
	ErrInvalidConfig     = domain.ErrInvalidConfig
	ErrExpired           = domain.ErrExpired
	ErrClosed            = domain.ErrClosed
	ErrCircuitOpen       = domain.ErrCircuitOpen
)

func IsSpecError(err error) bool { return domain.IsSpecError(err) }

func IsNotFound(err error) bool { return domain.IsNotFound(err) }

func IsInvalidTransition(err error) bool { return domain.IsInvalidTransition(err) }
