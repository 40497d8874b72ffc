package ports

import (
	"github.com/eleven-am/sagaflow/internal/domain"
)

type EventManager interface {
	OnWorkflowStarted(handler func(event *domain.WorkflowStartedEvent)) error
	OnWorkflowCompleted(handler func(event *domain.WorkflowCompletedEvent)) error
	OnWorkflowFailed(handler func(event *domain.WorkflowFailedEvent)) error
	OnWorkflowPaused(handler func(event *domain.WorkflowPausedEvent)) error
	OnWorkflowResumed(handler func(event *domain.WorkflowResumedEvent)) error
	OnWorkflowRolledBack(handler func(event *domain.WorkflowRolledBackEvent)) error

	OnStepCompleted(handler func(event *domain.StepCompletedEvent)) error
	OnStepFailed(handler func(event *domain.StepFailedEvent)) error
	OnCompensation(handler func(event *domain.CompensationEvent)) error

	EventPublisher
}

// EventPublisher is the engine-facing half of EventManager.
type EventPublisher interface {
	Publish(event interface{})
}
