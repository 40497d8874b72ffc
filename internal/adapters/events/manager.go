package events

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/eleven-am/sagaflow/internal/domain"
	"github.com/eleven-am/sagaflow/internal/ports"
	"github.com/google/uuid"
)

// Manager fans engine events out to registered handlers. Handlers run on
// their own goroutine; a panicking handler is logged and dropped.
type Manager struct {
	logger *slog.Logger

	mu sync.RWMutex

	workflowStartedHandlers    []func(*domain.WorkflowStartedEvent)
	workflowCompletedHandlers  []func(*domain.WorkflowCompletedEvent)
	workflowFailedHandlers     []func(*domain.WorkflowFailedEvent)
	workflowPausedHandlers     []func(*domain.WorkflowPausedEvent)
	workflowResumedHandlers    []func(*domain.WorkflowResumedEvent)
	workflowRolledBackHandlers []func(*domain.WorkflowRolledBackEvent)
	stepCompletedHandlers      []func(*domain.StepCompletedEvent)
	stepFailedHandlers         []func(*domain.StepFailedEvent)
	compensationHandlers       []func(*domain.CompensationEvent)
	genericHandlers            []genericSubscription
}

type genericSubscription struct {
	id      string
	pattern string
	handler func(string, interface{})
}

var _ ports.EventManager = (*Manager)(nil)

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		logger: logger.With("component", "event-manager"),
	}
}

// Publish dispatches event by its concrete type. Every event is also offered
// to generic subscribers under a key such as "workflow:<id>:completed" or
// "step:<id>:<name>:failed".
func (m *Manager) Publish(event interface{}) {
	var key string

	switch e := event.(type) {
	case *domain.WorkflowStartedEvent:
		key = workflowKey(e.WorkflowID, "started")
		notify(m, &m.workflowStartedHandlers, e)
	case *domain.WorkflowCompletedEvent:
		key = workflowKey(e.WorkflowID, "completed")
		notify(m, &m.workflowCompletedHandlers, e)
	case *domain.WorkflowFailedEvent:
		key = workflowKey(e.WorkflowID, "failed")
		notify(m, &m.workflowFailedHandlers, e)
	case *domain.WorkflowPausedEvent:
		key = workflowKey(e.WorkflowID, "paused")
		notify(m, &m.workflowPausedHandlers, e)
	case *domain.WorkflowResumedEvent:
		key = workflowKey(e.WorkflowID, "resumed")
		notify(m, &m.workflowResumedHandlers, e)
	case *domain.WorkflowRolledBackEvent:
		key = workflowKey(e.WorkflowID, "rolled_back")
		notify(m, &m.workflowRolledBackHandlers, e)
	case *domain.StepCompletedEvent:
		key = stepKey(e.WorkflowID, e.StepName, "completed")
		notify(m, &m.stepCompletedHandlers, e)
	case *domain.StepFailedEvent:
		key = stepKey(e.WorkflowID, e.StepName, "failed")
		notify(m, &m.stepFailedHandlers, e)
	case *domain.CompensationEvent:
		key = stepKey(e.WorkflowID, e.StepName, "compensation:"+string(e.Status))
		notify(m, &m.compensationHandlers, e)
	default:
		m.logger.Warn("dropping unknown event", "type", fmt.Sprintf("%T", event))
		return
	}

	m.notifyGenericHandlers(key, event)
}

func workflowKey(workflowID, kind string) string {
	return "workflow:" + workflowID + ":" + kind
}

func stepKey(workflowID, step, kind string) string {
	return "step:" + workflowID + ":" + step + ":" + kind
}

func notify[E any](m *Manager, handlers *[]func(E), event E) {
	m.mu.RLock()
	snapshot := make([]func(E), len(*handlers))
	copy(snapshot, *handlers)
	m.mu.RUnlock()

	for _, handler := range snapshot {
		h := handler
		go m.safeCall(func() { h(event) })
	}
}

func (m *Manager) OnWorkflowStarted(handler func(*domain.WorkflowStartedEvent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflowStartedHandlers = append(m.workflowStartedHandlers, handler)
	return nil
}

func (m *Manager) OnWorkflowCompleted(handler func(*domain.WorkflowCompletedEvent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflowCompletedHandlers = append(m.workflowCompletedHandlers, handler)
	return nil
}

func (m *Manager) OnWorkflowFailed(handler func(*domain.WorkflowFailedEvent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflowFailedHandlers = append(m.workflowFailedHandlers, handler)
	return nil
}

func (m *Manager) OnWorkflowPaused(handler func(*domain.WorkflowPausedEvent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflowPausedHandlers = append(m.workflowPausedHandlers, handler)
	return nil
}

func (m *Manager) OnWorkflowResumed(handler func(*domain.WorkflowResumedEvent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflowResumedHandlers = append(m.workflowResumedHandlers, handler)
	return nil
}

func (m *Manager) OnWorkflowRolledBack(handler func(*domain.WorkflowRolledBackEvent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflowRolledBackHandlers = append(m.workflowRolledBackHandlers, handler)
	return nil
}

func (m *Manager) OnStepCompleted(handler func(*domain.StepCompletedEvent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stepCompletedHandlers = append(m.stepCompletedHandlers, handler)
	return nil
}

func (m *Manager) OnStepFailed(handler func(*domain.StepFailedEvent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stepFailedHandlers = append(m.stepFailedHandlers, handler)
	return nil
}

func (m *Manager) OnCompensation(handler func(*domain.CompensationEvent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compensationHandlers = append(m.compensationHandlers, handler)
	return nil
}

// Subscribe registers handler for every event whose key matches pattern. A
// trailing "*" matches by prefix. The returned id is used to unsubscribe.
func (m *Manager) Subscribe(pattern string, handler func(string, interface{})) (string, error) {
	if pattern == "" || handler == nil {
		return "", domain.ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sub := genericSubscription{
		id:      uuid.New().String(),
		pattern: pattern,
		handler: handler,
	}
	m.genericHandlers = append(m.genericHandlers, sub)
	return sub.id, nil
}

func (m *Manager) Unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var filtered []genericSubscription
	for _, sub := range m.genericHandlers {
		if sub.id != id {
			filtered = append(filtered, sub)
		}
	}
	m.genericHandlers = filtered
}

func (m *Manager) notifyGenericHandlers(key string, eventData interface{}) {
	m.mu.RLock()
	var matchingHandlers []func(string, interface{})
	for _, sub := range m.genericHandlers {
		if patternMatches(sub.pattern, key) {
			matchingHandlers = append(matchingHandlers, sub.handler)
		}
	}
	m.mu.RUnlock()

	for _, handler := range matchingHandlers {
		h := handler
		go m.safeCall(func() { h(key, eventData) })
	}
}

func patternMatches(pattern, key string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(key, prefix)
	}
	return pattern == key
}

func (m *Manager) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event handler panicked", "panic", r)
		}
	}()
	fn()
}
