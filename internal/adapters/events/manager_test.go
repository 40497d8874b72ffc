package events

import (
	"sync"
	"testing"
	"time"

	"github.com/eleven-am/sagaflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerTypedHandlers(t *testing.T) {
	m := NewManager(nil)

	completed := make(chan *domain.WorkflowCompletedEvent, 1)
	comp := make(chan *domain.CompensationEvent, 1)
	require.NoError(t, m.OnWorkflowCompleted(func(e *domain.WorkflowCompletedEvent) { completed <- e }))
	require.NoError(t, m.OnCompensation(func(e *domain.CompensationEvent) { comp <- e }))

	m.Publish(&domain.WorkflowCompletedEvent{WorkflowID: "wf-1", CompletedSteps: []string{"a"}})
	m.Publish(&domain.CompensationEvent{WorkflowID: "wf-1", StepName: "a", Status: domain.CompensationStatusExecuted})

	select {
	case e := <-completed:
		assert.Equal(t, "wf-1", e.WorkflowID)
	case <-time.After(time.Second):
		t.Fatal("completed handler not called")
	}
	select {
	case e := <-comp:
		assert.Equal(t, "a", e.StepName)
	case <-time.After(time.Second):
		t.Fatal("compensation handler not called")
	}
}

func TestManagerGenericSubscription(t *testing.T) {
	m := NewManager(nil)

	var mu sync.Mutex
	var keys []string
	id, err := m.Subscribe("step:wf-2:*", func(key string, _ interface{}) {
		mu.Lock()
		keys = append(keys, key)
		mu.Unlock()
	})
	require.NoError(t, err)

	m.Publish(&domain.StepCompletedEvent{WorkflowID: "wf-2", StepName: "write"})
	m.Publish(&domain.StepFailedEvent{WorkflowID: "wf-3", StepName: "write"})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(keys) == 1
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"step:wf-2:write:completed"}, keys)
	mu.Unlock()

	m.Unsubscribe(id)
	m.Publish(&domain.StepCompletedEvent{WorkflowID: "wf-2", StepName: "again"})
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Len(t, keys, 1)
	mu.Unlock()

	_, err = m.Subscribe("", func(string, interface{}) {})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestManagerHandlerPanicIsContained(t *testing.T) {
	m := NewManager(nil)
	done := make(chan struct{})
	require.NoError(t, m.OnWorkflowFailed(func(*domain.WorkflowFailedEvent) { panic("boom") }))
	require.NoError(t, m.OnWorkflowFailed(func(*domain.WorkflowFailedEvent) { close(done) }))

	m.Publish(&domain.WorkflowFailedEvent{WorkflowID: "wf"})
	m.Publish("not an event")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second handler not called")
	}
}

func TestPatternMatches(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		matches bool
	}{
		{"*", "anything", true},
		{"workflow:*", "workflow:123:started", true},
		{"workflow:*", "step:123:a:failed", false},
		{"workflow:123:paused", "workflow:123:paused", true},
		{"workflow:123:paused", "workflow:456:paused", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.matches, patternMatches(tt.pattern, tt.key), "%s vs %s", tt.pattern, tt.key)
	}
}
