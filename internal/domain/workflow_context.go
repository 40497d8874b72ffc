package domain

import (
	"sync"
	"time"
)

// ExecutionContext is the in-memory view of one workflow. The engine is the
// only writer; Lock/Unlock guard the read-modify-write sequence of committing
// a step so parallel members cannot interleave checkpoint and state updates.
type ExecutionContext struct {
	commitMu sync.Mutex
	mu       sync.RWMutex

	WorkflowID  string
	Spec        WorkflowSpec
	Principal   Principal
	Status      WorkflowStatus
	State       State
	Completed   []string
	Failed      []string
	Stack       []CompensationEntry
	Paused      []string
	Approved    map[string]bool
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	LastError   string
}

func NewExecutionContext(id string, spec WorkflowSpec, createdAt time.Time) *ExecutionContext {
	return &ExecutionContext{
		WorkflowID: id,
		Spec:       spec,
		Principal:  spec.Owner,
		Status:     WorkflowStatusPending,
		State:      NewState(spec.InitialState),
		Approved:   make(map[string]bool),
		CreatedAt:  createdAt,
	}
}

func (c *ExecutionContext) Lock()   { c.commitMu.Lock() }
func (c *ExecutionContext) Unlock() { c.commitMu.Unlock() }

func (c *ExecutionContext) CurrentStatus() WorkflowStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Status
}

func (c *ExecutionContext) SetStatus(status WorkflowStatus, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Status = status
	if status == WorkflowStatusRunning && c.StartedAt == nil {
		c.StartedAt = &at
	}
	if status.IsTerminal() && c.CompletedAt == nil {
		c.CompletedAt = &at
	}
}

func (c *ExecutionContext) SetLastError(msg string) {
	c.mu.Lock()
	c.LastError = msg
	c.mu.Unlock()
}

func (c *ExecutionContext) IsCompleted(step string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return containsString(c.Completed, step)
}

func (c *ExecutionContext) MarkCompleted(step string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !containsString(c.Completed, step) {
		c.Completed = append(c.Completed, step)
	}
}

func (c *ExecutionContext) MarkFailed(step string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !containsString(c.Failed, step) {
		c.Failed = append(c.Failed, step)
	}
}

func (c *ExecutionContext) CompletedSteps() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.Completed...)
}

func (c *ExecutionContext) FailedSteps() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.Failed...)
}

// StateSnapshot returns a deep copy safe to render templates from.
func (c *ExecutionContext) StateSnapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.State.Clone()
}

func (c *ExecutionContext) ReplaceState(state State) {
	c.mu.Lock()
	c.State = state
	c.mu.Unlock()
}

func (c *ExecutionContext) PushCompensation(entry CompensationEntry) {
	c.mu.Lock()
	c.Stack = append(c.Stack, entry)
	c.mu.Unlock()
}

// PopCompensation removes the most recently pushed entry.
func (c *ExecutionContext) PopCompensation() (CompensationEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Stack) == 0 {
		return CompensationEntry{}, false
	}
	entry := c.Stack[len(c.Stack)-1]
	c.Stack = c.Stack[:len(c.Stack)-1]
	return entry, true
}

// RemoveCompensations pulls the entries for the named steps out of the
// stack, preserving LIFO order among them.
func (c *ExecutionContext) RemoveCompensations(steps []string) []CompensationEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []CompensationEntry
	kept := c.Stack[:0]
	for _, entry := range c.Stack {
		if containsString(steps, entry.StepName) {
			removed = append(removed, entry)
			continue
		}
		kept = append(kept, entry)
	}
	c.Stack = kept

	for i, j := 0, len(removed)-1; i < j; i, j = i+1, j-1 {
		removed[i], removed[j] = removed[j], removed[i]
	}
	return removed
}

func (c *ExecutionContext) StackSnapshot() []CompensationEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]CompensationEntry(nil), c.Stack...)
}

func (c *ExecutionContext) SetPaused(steps []string) {
	c.mu.Lock()
	c.Paused = append([]string(nil), steps...)
	c.mu.Unlock()
}

func (c *ExecutionContext) AddPaused(step string) {
	c.mu.Lock()
	if !containsString(c.Paused, step) {
		c.Paused = append(c.Paused, step)
	}
	c.mu.Unlock()
}

func (c *ExecutionContext) TakePaused() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	paused := c.Paused
	c.Paused = nil
	return paused
}

func (c *ExecutionContext) PausedSteps() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.Paused...)
}

func (c *ExecutionContext) Approve(step string) {
	c.mu.Lock()
	c.Approved[step] = true
	c.mu.Unlock()
}

func (c *ExecutionContext) IsApproved(step string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Approved[step]
}

// RemainingSteps lists declared steps that are not yet completed, in
// declaration order.
func (c *ExecutionContext) RemainingSteps() []StepDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var remaining []StepDefinition
	for _, step := range c.Spec.Steps {
		if !containsString(c.Completed, step.Name) {
			remaining = append(remaining, step)
		}
	}
	return remaining
}

// ExecutableSteps returns remaining steps whose dependencies are all
// completed, in declaration order.
func (c *ExecutionContext) ExecutableSteps() []StepDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var ready []StepDefinition
	for _, step := range c.Spec.Steps {
		if containsString(c.Completed, step.Name) {
			continue
		}
		satisfied := true
		for _, dep := range step.DependsOn {
			if !containsString(c.Completed, dep) {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, step)
		}
	}
	return ready
}

// ExecutionView is a read-only copy for status queries.
type ExecutionView struct {
	WorkflowID     string              `json:"workflow_id"`
	Name           string              `json:"name"`
	Owner          Principal           `json:"owner"`
	Status         WorkflowStatus      `json:"status"`
	State          State               `json:"state"`
	CompletedSteps []string            `json:"completed_steps"`
	FailedSteps    []string            `json:"failed_steps"`
	PausedSteps    []string            `json:"paused_steps,omitempty"`
	Compensations  []CompensationEntry `json:"compensations"`
	CreatedAt      time.Time           `json:"created_at"`
	StartedAt      *time.Time          `json:"started_at,omitempty"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
	LastError      string              `json:"last_error,omitempty"`
}

func (c *ExecutionContext) View() ExecutionView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExecutionView{
		WorkflowID:     c.WorkflowID,
		Name:           c.Spec.Name,
		Owner:          c.Spec.Owner,
		Status:         c.Status,
		State:          c.State.Clone(),
		CompletedSteps: append([]string(nil), c.Completed...),
		FailedSteps:    append([]string(nil), c.Failed...),
		PausedSteps:    append([]string(nil), c.Paused...),
		Compensations:  append([]CompensationEntry(nil), c.Stack...),
		CreatedAt:      c.CreatedAt,
		StartedAt:      c.StartedAt,
		CompletedAt:    c.CompletedAt,
		LastError:      c.LastError,
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
