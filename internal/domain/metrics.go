package domain

import (
	"sync/atomic"
	"time"
)

type ExecutionMetrics struct {
	WorkflowsStarted    int64 `json:"workflows_started"`
	WorkflowsCompleted  int64 `json:"workflows_completed"`
	WorkflowsFailed     int64 `json:"workflows_failed"`
	WorkflowsPaused     int64 `json:"workflows_paused"`
	WorkflowsResumed    int64 `json:"workflows_resumed"`
	WorkflowsRolledBack int64 `json:"workflows_rolled_back"`
	WorkflowsRecovered  int64 `json:"workflows_recovered"`

	StepsExecuted  int64 `json:"steps_executed"`
	StepsSucceeded int64 `json:"steps_succeeded"`
	StepsFailed    int64 `json:"steps_failed"`
	StepsRetried   int64 `json:"steps_retried"`

	CompensationsExecuted int64 `json:"compensations_executed"`
	CompensationsFailed   int64 `json:"compensations_failed"`

	TotalStepTimeNs int64 `json:"total_step_time_ns"`
}

func NewExecutionMetrics() *ExecutionMetrics {
	return &ExecutionMetrics{}
}

func (m *ExecutionMetrics) IncrementWorkflowsStarted() {
	atomic.AddInt64(&m.WorkflowsStarted, 1)
}

func (m *ExecutionMetrics) IncrementWorkflowsCompleted() {
	atomic.AddInt64(&m.WorkflowsCompleted, 1)
}

func (m *ExecutionMetrics) IncrementWorkflowsFailed() {
	atomic.AddInt64(&m.WorkflowsFailed, 1)
}

func (m *ExecutionMetrics) IncrementWorkflowsPaused() {
	atomic.AddInt64(&m.WorkflowsPaused, 1)
}

func (m *ExecutionMetrics) IncrementWorkflowsResumed() {
	atomic.AddInt64(&m.WorkflowsResumed, 1)
}

func (m *ExecutionMetrics) IncrementWorkflowsRolledBack() {
	atomic.AddInt64(&m.WorkflowsRolledBack, 1)
}

func (m *ExecutionMetrics) IncrementWorkflowsRecovered() {
	atomic.AddInt64(&m.WorkflowsRecovered, 1)
}

func (m *ExecutionMetrics) IncrementStepsExecuted() {
	atomic.AddInt64(&m.StepsExecuted, 1)
}

func (m *ExecutionMetrics) IncrementStepsSucceeded() {
	atomic.AddInt64(&m.StepsSucceeded, 1)
}

func (m *ExecutionMetrics) IncrementStepsFailed() {
	atomic.AddInt64(&m.StepsFailed, 1)
}

func (m *ExecutionMetrics) IncrementStepsRetried() {
	atomic.AddInt64(&m.StepsRetried, 1)
}

func (m *ExecutionMetrics) IncrementCompensationsExecuted() {
	atomic.AddInt64(&m.CompensationsExecuted, 1)
}

func (m *ExecutionMetrics) IncrementCompensationsFailed() {
	atomic.AddInt64(&m.CompensationsFailed, 1)
}

func (m *ExecutionMetrics) AddStepTime(d time.Duration) {
	atomic.AddInt64(&m.TotalStepTimeNs, int64(d))
}

func (m *ExecutionMetrics) Snapshot() ExecutionMetrics {
	return ExecutionMetrics{
		WorkflowsStarted:      atomic.LoadInt64(&m.WorkflowsStarted),
		WorkflowsCompleted:    atomic.LoadInt64(&m.WorkflowsCompleted),
		WorkflowsFailed:       atomic.LoadInt64(&m.WorkflowsFailed),
		WorkflowsPaused:       atomic.LoadInt64(&m.WorkflowsPaused),
		WorkflowsResumed:      atomic.LoadInt64(&m.WorkflowsResumed),
		WorkflowsRolledBack:   atomic.LoadInt64(&m.WorkflowsRolledBack),
		WorkflowsRecovered:    atomic.LoadInt64(&m.WorkflowsRecovered),
		StepsExecuted:         atomic.LoadInt64(&m.StepsExecuted),
		StepsSucceeded:        atomic.LoadInt64(&m.StepsSucceeded),
		StepsFailed:           atomic.LoadInt64(&m.StepsFailed),
		StepsRetried:          atomic.LoadInt64(&m.StepsRetried),
		CompensationsExecuted: atomic.LoadInt64(&m.CompensationsExecuted),
		CompensationsFailed:   atomic.LoadInt64(&m.CompensationsFailed),
		TotalStepTimeNs:       atomic.LoadInt64(&m.TotalStepTimeNs),
	}
}
