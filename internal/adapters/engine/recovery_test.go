package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eleven-am/sagaflow/internal/domain"
	"github.com/eleven-am/sagaflow/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errCrashed = errors.New("process crashed")

// crashingStore passes writes through until a step checkpoint matches crashOn;
// from then on every write fails, as if the process had died at that point.
type crashingStore struct {
	ports.CheckpointStore
	crashOn    func(domain.StepRecord) bool
	crashOnLog func(step string) bool
	crashed    atomic.Bool
}

func (s *crashingStore) CreateWorkflow(ctx context.Context, record domain.WorkflowRecord) error {
	if s.crashed.Load() {
		return errCrashed
	}
	return s.CheckpointStore.CreateWorkflow(ctx, record)
}

func (s *crashingStore) UpdateWorkflowStatus(ctx context.Context, workflowID string, change domain.StatusChange) error {
	if s.crashed.Load() {
		return errCrashed
	}
	return s.CheckpointStore.UpdateWorkflowStatus(ctx, workflowID, change)
}

func (s *crashingStore) CheckpointStep(ctx context.Context, step domain.StepRecord) error {
	if s.crashOn != nil && s.crashOn(step) {
		s.crashed.Store(true)
	}
	if s.crashed.Load() {
		return errCrashed
	}
	return s.CheckpointStore.CheckpointStep(ctx, step)
}

func (s *crashingStore) LogCompensation(ctx context.Context, workflowID, stepName string, intent domain.CompensationIntent) (string, error) {
	if s.crashOnLog != nil && s.crashOnLog(stepName) {
		s.crashed.Store(true)
	}
	if s.crashed.Load() {
		return "", errCrashed
	}
	return s.CheckpointStore.LogCompensation(ctx, workflowID, stepName, intent)
}

func (s *crashingStore) MarkCompensation(ctx context.Context, workflowID, recordID string, status domain.CompensationStatus, errMsg string) error {
	if s.crashed.Load() {
		return errCrashed
	}
	return s.CheckpointStore.MarkCompensation(ctx, workflowID, recordID, status, errMsg)
}

func twoFileSpec(h *harness) domain.WorkflowSpec {
	return h.spec("two-files",
		writeFile("write_a", "out/a.txt", "alpha"),
		writeFile("write_b", "out/b.txt", "beta {{write_a.bytes}}", "write_a"),
	)
}

func TestRecovery_CrashThenRecover(t *testing.T) {
	tests := []struct {
		name      string
		crashOn   domain.StepStatus
		crashLog  bool
		bWritten  bool
		discarded int
	}{
		{name: "before second step runs", crashOn: domain.StepStatusRunning, bWritten: false},
		{name: "while logging the undo", crashLog: true, bWritten: true},
		{name: "after second step ran", crashOn: domain.StepStatusCompleted, bWritten: true, discarded: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()

			crashing := &crashingStore{
				CheckpointStore: h.store,
				crashOn: func(row domain.StepRecord) bool {
					return row.StepName == "write_b" && row.Status == tt.crashOn
				},
				crashOnLog: func(step string) bool {
					return tt.crashLog && step == "write_b"
				},
			}
			first := h.engine(withStore(crashing))
			id := h.submit(first, twoFileSpec(h))
			_, _ = first.Start(ctx, id)
			require.True(t, crashing.crashed.Load())
			assert.Equal(t, tt.bWritten, h.exists("out/b.txt"))

			record, err := h.store.GetWorkflow(ctx, id)
			require.NoError(t, err)
			require.Equal(t, domain.WorkflowStatusRunning, record.Status)

			second := h.engine()
			report, err := second.Recover(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{id}, report.Recovered)
			assert.Equal(t, []string{id}, report.Running)
			assert.Empty(t, report.Failed)

			views := second.ListActive()
			require.Len(t, views, 1)
			assert.Equal(t, []string{"write_a"}, views[0].CompletedSteps)
			assert.Equal(t, "alpha", h.read("out/a.txt"))

			status, err := second.Continue(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, domain.WorkflowStatusCompleted, status)
			assert.Equal(t, "beta 5", h.read("out/b.txt"))

			stack, err := h.store.GetCompensationStack(ctx, id)
			require.NoError(t, err)
			require.Len(t, stack, 2)
			assert.Equal(t, "write_b", stack[0].StepName)
			assert.Equal(t, "write_a", stack[1].StepName)
			assert.Equal(t, int64(1), second.Metrics().WorkflowsRecovered)

			log, err := h.store.GetCompensationLog(ctx, id)
			require.NoError(t, err)
			var discarded int
			for _, entry := range log {
				if entry.Status == domain.CompensationStatusFailed {
					assert.Equal(t, "write_b", entry.StepName)
					discarded++
				}
			}
			assert.Equal(t, tt.discarded, discarded)
		})
	}
}

func TestRecovery_RecoveredStackDrainsInReverse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	crashing := &crashingStore{
		CheckpointStore: h.store,
		crashOn: func(row domain.StepRecord) bool {
			return row.StepName == "third" && row.Status == domain.StepStatusRunning
		},
	}
	first := h.engine(withStore(crashing))
	id := h.submit(first, h.spec("stack", action("first"), action("second", "first"), action("third", "second")))
	_, _ = first.Start(ctx, id)

	second := h.engine()
	_, err := second.Recover(ctx)
	require.NoError(t, err)

	status, err := second.Rollback(ctx, id, "operator abort")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStatusRolledBack, status)
	assert.Equal(t, []string{"run:first", "run:second", "undo:second", "undo:first"}, h.journal.list())
}

func TestRecovery_PausedWorkflowResumes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.engine()
	id := h.submit(first, approvalSpec(h))
	status, err := first.Start(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.WorkflowStatusPaused, status)

	second := h.engine()
	report, err := second.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, report.Paused)
	assert.Empty(t, report.Running)

	views := second.ListActive()
	require.Len(t, views, 1)
	assert.Equal(t, []string{"approve"}, views[0].PausedSteps)

	_, err = second.Continue(ctx, id)
	assert.True(t, domain.IsInvalidTransition(err))

	status, err = second.Resume(ctx, id, domain.DecisionApprove, "erin")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStatusCompleted, status)
	assert.True(t, h.exists("out/file_b.txt"))
}

func TestRecovery_ResumeWithoutRecoverLoadsFromStore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id := h.submit(h.engine(), approvalSpec(h))
	_, err := h.engine().Start(ctx, id)
	require.NoError(t, err)

	status, err := h.engine().Resume(ctx, id, domain.DecisionReject, "frank")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStatusFailed, status)
	assert.False(t, h.exists("out"))

	stack, err := h.store.GetCompensationStack(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, stack)
}

func TestRecovery_UnrecoverableRecordIsFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	started := time.Now()
	require.NoError(t, h.store.CreateWorkflow(ctx, domain.WorkflowRecord{
		ID:        "broken-1",
		Name:      "broken",
		Status:    domain.WorkflowStatusRunning,
		CreatedAt: started,
		StartedAt: &started,
	}))

	e := h.engine()
	report, err := e.Recover(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Recovered)
	require.Contains(t, report.Failed, "broken-1")
	assert.Contains(t, report.Failed["broken-1"], "recovery failed")

	record, err := h.store.GetWorkflow(ctx, "broken-1")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStatusFailed, record.Status)
	assert.Contains(t, record.ErrorMessage, "recovery failed")
	assert.Empty(t, e.ListActive())
}

func TestRecovery_SkipsLiveWorkflows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	e := h.engine()
	id := h.submit(e, approvalSpec(h))
	_, err := e.Start(ctx, id)
	require.NoError(t, err)

	report, err := e.Recover(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Recovered)
	assert.Len(t, e.ListActive(), 1)
}

func TestRecovery_ContinueRequiresRunning(t *testing.T) {
	h := newHarness(t)
	e := h.engine()
	ctx := context.Background()

	id := h.submit(e, h.spec("idle", action("only")))
	_, err := e.Continue(ctx, id)
	assert.True(t, domain.IsInvalidTransition(err))

	_, err = e.Continue(ctx, "missing")
	assert.True(t, domain.IsNotFound(err))
}
