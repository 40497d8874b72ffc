// Package storagetest holds the behaviour every ports.CheckpointStore must
// share. Store packages call Run from their own tests.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/eleven-am/sagaflow/internal/domain"
	"github.com/eleven-am/sagaflow/internal/ports"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Factory func(t *testing.T) ports.CheckpointStore

func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("CreateDuplicate", func(t *testing.T) { testCreateDuplicate(t, newStore(t)) })
	t.Run("UnknownWorkflow", func(t *testing.T) { testUnknownWorkflow(t, newStore(t)) })
	t.Run("StatusIdempotent", func(t *testing.T) { testStatusIdempotent(t, newStore(t)) })
	t.Run("TerminalStatus", func(t *testing.T) { testTerminalStatus(t, newStore(t)) })
	t.Run("StepUpsert", func(t *testing.T) { testStepUpsert(t, newStore(t)) })
	t.Run("CompletionOrder", func(t *testing.T) { testCompletionOrder(t, newStore(t)) })
	t.Run("CompensationStack", func(t *testing.T) { testCompensationStack(t, newStore(t)) })
	t.Run("MarkCompensationOnce", func(t *testing.T) { testMarkCompensationOnce(t, newStore(t)) })
	t.Run("RunningWorkflows", func(t *testing.T) { testRunningWorkflows(t, newStore(t)) })
}

func NewRecord(name string) domain.WorkflowRecord {
	spec := domain.WorkflowSpec{
		Name:         name,
		Version:      "1",
		InitialState: map[string]interface{}{"greeting": "hello"},
		Owner:        domain.Principal{ID: "agent-1", WorkspaceRoot: "/tmp/ws"},
		Steps: []domain.StepDefinition{
			{Name: "one", Kind: domain.StepKindAction, CapabilityID: "test.one"},
			{Name: "two", Kind: domain.StepKindAction, CapabilityID: "test.two", DependsOn: []string{"one"}},
		},
		EnableAutoRollback: true,
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	return domain.WorkflowRecord{
		ID:        uuid.New().String(),
		Name:      name,
		Version:   spec.Version,
		Owner:     spec.Owner.ID,
		Principal: spec.Owner,
		Status:    domain.WorkflowStatusPending,
		Spec:      spec,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func create(t *testing.T, store ports.CheckpointStore, status domain.WorkflowStatus) domain.WorkflowRecord {
	t.Helper()
	record := NewRecord("wf-" + string(status))
	require.NoError(t, store.CreateWorkflow(context.Background(), record))
	if status != domain.WorkflowStatusPending {
		require.NoError(t, store.UpdateWorkflowStatus(context.Background(), record.ID, domain.StatusChange{Status: status}))
	}
	return record
}

func testCreateAndGet(t *testing.T, store ports.CheckpointStore) {
	ctx := context.Background()
	record := NewRecord("create")
	require.NoError(t, store.CreateWorkflow(ctx, record))

	got, err := store.GetWorkflow(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, domain.WorkflowStatusPending, got.Status)
	assert.Equal(t, "agent-1", got.Owner)
	assert.Equal(t, "/tmp/ws", got.Principal.WorkspaceRoot)
	require.Len(t, got.Spec.Steps, 2)
	assert.Equal(t, []string{"one"}, got.Spec.Steps[1].DependsOn)
	assert.Equal(t, "hello", got.Spec.InitialState["greeting"])
	assert.True(t, got.Spec.EnableAutoRollback)
	assert.WithinDuration(t, record.CreatedAt, got.CreatedAt, time.Millisecond)
	assert.Nil(t, got.StartedAt)
}

func testCreateDuplicate(t *testing.T, store ports.CheckpointStore) {
	ctx := context.Background()
	record := NewRecord("dup")
	require.NoError(t, store.CreateWorkflow(ctx, record))
	assert.Error(t, store.CreateWorkflow(ctx, record))
}

func testUnknownWorkflow(t *testing.T, store ports.CheckpointStore) {
	ctx := context.Background()
	_, err := store.GetWorkflow(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)

	err = store.UpdateWorkflowStatus(ctx, "missing", domain.StatusChange{Status: domain.WorkflowStatusRunning})
	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)

	err = store.CheckpointStep(ctx, domain.StepRecord{WorkflowID: "missing", StepName: "one", Status: domain.StepStatusRunning})
	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)

	steps, err := store.GetWorkflowSteps(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func testStatusIdempotent(t *testing.T, store ports.CheckpointStore) {
	ctx := context.Background()
	record := create(t, store, domain.WorkflowStatusPending)

	change := domain.StatusChange{Status: domain.WorkflowStatusRunning, At: time.Now().UTC().Truncate(time.Millisecond)}
	require.NoError(t, store.UpdateWorkflowStatus(ctx, record.ID, change))
	first, err := store.GetWorkflow(ctx, record.ID)
	require.NoError(t, err)
	require.NotNil(t, first.StartedAt)

	later := change
	later.At = change.At.Add(time.Second)
	require.NoError(t, store.UpdateWorkflowStatus(ctx, record.ID, later))
	second, err := store.GetWorkflow(ctx, record.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.WithinDuration(t, *first.StartedAt, *second.StartedAt, time.Millisecond)
	assert.Empty(t, second.ErrorMessage)
	assert.Nil(t, second.CompletedAt)
}

func testTerminalStatus(t *testing.T, store ports.CheckpointStore) {
	ctx := context.Background()
	record := create(t, store, domain.WorkflowStatusRunning)

	require.NoError(t, store.UpdateWorkflowStatus(ctx, record.ID, domain.StatusChange{
		Status:       domain.WorkflowStatusFailed,
		ErrorMessage: "step two failed",
	}))
	require.NoError(t, store.UpdateWorkflowStatus(ctx, record.ID, domain.StatusChange{
		Status:         domain.WorkflowStatusRolledBack,
		RollbackReason: "all compensations executed",
	}))

	got, err := store.GetWorkflow(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStatusRolledBack, got.Status)
	assert.Equal(t, "step two failed", got.ErrorMessage)
	assert.Equal(t, "all compensations executed", got.RollbackReason)
	assert.NotNil(t, got.CompletedAt)
}

func testStepUpsert(t *testing.T, store ports.CheckpointStore) {
	ctx := context.Background()
	record := create(t, store, domain.WorkflowStatusRunning)

	require.NoError(t, store.CheckpointStep(ctx, domain.StepRecord{
		WorkflowID: record.ID, StepName: "one", Kind: domain.StepKindAction,
		Status: domain.StepStatusRunning, Inputs: map[string]interface{}{"path": "a.txt"}, Attempts: 1,
	}))
	require.NoError(t, store.CheckpointStep(ctx, domain.StepRecord{
		WorkflowID: record.ID, StepName: "two", Kind: domain.StepKindAction, Status: domain.StepStatusRunning,
	}))
	require.NoError(t, store.CheckpointStep(ctx, domain.StepRecord{
		WorkflowID: record.ID, StepName: "one", Kind: domain.StepKindAction,
		Status: domain.StepStatusCompleted, Outputs: map[string]interface{}{"bytes": 5}, Attempts: 2, Approved: true,
	}))
	require.NoError(t, store.CheckpointStep(ctx, domain.StepRecord{
		WorkflowID: record.ID, StepName: "one", Kind: domain.StepKindAction,
		Status: domain.StepStatusCompleted, Attempts: 2,
	}))

	steps, err := store.GetWorkflowSteps(ctx, record.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)

	assert.Equal(t, "one", steps[0].StepName)
	assert.Equal(t, int64(1), steps[0].ExecutionOrder)
	assert.Equal(t, domain.StepStatusCompleted, steps[0].Status)
	assert.Equal(t, 2, steps[0].Attempts)
	assert.Equal(t, "a.txt", steps[0].Inputs["path"])
	assert.EqualValues(t, 5, steps[0].Outputs["bytes"])
	assert.True(t, steps[0].Approved)
	assert.NotEmpty(t, steps[0].StepID)

	assert.Equal(t, "two", steps[1].StepName)
	assert.Equal(t, int64(2), steps[1].ExecutionOrder)
	assert.Equal(t, domain.StepStatusRunning, steps[1].Status)
}

func testCompletionOrder(t *testing.T, store ports.CheckpointStore) {
	ctx := context.Background()
	record := create(t, store, domain.WorkflowStatusRunning)

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, store.CheckpointStep(ctx, domain.StepRecord{
			WorkflowID: record.ID, StepName: name, Kind: domain.StepKindParallel, Status: domain.StepStatusRunning,
		}))
	}
	for _, name := range []string{"c", "a"} {
		require.NoError(t, store.CheckpointStep(ctx, domain.StepRecord{
			WorkflowID: record.ID, StepName: name, Kind: domain.StepKindParallel, Status: domain.StepStatusCompleted,
		}))
	}

	steps, err := store.GetWorkflowSteps(ctx, record.ID)
	require.NoError(t, err)
	byName := map[string]domain.StepRecord{}
	for _, s := range steps {
		byName[s.StepName] = s
	}
	assert.Less(t, byName["c"].CompletionOrder, byName["a"].CompletionOrder)
	assert.Zero(t, byName["b"].CompletionOrder)
}

func testCompensationStack(t *testing.T, store ports.CheckpointStore) {
	ctx := context.Background()
	record := create(t, store, domain.WorkflowStatusRunning)

	var ids []string
	for _, step := range []string{"one", "two", "three"} {
		id, err := store.LogCompensation(ctx, record.ID, step, domain.CompensationIntent{
			Action:       domain.IntentInvoke,
			CapabilityID: "undo." + step,
			Params:       map[string]interface{}{"step": step},
		})
		require.NoError(t, err)
		require.NotEmpty(t, id)
		ids = append(ids, id)
	}

	stack, err := store.GetCompensationStack(ctx, record.ID)
	require.NoError(t, err)
	require.Len(t, stack, 3)
	assert.Equal(t, []string{"three", "two", "one"}, stepNames(stack))
	assert.Equal(t, "undo.three", stack[0].Intent.CapabilityID)
	assert.Equal(t, "three", stack[0].Intent.Params["step"])

	require.NoError(t, store.MarkCompensation(ctx, record.ID, ids[2], domain.CompensationStatusExecuted, ""))
	require.NoError(t, store.MarkCompensation(ctx, record.ID, ids[1], domain.CompensationStatusFailed, "boom"))

	stack, err = store.GetCompensationStack(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, stepNames(stack))

	log, err := store.GetCompensationLog(ctx, record.ID)
	require.NoError(t, err)
	require.Len(t, log, 3)
	assert.Equal(t, []string{"one", "two", "three"}, stepNames(log))
	assert.Equal(t, domain.CompensationStatusFailed, log[1].Status)
	assert.Equal(t, "boom", log[1].Error)
	assert.NotNil(t, log[2].ExecutedAt)
	assert.Less(t, log[0].Sequence, log[1].Sequence)
}

func testMarkCompensationOnce(t *testing.T, store ports.CheckpointStore) {
	ctx := context.Background()
	record := create(t, store, domain.WorkflowStatusRunning)

	id, err := store.LogCompensation(ctx, record.ID, "one", domain.CompensationIntent{Action: "delete", Params: map[string]interface{}{"path": "x"}})
	require.NoError(t, err)

	require.NoError(t, store.MarkCompensation(ctx, record.ID, id, domain.CompensationStatusExecuted, ""))
	assert.NoError(t, store.MarkCompensation(ctx, record.ID, id, domain.CompensationStatusExecuted, ""))
	assert.ErrorIs(t, store.MarkCompensation(ctx, record.ID, id, domain.CompensationStatusFailed, "late"), domain.ErrCompensationSettled)
	assert.ErrorIs(t, store.MarkCompensation(ctx, record.ID, uuid.New().String(), domain.CompensationStatusExecuted, ""), domain.ErrCompensationNotFound)
}

func testRunningWorkflows(t *testing.T, store ports.CheckpointStore) {
	ctx := context.Background()
	pending := create(t, store, domain.WorkflowStatusPending)
	running := create(t, store, domain.WorkflowStatusRunning)
	paused := create(t, store, domain.WorkflowStatusRunning)
	require.NoError(t, store.UpdateWorkflowStatus(ctx, paused.ID, domain.StatusChange{Status: domain.WorkflowStatusPaused}))
	done := create(t, store, domain.WorkflowStatusRunning)
	require.NoError(t, store.UpdateWorkflowStatus(ctx, done.ID, domain.StatusChange{Status: domain.WorkflowStatusCompleted}))

	records, err := store.GetRunningWorkflows(ctx)
	require.NoError(t, err)

	ids := map[string]domain.WorkflowStatus{}
	for _, r := range records {
		ids[r.ID] = r.Status
	}
	assert.Equal(t, domain.WorkflowStatusRunning, ids[running.ID])
	assert.Equal(t, domain.WorkflowStatusPaused, ids[paused.ID])
	assert.NotContains(t, ids, done.ID)
	assert.NotContains(t, ids, pending.ID)
}

func stepNames(records []domain.CompensationRecord) []string {
	names := make([]string, 0, len(records))
	for _, r := range records {
		names = append(names, r.StepName)
	}
	return names
}
