package approval

import (
	"context"
	"testing"
	"time"

	"github.com/eleven-am/sagaflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceRequestAndDecide(t *testing.T) {
	ctx := context.Background()
	s := NewService(nil)

	require.NoError(t, s.RequestApproval(ctx, domain.ApprovalRequest{WorkflowID: "wf", StepName: "gate", Reason: "prod deploy"}))
	require.NoError(t, s.RequestApproval(ctx, domain.ApprovalRequest{WorkflowID: "wf", StepName: "gate"}))
	require.NoError(t, s.RequestApproval(ctx, domain.ApprovalRequest{WorkflowID: "wf", StepName: "second"}))

	pending, err := s.IsPending(ctx, "wf")
	require.NoError(t, err)
	assert.True(t, pending)

	reqs := s.Pending("wf")
	require.Len(t, reqs, 2)
	assert.NotEmpty(t, reqs[0].ID)
	assert.False(t, reqs[0].RequestedAt.IsZero())

	require.NoError(t, s.RecordDecision(ctx, "wf", domain.DecisionApprove, "alice"))

	pending, err = s.IsPending(ctx, "wf")
	require.NoError(t, err)
	assert.False(t, pending)

	history := s.History("wf")
	require.Len(t, history, 2)
	assert.Equal(t, "alice", history[0].Approver)
	assert.Equal(t, reqs[0].ID, history[0].RequestID)
}

func TestServiceErrors(t *testing.T) {
	ctx := context.Background()
	s := NewService(nil)

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{
			name: "missing step",
			run:  func() error { return s.RequestApproval(ctx, domain.ApprovalRequest{WorkflowID: "wf"}) },
			want: domain.ErrInvalidInput,
		},
		{
			name: "bad decision",
			run:  func() error { return s.RecordDecision(ctx, "wf", domain.Decision("maybe"), "bob") },
			want: domain.ErrInvalidDecision,
		},
		{
			name: "nothing pending",
			run:  func() error { return s.RecordDecision(ctx, "wf", domain.DecisionReject, "bob") },
			want: domain.ErrNoPendingApproval,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), tt.want)
		})
	}

	assert.Len(t, s.History("wf"), 1)
}

func TestServicePendingAcrossWorkflows(t *testing.T) {
	ctx := context.Background()
	s := NewService(nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.RequestApproval(ctx, domain.ApprovalRequest{WorkflowID: "b", StepName: "x", RequestedAt: base.Add(time.Minute)}))
	require.NoError(t, s.RequestApproval(ctx, domain.ApprovalRequest{WorkflowID: "a", StepName: "y", RequestedAt: base}))

	all := s.Pending("")
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].WorkflowID)
	assert.Equal(t, "b", all[1].WorkflowID)
}
