package compensation

import (
	"context"
	"errors"
	"testing"

	"github.com/eleven-am/sagaflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Execute(ctx context.Context, capabilityID string, inputs map[string]interface{}, info domain.ExecutionInfo) (*domain.ExecutionResult, error) {
	args := m.Called(ctx, capabilityID, inputs, info)
	result, _ := args.Get(0).(*domain.ExecutionResult)
	return result, args.Error(1)
}

type providerUndo struct {
	path string
}

func (p providerUndo) CompensationIntent() (domain.CompensationIntent, error) {
	return domain.CompensationIntent{Action: "delete", Params: map[string]interface{}{"path": p.path}}, nil
}

func TestCodecInvokeRoundTrip(t *testing.T) {
	codec := NewCodec(nil)
	exec := &mockExecutor{}

	intent := domain.CompensationIntent{
		Action:       domain.IntentInvoke,
		CapabilityID: "billing.refund",
		Params:       map[string]interface{}{"charge": "ch_1"},
	}

	exec.On("Execute", mock.Anything, "billing.refund", intent.Params, mock.MatchedBy(func(info domain.ExecutionInfo) bool {
		return info.Compensating && info.WorkflowID == "wf-1" && info.StepName == "charge"
	})).Return(&domain.ExecutionResult{Success: true}, nil).Once()

	_, err := codec.Execute(context.Background(), intent, exec, domain.ExecutionInfo{WorkflowID: "wf-1", StepName: "charge"})
	require.NoError(t, err)
	exec.AssertExpectations(t)
}

func TestCodecRegisteredAction(t *testing.T) {
	codec := NewCodec(nil)
	require.NoError(t, codec.RegisterCapability("delete", "fs.delete_path"))
	assert.Error(t, codec.RegisterCapability("delete", "fs.delete_path"))
	assert.Equal(t, []string{"delete", domain.IntentInvoke}, codec.Actions())

	capabilityID, params, err := codec.Decode(domain.CompensationIntent{Action: "delete", Params: map[string]interface{}{"path": "a"}})
	require.NoError(t, err)
	assert.Equal(t, "fs.delete_path", capabilityID)
	assert.Equal(t, "a", params["path"])
}

func TestCodecUnknownAction(t *testing.T) {
	codec := NewCodec(nil)
	exec := &mockExecutor{}

	_, err := codec.Execute(context.Background(), domain.CompensationIntent{Action: "teleport"}, exec, domain.ExecutionInfo{})
	assert.ErrorIs(t, err, domain.ErrUnknownIntent)
	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCodecEncode(t *testing.T) {
	codec := NewCodec(nil)
	require.NoError(t, codec.RegisterCapability("delete", "fs.delete_path"))

	tests := []struct {
		name    string
		undo    interface{}
		wantOK  bool
		wantErr bool
		action  string
	}{
		{name: "nil undo", undo: nil},
		{name: "intent value", undo: domain.CompensationIntent{Action: "delete"}, wantOK: true, action: "delete"},
		{name: "intent pointer", undo: &domain.CompensationIntent{Action: domain.IntentInvoke, CapabilityID: "x.y"}, wantOK: true, action: domain.IntentInvoke},
		{name: "provider", undo: providerUndo{path: "a.txt"}, wantOK: true, action: "delete"},
		{name: "closure", undo: func() {}, wantErr: true},
		{name: "unknown kind", undo: domain.CompensationIntent{Action: "teleport"}, wantErr: true},
		{name: "malformed invoke", undo: domain.CompensationIntent{Action: domain.IntentInvoke, CapabilityID: "bad id"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent, ok, err := codec.Encode(tt.undo)
			if tt.wantErr {
				assert.Error(t, err)
				assert.False(t, ok)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.action, intent.Action)
			}
		})
	}
}

func TestCodecExecuteFailures(t *testing.T) {
	codec := NewCodec(nil)
	intent := domain.CompensationIntent{Action: domain.IntentInvoke, CapabilityID: "x.undo"}

	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, "x.undo", mock.Anything, mock.Anything).
		Return(&domain.ExecutionResult{Success: false, ErrorMessage: "disk full"}, nil).Once()
	_, err := codec.Execute(context.Background(), intent, exec, domain.ExecutionInfo{})
	assert.ErrorContains(t, err, "disk full")

	exec = &mockExecutor{}
	exec.On("Execute", mock.Anything, "x.undo", mock.Anything, mock.Anything).
		Return(nil, errors.New("unreachable")).Once()
	_, err = codec.Execute(context.Background(), intent, exec, domain.ExecutionInfo{})
	assert.ErrorContains(t, err, "unreachable")
}

func TestFromDefinition(t *testing.T) {
	intent := FromDefinition(&domain.CompensationDefinition{CapabilityID: "db.drop"}, map[string]interface{}{"table": "t"})
	assert.Equal(t, domain.IntentInvoke, intent.Action)
	assert.Equal(t, "db.drop", intent.CapabilityID)
	assert.Equal(t, "t", intent.Params["table"])
	assert.NoError(t, intent.Validate())
}
