package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkflowError_Format(t *testing.T) {
	cause := errors.New("disk full")

	tests := []struct {
		name string
		err  *WorkflowError
		want string
	}{
		{
			name: "workflow scoped",
			err:  NewWorkflowError("engine", "start", "wf-1", cause),
			want: "engine[wf-1] start: disk full",
		},
		{
			name: "step scoped",
			err:  NewStepError("engine", "execute", "wf-1", "fetch", cause),
			want: "engine[wf-1] execute step fetch: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
			assert.ErrorIs(t, tt.err, cause)
		})
	}
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"not found workflow", fmt.Errorf("load: %w", ErrWorkflowNotFound), IsNotFound, true},
		{"not found compensation", ErrCompensationNotFound, IsNotFound, true},
		{"not found other", ErrClosed, IsNotFound, false},
		{"spec error", fmt.Errorf("submit: %w", NewSpecError("name", "required")), IsSpecError, true},
		{"spec error plain", ErrInvalidInput, IsSpecError, false},
		{"storage error", NewStorageError("get", "wf/1", ErrClosed), IsStorageError, true},
		{"panic", &PanicError{CapabilityID: "x.y", Value: "boom"}, IsPanic, true},
		{"transition", InvalidTransitionError(WorkflowStatusCompleted, WorkflowStatusRunning), IsInvalidTransition, true},
		{"config", NewConfigError("data_dir", ErrInvalidConfig), IsInvalidConfig, true},
		{"expired", NewStepError("engine", "execute", "wf-1", "a", ErrExpired), IsExpired, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check(tt.err))
		})
	}
}

func TestSpecError_UnwrapsToInvalidInput(t *testing.T) {
	err := NewSpecError("steps[0].kind", "unknown step kind \"loop\"")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, `invalid workflow spec: steps[0].kind: unknown step kind "loop"`, err.Error())
}

func TestStorageError_Format(t *testing.T) {
	assert.Equal(t, "storage put wf/1: closed", NewStorageError("put", "wf/1", ErrClosed).Error())
	assert.Equal(t, "storage scan: closed", NewStorageError("scan", "", ErrClosed).Error())
}
