package governance

import (
	"context"
	"errors"
	"testing"

	"github.com/eleven-am/sagaflow/internal/domain"
	"github.com/eleven-am/sagaflow/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepHook struct {
	ports.NopGovernanceHook
	result domain.HookResult
	err    error
	calls  int
}

func (h *stepHook) PreStep(context.Context, *domain.ExecutionView, domain.StepDefinition, map[string]interface{}) (domain.HookResult, error) {
	h.calls++
	return h.result, h.err
}

func TestChainPreStep(t *testing.T) {
	view := &domain.ExecutionView{WorkflowID: "wf"}
	step := domain.StepDefinition{Name: "deploy"}

	tests := []struct {
		name      string
		hooks     []*stepHook
		want      domain.HookDecision
		lastCalls int
	}{
		{
			name:      "empty chain allows",
			want:      domain.HookAllow,
			lastCalls: -1,
		},
		{
			name:      "all allow",
			hooks:     []*stepHook{{result: domain.Allow()}, {result: domain.HookResult{}}},
			want:      domain.HookAllow,
			lastCalls: 1,
		},
		{
			name:      "first non-allow wins",
			hooks:     []*stepHook{{result: domain.HookResult{Decision: domain.HookPause, Reason: "review"}}, {result: domain.HookResult{Decision: domain.HookDeny}}},
			want:      domain.HookPause,
			lastCalls: 0,
		},
		{
			name:      "errors count as allow",
			hooks:     []*stepHook{{err: errors.New("policy service down")}, {result: domain.HookResult{Decision: domain.HookDeny}}},
			want:      domain.HookDeny,
			lastCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := NewChain(nil)
			for _, h := range tt.hooks {
				chain.Append(h)
			}

			result, err := chain.PreStep(context.Background(), view, step, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Decision)
			if tt.lastCalls >= 0 {
				assert.Equal(t, tt.lastCalls, tt.hooks[len(tt.hooks)-1].calls)
			}
		})
	}
}

func TestChainSkipsNilHooks(t *testing.T) {
	chain := NewChain(nil, nil, ports.NopGovernanceHook{})
	assert.Equal(t, 1, chain.Len())

	result, err := chain.PostExecution(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.HookAllow, result.Decision)
}
