package sagaflow

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilityRuntime_RemoteCompensation(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var released atomic.Value
	runtime := NewCapabilityRuntime(logger)
	require.NoError(t, runtime.RegisterCapability("inventory.reserve", func(ctx context.Context, inputs map[string]interface{}, info ExecutionInfo) (*ExecutionResult, error) {
		return &ExecutionResult{
			Success: true,
			Outputs: map[string]interface{}{"reservation": "res-1"},
			Undo: map[string]interface{}{
				"action":        IntentInvoke,
				"capability_id": "inventory.release",
				"params":        map[string]interface{}{"reservation": "res-1", "sku": inputs["sku"]},
			},
		}, nil
	}))
	require.NoError(t, runtime.RegisterCapability("inventory.release", func(ctx context.Context, inputs map[string]interface{}, info ExecutionInfo) (*ExecutionResult, error) {
		released.Store(inputs["reservation"].(string) + "/" + inputs["sku"].(string))
		return &ExecutionResult{Success: true}, nil
	}))

	require.NoError(t, runtime.RegisterCapability("payments.charge", func(ctx context.Context, inputs map[string]interface{}, info ExecutionInfo) (*ExecutionResult, error) {
		return &ExecutionResult{Success: false, ErrorMessage: "card declined"}, nil
	}))

	go func() { _ = runtime.Serve(lis) }()
	t.Cleanup(runtime.Stop)

	config := NewConfigBuilder("").
		WithInMemoryStorage().
		WithRemoteRuntime(lis.Addr().String(), true).
		WithRetries(1, 0, 0).
		WithLogger(logger).
		Build()

	manager, err := New(ctx, config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Stop(ctx) })
	require.NoError(t, manager.Start(ctx))

	spec, err := ParseWorkflowSpec([]byte(`
name: order
owner: {id: agent-orders}
initial_state: {sku: widget-9}
enable_auto_rollback: true
steps:
  - {name: reserve, kind: action, capability_id: inventory.reserve, inputs: {sku: "{{sku}}"}}
  - {name: charge, kind: action, capability_id: payments.charge, depends_on: [reserve], inputs: {hold: "{{reserve.reservation}}"}}
`))
	require.NoError(t, err)

	id, status, err := manager.Run(ctx, *spec)
	require.NoError(t, err)
	assert.Equal(t, WorkflowStatusRolledBack, status)
	assert.Equal(t, "res-1/widget-9", released.Load())

	snapshot, err := manager.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, snapshot.Record.ErrorMessage, "card declined")
}
