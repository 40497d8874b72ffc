package remote

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/eleven-am/sagaflow/internal/adapters/capability"
	"github.com/eleven-am/sagaflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

func startRuntime(t *testing.T, reg *capability.Registry) *Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	gs := NewServer(reg, nil).NewGRPCServer()
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return NewClient(conn, 5*time.Second, nil)
}

func TestRemoteExecuteRoundTrip(t *testing.T) {
	reg := capability.NewRegistry(nil)
	var seen domain.ExecutionInfo
	require.NoError(t, reg.Register("remote.echo", func(ctx context.Context, inputs map[string]interface{}, info domain.ExecutionInfo) (*domain.ExecutionResult, error) {
		seen = info
		return &domain.ExecutionResult{
			Success: true,
			Outputs: map[string]interface{}{"echo": inputs["msg"], "count": 3},
			Undo: domain.CompensationIntent{
				Action:       domain.IntentInvoke,
				CapabilityID: "remote.unecho",
				Params:       map[string]interface{}{"msg": inputs["msg"]},
			},
		}, nil
	}))

	client := startRuntime(t, reg)
	info := domain.ExecutionInfo{
		WorkflowID: "wf-1",
		StepName:   "echo",
		Attempt:    2,
		Principal:  domain.Principal{ID: "agent-7"},
		RiskLevel:  domain.RiskLevelMedium,
	}

	result, err := client.Execute(context.Background(), "remote.echo", map[string]interface{}{"msg": "hi"}, info)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "hi", result.Outputs["echo"])
	assert.Equal(t, float64(3), result.Outputs["count"])

	intent, ok := result.Undo.(domain.CompensationIntent)
	require.True(t, ok)
	assert.Equal(t, "remote.unecho", intent.CapabilityID)
	assert.Equal(t, "hi", intent.Params["msg"])

	assert.Equal(t, "wf-1", seen.WorkflowID)
	assert.Equal(t, 2, seen.Attempt)
	assert.Equal(t, "agent-7", seen.Principal.ID)
}

func TestRemoteCapabilityErrors(t *testing.T) {
	reg := capability.NewRegistry(nil)
	require.NoError(t, reg.Register("remote.fail", func(ctx context.Context, inputs map[string]interface{}, info domain.ExecutionInfo) (*domain.ExecutionResult, error) {
		return nil, errors.New("disk full")
	}))
	client := startRuntime(t, reg)

	t.Run("capability error becomes unsuccessful result", func(t *testing.T) {
		result, err := client.Execute(context.Background(), "remote.fail", nil, domain.ExecutionInfo{})
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, "disk full", result.ErrorMessage)
		assert.Nil(t, result.Undo)
	})

	t.Run("unknown capability maps to not found", func(t *testing.T) {
		_, err := client.Execute(context.Background(), "remote.missing", nil, domain.ExecutionInfo{})
		assert.ErrorIs(t, err, domain.ErrCapabilityNotFound)
	})

	t.Run("malformed id is rejected", func(t *testing.T) {
		_, err := client.Execute(context.Background(), "../bad id", nil, domain.ExecutionInfo{})
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrCapabilityNotFound)
	})
}

func TestDialRequiresAddress(t *testing.T) {
	_, err := Dial(domain.RemoteConfig{}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}
