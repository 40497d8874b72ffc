package sagaflow

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigBuilder(t *testing.T) {
	config := NewConfigBuilder("/var/lib/sagaflow").
		WithWorkspaceRoot("/srv/agents").
		WithPostgres("postgres://localhost/sagaflow", 25).
		WithRetries(5, 10*time.Millisecond, time.Second).
		WithStepTimeout(30 * time.Second).
		WithRecovery(true, true).
		WithRemoteRuntime("runtime:7070", true).
		WithTracing("agent-runner", "collector:4317", 0.5).
		Build()

	require.NoError(t, config.Validate())
	assert.Equal(t, "/var/lib/sagaflow", config.DataDir)
	assert.Equal(t, "/srv/agents", config.WorkspaceRoot)
	assert.Equal(t, StorageDriverPostgres, config.Storage.Driver)
	assert.Equal(t, int32(25), config.Storage.Postgres.MaxConns)
	assert.Equal(t, 5, config.Engine.DefaultMaxRetries)
	assert.Equal(t, 30*time.Second, config.Engine.StepTimeout)
	assert.True(t, config.Recovery.ResumeRunning)
	assert.Equal(t, "runtime:7070", config.Remote.Address)
	assert.True(t, config.Tracing.Enabled)
	assert.Equal(t, 0.5, config.Tracing.SamplingRate)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sagaflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /data/sagaflow
storage:
  driver: badger
engine:
  default_max_retries: 7
  retry_initial_interval: 50ms
  step_timeout: 2m
recovery:
  resume_running: true
`), 0o644))

	t.Setenv("SAGAFLOW_ENGINE_DEFAULT_MAX_RETRIES", "9")
	t.Setenv("SAGAFLOW_TRACING_SERVICE_NAME", "from-env")

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/sagaflow", config.DataDir)
	assert.Equal(t, 9, config.Engine.DefaultMaxRetries)
	assert.Equal(t, 50*time.Millisecond, config.Engine.RetryInitialInterval)
	assert.Equal(t, 2*time.Minute, config.Engine.StepTimeout)
	assert.Equal(t, DefaultEngineConfig().RetryMaxInterval, config.Engine.RetryMaxInterval)
	assert.True(t, config.Recovery.Enabled)
	assert.True(t, config.Recovery.ResumeRunning)
	assert.Equal(t, "from-env", config.Tracing.ServiceName)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: etcd\n"), 0o644))
	_, err = LoadConfig(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestParseWorkflowSpec(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, spec *WorkflowSpec)
	}{
		{
			name: "full spec",
			yaml: `
name: release
version: "2"
max_execution_time: 10m
enable_auto_rollback: true
owner:
  id: agent-7
  workspace_root: /srv/agent-7
initial_state:
  env: prod
steps:
  - name: build
    kind: action
    capability_id: ci.build
    inputs:
      target: "{{env}}"
    max_retries: 2
  - name: sign_off
    kind: human_approval
    description: ship to prod?
  - name: deploy
    kind: action
    capability_id: cd.deploy
    depends_on: [build, sign_off]
    risk_level: high
    compensation:
      capability_id: cd.rollback
      inputs:
        release: "{{build.release}}"
`,
			check: func(t *testing.T, spec *WorkflowSpec) {
				assert.Equal(t, "release", spec.Name)
				assert.Equal(t, 10*time.Minute, spec.MaxExecutionTime)
				assert.True(t, spec.EnableAutoRollback)
				assert.Equal(t, "/srv/agent-7", spec.Owner.WorkspaceRoot)
				require.Len(t, spec.Steps, 3)
				assert.Equal(t, StepKindHumanApproval, spec.Steps[1].Kind)
				assert.Equal(t, []string{"build", "sign_off"}, spec.Steps[2].DependsOn)
				assert.Equal(t, RiskLevelHigh, spec.Steps[2].RiskLevel)
				require.NotNil(t, spec.Steps[2].Compensation)
				assert.Equal(t, "cd.rollback", spec.Steps[2].Compensation.CapabilityID)
				assert.Equal(t, "{{env}}", spec.Steps[0].Inputs["target"])
			},
		},
		{
			name:    "empty document",
			yaml:    "",
			wantErr: true,
		},
		{
			name: "unknown field",
			yaml: `
name: typo
steps:
  - name: a
    kind: action
    capability_id: x.y
    depend_on: [b]
`,
			wantErr: true,
		},
		{
			name: "cycle",
			yaml: `
name: loop
steps:
  - {name: a, kind: action, capability_id: x.a, depends_on: [b]}
  - {name: b, kind: action, capability_id: x.b, depends_on: [a]}
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := ParseWorkflowSpec([]byte(tt.yaml))
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, spec)
				return
			}
			require.NoError(t, err)
			tt.check(t, spec)
		})
	}
}

func TestNew_RunsWorkflow(t *testing.T) {
	ctx := context.Background()
	config := NewConfigBuilder("").
		WithInMemoryStorage().
		WithRetries(2, 0, 0).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()

	manager, err := New(ctx, config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Stop(ctx) })
	require.NoError(t, manager.Start(ctx))

	require.NoError(t, manager.RegisterCapability("greet.say", func(ctx context.Context, inputs map[string]interface{}, info ExecutionInfo) (*ExecutionResult, error) {
		return &ExecutionResult{Success: true, Outputs: map[string]interface{}{"text": "hello " + inputs["name"].(string)}}, nil
	}))

	spec, err := ParseWorkflowSpec([]byte(`
name: greeting
owner: {id: agent-1}
initial_state: {who: world}
steps:
  - {name: greet, kind: action, capability_id: greet.say, inputs: {name: "{{who}}"}}
`))
	require.NoError(t, err)

	id, status, err := manager.Run(ctx, *spec)
	require.NoError(t, err)
	assert.Equal(t, WorkflowStatusCompleted, status)

	snapshot, err := manager.GetWorkflow(ctx, id)
	require.NoError(t, err)
	require.Len(t, snapshot.Steps, 1)
	assert.Equal(t, "hello world", snapshot.Steps[0].Outputs["text"])

	_, err = manager.ResumeWorkflow(ctx, id, DecisionApprove, "nobody")
	assert.True(t, IsInvalidTransition(err))
}
