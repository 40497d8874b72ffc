package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/eleven-am/sagaflow/internal/adapters/approval"
	"github.com/eleven-am/sagaflow/internal/adapters/capability"
	"github.com/eleven-am/sagaflow/internal/adapters/capability/filesystem"
	"github.com/eleven-am/sagaflow/internal/adapters/compensation"
	"github.com/eleven-am/sagaflow/internal/adapters/storage"
	"github.com/eleven-am/sagaflow/internal/domain"
	"github.com/eleven-am/sagaflow/internal/ports"
	"github.com/stretchr/testify/require"
)

const (
	capStep    = "test.step"
	capUndo    = "test.undo"
	capFlaky   = "test.flaky"
	capFail    = "test.fail"
	capBadUndo = "test.bad_undo"
)

// journal records capability calls in the order they happened.
type journal struct {
	mu    sync.Mutex
	calls []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	j.calls = append(j.calls, entry)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.calls...)
}

func (j *journal) count(entry string) int {
	n := 0
	for _, call := range j.list() {
		if call == entry {
			n++
		}
	}
	return n
}

type harness struct {
	t         *testing.T
	root      string
	store     ports.CheckpointStore
	registry  *capability.Registry
	codec     *compensation.Codec
	approvals *approval.Service
	journal   *journal
	config    domain.EngineConfig
	deps      Dependencies

	flakyMu       sync.Mutex
	flakyFailures map[string]int
}

type option func(h *harness)

func withStore(store ports.CheckpointStore) option {
	return func(h *harness) { h.deps.Store = store }
}

func withHooks(hooks ports.GovernanceHook) option {
	return func(h *harness) { h.deps.Hooks = hooks }
}

func withPolicy(policy ports.PolicyChecker) option {
	return func(h *harness) { h.deps.Policy = policy }
}

func withWatchdog(w ports.Watchdog) option {
	return func(h *harness) { h.deps.Watchdog = w }
}

func withEvents(p ports.EventPublisher) option {
	return func(h *harness) { h.deps.Events = p }
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store, err := storage.Open(storage.Options{InMemory: true}, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		t:             t,
		root:          t.TempDir(),
		store:         store,
		registry:      capability.NewRegistry(slog.Default()),
		codec:         compensation.NewCodec(slog.Default()),
		approvals:     approval.NewService(slog.Default()),
		journal:       &journal{},
		flakyFailures: make(map[string]int),
		config: domain.EngineConfig{
			DefaultMaxRetries: domain.DefaultMaxRetries,
		},
	}
	require.NoError(t, filesystem.New("", slog.Default()).Register(h.registry, h.codec))
	h.registerTestCapabilities()
	return h
}

func (h *harness) registerTestCapabilities() {
	t := h.t
	require.NoError(t, h.registry.Register(capStep, func(ctx context.Context, inputs map[string]interface{}, info domain.ExecutionInfo) (*domain.ExecutionResult, error) {
		h.journal.add("run:" + info.StepName)
		outputs := map[string]interface{}{"step": info.StepName}
		if v, ok := inputs["value"]; ok {
			outputs["value"] = v
		}
		result := &domain.ExecutionResult{Success: true, Outputs: outputs}
		if skip, _ := inputs["no_undo"].(bool); !skip {
			result.Undo = domain.CompensationIntent{
				Action:       domain.IntentInvoke,
				CapabilityID: capUndo,
				Params:       map[string]interface{}{"step": info.StepName},
			}
		}
		return result, nil
	}))

	require.NoError(t, h.registry.Register(capUndo, func(ctx context.Context, inputs map[string]interface{}, info domain.ExecutionInfo) (*domain.ExecutionResult, error) {
		h.journal.add(fmt.Sprintf("undo:%v", inputs["step"]))
		return &domain.ExecutionResult{Success: true}, nil
	}))

	require.NoError(t, h.registry.Register(capBadUndo, func(ctx context.Context, inputs map[string]interface{}, info domain.ExecutionInfo) (*domain.ExecutionResult, error) {
		h.journal.add(fmt.Sprintf("bad_undo:%v", inputs["step"]))
		return &domain.ExecutionResult{Success: false, ErrorMessage: "undo refused"}, nil
	}))

	require.NoError(t, h.registry.Register(capFlaky, func(ctx context.Context, inputs map[string]interface{}, info domain.ExecutionInfo) (*domain.ExecutionResult, error) {
		h.journal.add("run:" + info.StepName)
		h.flakyMu.Lock()
		defer h.flakyMu.Unlock()
		if h.flakyFailures[info.StepName] > 0 {
			h.flakyFailures[info.StepName]--
			return &domain.ExecutionResult{Success: false, ErrorMessage: "transient failure"}, nil
		}
		return &domain.ExecutionResult{Success: true, Outputs: map[string]interface{}{"attempt": info.Attempt}}, nil
	}))

	require.NoError(t, h.registry.Register(capFail, func(ctx context.Context, inputs map[string]interface{}, info domain.ExecutionInfo) (*domain.ExecutionResult, error) {
		h.journal.add("run:" + info.StepName)
		return nil, fmt.Errorf("boom")
	}))
}

func (h *harness) failTimes(step string, n int) {
	h.flakyMu.Lock()
	h.flakyFailures[step] = n
	h.flakyMu.Unlock()
}

// engine builds a fresh Engine over the harness collaborators. Calling it
// twice simulates a process restart against the same store.
func (h *harness) engine(opts ...option) *Engine {
	h.t.Helper()
	h.deps = Dependencies{
		Store:     h.store,
		Executor:  h.registry,
		Codec:     h.codec,
		Approvals: h.approvals,
	}
	for _, opt := range opts {
		opt(h)
	}
	e, err := NewEngine(h.config, h.deps, slog.Default())
	require.NoError(h.t, err)
	return e
}

func (h *harness) principal() domain.Principal {
	return domain.Principal{ID: "agent-7", WorkspaceRoot: h.root, SessionID: "session-1"}
}

func (h *harness) spec(name string, steps ...domain.StepDefinition) domain.WorkflowSpec {
	return domain.WorkflowSpec{
		Name:  name,
		Steps: steps,
		Owner: h.principal(),
	}
}

func (h *harness) submit(e *Engine, spec domain.WorkflowSpec) string {
	h.t.Helper()
	id, err := e.Submit(context.Background(), spec)
	require.NoError(h.t, err)
	return id
}

func (h *harness) path(rel string) string {
	return filepath.Join(h.root, rel)
}

func (h *harness) exists(rel string) bool {
	_, err := os.Stat(h.path(rel))
	return err == nil
}

func (h *harness) read(rel string) string {
	h.t.Helper()
	data, err := os.ReadFile(h.path(rel))
	require.NoError(h.t, err)
	return string(data)
}

func action(name string, deps ...string) domain.StepDefinition {
	return domain.StepDefinition{
		Name:         name,
		Kind:         domain.StepKindAction,
		CapabilityID: capStep,
		DependsOn:    deps,
	}
}

func parallel(name string, deps ...string) domain.StepDefinition {
	step := action(name, deps...)
	step.Kind = domain.StepKindParallel
	return step
}

func approvalGate(name string, deps ...string) domain.StepDefinition {
	return domain.StepDefinition{
		Name:      name,
		Kind:      domain.StepKindHumanApproval,
		DependsOn: deps,
	}
}

func writeFile(name, path, content string, deps ...string) domain.StepDefinition {
	return domain.StepDefinition{
		Name:         name,
		Kind:         domain.StepKindAction,
		CapabilityID: filesystem.WriteFile,
		Inputs:       map[string]interface{}{"path": path, "content": content},
		DependsOn:    deps,
		RiskLevel:    domain.RiskLevelLow,
	}
}
