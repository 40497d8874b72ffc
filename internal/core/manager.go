package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/eleven-am/sagaflow/internal/adapters/approval"
	"github.com/eleven-am/sagaflow/internal/adapters/capability"
	"github.com/eleven-am/sagaflow/internal/adapters/capability/filesystem"
	"github.com/eleven-am/sagaflow/internal/adapters/capability/remote"
	"github.com/eleven-am/sagaflow/internal/adapters/circuit_breaker"
	"github.com/eleven-am/sagaflow/internal/adapters/compensation"
	"github.com/eleven-am/sagaflow/internal/adapters/engine"
	"github.com/eleven-am/sagaflow/internal/adapters/events"
	"github.com/eleven-am/sagaflow/internal/adapters/governance"
	"github.com/eleven-am/sagaflow/internal/adapters/storage"
	"github.com/eleven-am/sagaflow/internal/adapters/storage/postgres"
	"github.com/eleven-am/sagaflow/internal/adapters/tracing"
	"github.com/eleven-am/sagaflow/internal/adapters/watchdog"
	"github.com/eleven-am/sagaflow/internal/domain"
	"github.com/eleven-am/sagaflow/internal/ports"
)

type WorkflowStartedEvent = domain.WorkflowStartedEvent
type WorkflowCompletedEvent = domain.WorkflowCompletedEvent
type WorkflowFailedEvent = domain.WorkflowFailedEvent
type WorkflowPausedEvent = domain.WorkflowPausedEvent
type WorkflowResumedEvent = domain.WorkflowResumedEvent
type WorkflowRolledBackEvent = domain.WorkflowRolledBackEvent
type StepCompletedEvent = domain.StepCompletedEvent
type StepFailedEvent = domain.StepFailedEvent
type CompensationEvent = domain.CompensationEvent

// Manager owns every collaborator of the engine and the order in which
// they are opened and closed.
type Manager struct {
	engine    *engine.Engine
	store     ports.CheckpointStore
	registry  *capability.Registry
	codec     *compensation.Codec
	approvals *approval.Service
	hooks     *governance.Chain
	watchdog  *watchdog.Deadline
	events    *events.Manager
	tracing   *tracing.TracingProvider
	remote    *remote.Client

	config *domain.Config
	logger *slog.Logger

	mu        sync.Mutex
	started   bool
	recovered bool
	stopped   bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type options struct {
	policy ports.PolicyChecker
	hooks  []ports.GovernanceHook
	store  ports.CheckpointStore
}

type Option func(*options)

// WithPolicy installs the policy checker consulted before every capability.
func WithPolicy(policy ports.PolicyChecker) Option {
	return func(o *options) { o.policy = policy }
}

// WithGovernanceHook appends a hook to the governance chain.
func WithGovernanceHook(hook ports.GovernanceHook) Option {
	return func(o *options) { o.hooks = append(o.hooks, hook) }
}

// WithStore uses store instead of opening the one named by the config. The
// manager closes it on Stop.
func WithStore(store ports.CheckpointStore) Option {
	return func(o *options) { o.store = store }
}

func NewWithConfig(ctx context.Context, config *domain.Config, opts ...Option) (*Manager, error) {
	if config == nil {
		config = domain.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := config.Logger.With("component", "sagaflow")
	m := &Manager{
		config:    config,
		logger:    logger,
		registry:  capability.NewRegistry(logger),
		codec:     compensation.NewCodec(logger),
		approvals: approval.NewService(logger),
		hooks:     governance.NewChain(logger, o.hooks...),
		watchdog:  watchdog.NewDeadline(logger),
		events:    events.NewManager(logger),
	}

	store := o.store
	if store == nil {
		var err error
		if store, err = openStore(ctx, config, logger); err != nil {
			return nil, err
		}
	}
	m.store = store

	if err := filesystem.New(config.WorkspaceRoot, logger).Register(m.registry, m.codec); err != nil {
		m.closeResources(ctx)
		return nil, fmt.Errorf("register filesystem capabilities: %w", err)
	}

	if config.Remote.Address != "" {
		client, err := remote.Dial(config.Remote, logger)
		if err != nil {
			m.closeResources(ctx)
			return nil, err
		}
		m.remote = client
		if config.Remote.Breaker.FailureThreshold > 0 {
			m.registry.SetFallback(circuit_breaker.Guard(client, circuit_breaker.New("remote-runtime", config.Remote.Breaker, logger)))
		} else {
			m.registry.SetFallback(client)
		}
	}

	tp, err := tracing.NewTracingProvider(ctx, config.Tracing, logger)
	if err != nil {
		m.closeResources(ctx)
		return nil, err
	}
	m.tracing = tp

	m.engine, err = engine.NewEngine(config.Engine, engine.Dependencies{
		Store:     m.store,
		Executor:  m.registry,
		Codec:     m.codec,
		Policy:    o.policy,
		Approvals: m.approvals,
		Hooks:     m.hooks,
		Watchdog:  m.watchdog,
		Events:    m.events,
		Tracer:    tp.GetTracer("sagaflow/engine"),
	}, logger)
	if err != nil {
		m.closeResources(ctx)
		return nil, err
	}
	return m, nil
}

func openStore(ctx context.Context, config *domain.Config, logger *slog.Logger) (ports.CheckpointStore, error) {
	switch config.Storage.Driver {
	case domain.StorageDriverPostgres:
		store, err := postgres.New(ctx, config.Storage.Postgres, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	default:
		opts := storage.Options{InMemory: config.Storage.InMemory}
		if !opts.InMemory {
			opts.Dir = filepath.Join(config.DataDir, "checkpoints")
		}
		return storage.Open(opts, logger)
	}
}

// Start runs recovery when it is enabled. Recovered RUNNING workflows are
// continued in the background when Recovery.ResumeRunning is set; PAUSED
// ones wait for ResumeWorkflow. Workflow calls return ErrNotStarted until
// Start has returned successfully.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return domain.ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	m.mu.Unlock()

	if !m.config.Recovery.Enabled {
		m.markRecovered()
		m.logger.Info("manager started", "recovery", false)
		return nil
	}

	report, err := m.engine.Recover(ctx)
	if err != nil {
		m.mu.Lock()
		m.started = false
		m.cancel()
		m.mu.Unlock()
		return fmt.Errorf("recover workflows: %w", err)
	}
	m.markRecovered()

	if m.config.Recovery.ResumeRunning {
		for _, id := range report.Running {
			m.wg.Add(1)
			go func(workflowID string) {
				defer m.wg.Done()
				status, err := m.engine.Continue(m.ctx, workflowID)
				if err != nil {
					m.logger.Error("failed to continue recovered workflow", "workflow_id", workflowID, "error", err)
					return
				}
				m.logger.Info("recovered workflow settled", "workflow_id", workflowID, "status", status)
			}(id)
		}
	}

	m.logger.Info("manager started",
		"recovered", len(report.Recovered),
		"resuming", m.config.Recovery.ResumeRunning && len(report.Running) > 0,
	)
	return nil
}

// Stop waits for background continuations and closes every resource. It is
// safe to call more than once.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	cancel := m.cancel
	m.mu.Unlock()

	m.wg.Wait()
	if cancel != nil {
		cancel()
	}
	return m.closeResources(ctx)
}

func (m *Manager) closeResources(ctx context.Context) error {
	var errs []error
	if m.remote != nil {
		errs = append(errs, m.remote.Close())
	}
	if m.tracing != nil {
		errs = append(errs, m.tracing.Shutdown(ctx))
	}
	if m.store != nil {
		errs = append(errs, m.store.Close())
	}
	return errors.Join(errs...)
}

func (m *Manager) markRecovered() {
	m.mu.Lock()
	m.recovered = true
	m.mu.Unlock()
}

func (m *Manager) ready() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return domain.ErrClosed
	}
	if !m.recovered {
		return domain.ErrNotStarted
	}
	return nil
}

// RegisterCapability adds a local capability. Local capabilities win over
// the remote runtime.
func (m *Manager) RegisterCapability(capabilityID string, fn ports.CapabilityFunc) error {
	return m.registry.Register(capabilityID, fn)
}

// RegisterCompensation maps an undo action kind onto the capability that
// performs it.
func (m *Manager) RegisterCompensation(action, capabilityID string) error {
	return m.codec.RegisterCapability(action, capabilityID)
}

func (m *Manager) AddGovernanceHook(hook ports.GovernanceHook) {
	m.hooks.Append(hook)
}

func (m *Manager) Capabilities() []string {
	return m.registry.Capabilities()
}

func (m *Manager) Submit(ctx context.Context, spec domain.WorkflowSpec) (string, error) {
	if err := m.ready(); err != nil {
		return "", err
	}
	return m.engine.Submit(ctx, spec)
}

func (m *Manager) StartWorkflow(ctx context.Context, workflowID string) (domain.WorkflowStatus, error) {
	if err := m.ready(); err != nil {
		return "", err
	}
	return m.engine.Start(ctx, workflowID)
}

// Run submits spec and starts it, returning the id and the status the
// workflow settled in.
func (m *Manager) Run(ctx context.Context, spec domain.WorkflowSpec) (string, domain.WorkflowStatus, error) {
	id, err := m.Submit(ctx, spec)
	if err != nil {
		return "", "", err
	}
	status, err := m.engine.Start(ctx, id)
	return id, status, err
}

func (m *Manager) ResumeWorkflow(ctx context.Context, workflowID string, decision domain.Decision, approver string) (domain.WorkflowStatus, error) {
	if err := m.ready(); err != nil {
		return "", err
	}
	return m.engine.Resume(ctx, workflowID, decision, approver)
}

func (m *Manager) CancelWorkflow(ctx context.Context, workflowID, reason string, rollback bool) (domain.WorkflowStatus, error) {
	if err := m.ready(); err != nil {
		return "", err
	}
	return m.engine.Cancel(ctx, workflowID, reason, rollback)
}

func (m *Manager) RollbackWorkflow(ctx context.Context, workflowID, reason string) (domain.WorkflowStatus, error) {
	if err := m.ready(); err != nil {
		return "", err
	}
	return m.engine.Rollback(ctx, workflowID, reason)
}

// ContinueWorkflow re-enters the scheduler for a recovered RUNNING workflow.
func (m *Manager) ContinueWorkflow(ctx context.Context, workflowID string) (domain.WorkflowStatus, error) {
	if err := m.ready(); err != nil {
		return "", err
	}
	return m.engine.Continue(ctx, workflowID)
}

func (m *Manager) GetWorkflowStatus(ctx context.Context, workflowID string) (domain.WorkflowStatus, error) {
	return m.engine.GetStatus(ctx, workflowID)
}

func (m *Manager) GetWorkflow(ctx context.Context, workflowID string) (*domain.WorkflowSnapshot, error) {
	return m.engine.GetWorkflow(ctx, workflowID)
}

func (m *Manager) ListActiveWorkflows() []domain.ExecutionView {
	return m.engine.ListActive()
}

func (m *Manager) PendingApprovals(workflowID string) []domain.ApprovalRequest {
	return m.approvals.Pending(workflowID)
}

func (m *Manager) ApprovalHistory(workflowID string) []domain.ApprovalDecisionRecord {
	return m.approvals.History(workflowID)
}

func (m *Manager) Metrics() domain.ExecutionMetrics {
	return m.engine.Metrics()
}

func (m *Manager) OnWorkflowStarted(handler func(*WorkflowStartedEvent)) error {
	return m.events.OnWorkflowStarted(handler)
}

func (m *Manager) OnWorkflowCompleted(handler func(*WorkflowCompletedEvent)) error {
	return m.events.OnWorkflowCompleted(handler)
}

func (m *Manager) OnWorkflowFailed(handler func(*WorkflowFailedEvent)) error {
	return m.events.OnWorkflowFailed(handler)
}

func (m *Manager) OnWorkflowPaused(handler func(*WorkflowPausedEvent)) error {
	return m.events.OnWorkflowPaused(handler)
}

func (m *Manager) OnWorkflowResumed(handler func(*WorkflowResumedEvent)) error {
	return m.events.OnWorkflowResumed(handler)
}

func (m *Manager) OnWorkflowRolledBack(handler func(*WorkflowRolledBackEvent)) error {
	return m.events.OnWorkflowRolledBack(handler)
}

func (m *Manager) OnStepCompleted(handler func(*StepCompletedEvent)) error {
	return m.events.OnStepCompleted(handler)
}

func (m *Manager) OnStepFailed(handler func(*StepFailedEvent)) error {
	return m.events.OnStepFailed(handler)
}

func (m *Manager) OnCompensation(handler func(*CompensationEvent)) error {
	return m.events.OnCompensation(handler)
}

func (m *Manager) Subscribe(pattern string, handler func(string, interface{})) (string, error) {
	return m.events.Subscribe(pattern, handler)
}

func (m *Manager) Unsubscribe(id string) {
	m.events.Unsubscribe(id)
}
