package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/eleven-am/sagaflow/internal/domain"
	"github.com/eleven-am/sagaflow/internal/ports"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Dependencies are the collaborators of an Engine. Store, Executor and Codec
// are required; everything else falls back to a permissive default.
type Dependencies struct {
	Store     ports.CheckpointStore
	Executor  ports.CapabilityExecutor
	Codec     ports.CompensationCodec
	Policy    ports.PolicyChecker
	Approvals ports.ApprovalService
	Hooks     ports.GovernanceHook
	Watchdog  ports.Watchdog
	Events    ports.EventPublisher
	Tracer    trace.Tracer
}

type Engine struct {
	config    domain.EngineConfig
	store     ports.CheckpointStore
	executor  ports.CapabilityExecutor
	codec     ports.CompensationCodec
	policy    ports.PolicyChecker
	approvals ports.ApprovalService
	hooks     ports.GovernanceHook
	watchdog  ports.Watchdog
	events    ports.EventPublisher
	tracer    trace.Tracer
	logger    *slog.Logger
	metrics   *domain.ExecutionMetrics
	now       func() time.Time

	mu       sync.RWMutex
	contexts map[string]*domain.ExecutionContext
}

var _ ports.WorkflowEngine = (*Engine)(nil)

func NewEngine(config domain.EngineConfig, deps Dependencies, logger *slog.Logger) (*Engine, error) {
	if deps.Store == nil || deps.Executor == nil || deps.Codec == nil {
		return nil, fmt.Errorf("%w: engine needs a store, an executor and a codec", domain.ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Policy == nil {
		deps.Policy = ports.AllowAllPolicy{}
	}
	if deps.Hooks == nil {
		deps.Hooks = ports.NopGovernanceHook{}
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("sagaflow/engine")
	}

	return &Engine{
		config:    config,
		store:     deps.Store,
		executor:  deps.Executor,
		codec:     deps.Codec,
		policy:    deps.Policy,
		approvals: deps.Approvals,
		hooks:     deps.Hooks,
		watchdog:  deps.Watchdog,
		events:    deps.Events,
		tracer:    deps.Tracer,
		logger:    logger.With("component", "engine"),
		metrics:   domain.NewExecutionMetrics(),
		now:       time.Now,
		contexts:  make(map[string]*domain.ExecutionContext),
	}, nil
}

// Submit validates spec and persists a PENDING workflow. Nothing is written
// when validation fails.
func (e *Engine) Submit(ctx context.Context, spec domain.WorkflowSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	id := uuid.New().String()
	now := e.now()
	record := domain.WorkflowRecord{
		ID:        id,
		Name:      spec.Name,
		Version:   spec.Version,
		Owner:     spec.Owner.ID,
		Principal: spec.Owner,
		Status:    domain.WorkflowStatusPending,
		Spec:      spec,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateWorkflow(ctx, record); err != nil {
		return "", domain.NewWorkflowError("engine", "submit", id, err)
	}

	e.register(domain.NewExecutionContext(id, spec, now))
	e.logger.Info("workflow submitted", "workflow_id", id, "name", spec.Name, "steps", len(spec.Steps))
	return id, nil
}

// Start runs a PENDING workflow until it pauses or reaches a terminal
// status. Step and workflow failures are reported through the status.
func (e *Engine) Start(ctx context.Context, workflowID string) (domain.WorkflowStatus, error) {
	wctx, status, err := e.load(ctx, workflowID)
	if err != nil {
		return status, err
	}
	if wctx == nil || wctx.CurrentStatus() != domain.WorkflowStatusPending {
		return status, domain.NewWorkflowError("engine", "start", workflowID,
			domain.InvalidTransitionError(status, domain.WorkflowStatusRunning))
	}

	ctx, span := e.startWorkflowSpan(ctx, "workflow.start", wctx)
	defer span.End()

	if err := e.transition(ctx, wctx, domain.WorkflowStatusRunning, domain.StatusChange{}); err != nil {
		return wctx.CurrentStatus(), err
	}
	e.metrics.IncrementWorkflowsStarted()

	view := wctx.View()
	if e.watchdog != nil && view.StartedAt != nil {
		e.watchdog.Track(workflowID, wctx.Spec.MaxExecutionTime, *view.StartedAt)
	}
	e.publish(&domain.WorkflowStartedEvent{
		WorkflowID: workflowID,
		Name:       wctx.Spec.Name,
		Owner:      wctx.Principal.ID,
		StartedAt:  *view.StartedAt,
	})

	hook := e.consultHook("pre_execution", wctx, func(v *domain.ExecutionView) (domain.HookResult, error) {
		return e.hooks.PreExecution(ctx, v)
	})
	switch hook.Decision {
	case domain.HookDeny:
		status, err := e.fail(ctx, wctx, "", fmt.Errorf("%w: %s", errDenied, hookReason(hook, "pre-execution governance hook")), false)
		return e.finishSpan(span, status, err)
	case domain.HookPause:
		status, err := e.pause(ctx, wctx, hookReason(hook, "pre-execution governance hook"))
		return e.finishSpan(span, status, err)
	}

	status, err = e.run(ctx, wctx)
	return e.finishSpan(span, status, err)
}

// Resume settles a PAUSED workflow. Approve releases the gated steps and
// re-enters the scheduler; reject compensates everything done so far and
// leaves the workflow FAILED.
func (e *Engine) Resume(ctx context.Context, workflowID string, decision domain.Decision, approver string) (domain.WorkflowStatus, error) {
	decision, err := domain.ParseDecision(string(decision))
	if err != nil {
		return "", err
	}

	wctx, status, err := e.load(ctx, workflowID)
	if err != nil {
		return status, err
	}
	if wctx == nil || wctx.CurrentStatus() != domain.WorkflowStatusPaused {
		return status, domain.NewWorkflowError("engine", "resume", workflowID,
			domain.InvalidTransitionError(status, domain.WorkflowStatusRunning))
	}

	ctx, span := e.startWorkflowSpan(ctx, "workflow.resume", wctx)
	defer span.End()

	if e.approvals != nil {
		if err := e.approvals.RecordDecision(ctx, workflowID, decision, approver); err != nil {
			e.logger.Warn("approval decision not recorded",
				"workflow_id", workflowID,
				"decision", decision,
				"error", err,
			)
		}
	}
	e.metrics.IncrementWorkflowsResumed()
	e.publish(&domain.WorkflowResumedEvent{
		WorkflowID: workflowID,
		Decision:   decision,
		Approver:   approver,
		ResumedAt:  e.now(),
	})
	e.logger.Info("workflow resumed", "workflow_id", workflowID, "decision", decision, "approver", approver)

	if decision == domain.DecisionReject {
		wctx.TakePaused()
		status, err := e.reject(ctx, wctx)
		return e.finishSpan(span, status, err)
	}

	if err := e.approvePaused(ctx, wctx, approver); err != nil {
		status, err := e.fail(ctx, wctx, "", err, false)
		return e.finishSpan(span, status, err)
	}
	if err := e.transition(ctx, wctx, domain.WorkflowStatusRunning, domain.StatusChange{}); err != nil {
		return wctx.CurrentStatus(), err
	}

	status, err = e.run(ctx, wctx)
	return e.finishSpan(span, status, err)
}

// Cancel marks an active workflow FAILED and optionally compensates it.
func (e *Engine) Cancel(ctx context.Context, workflowID, reason string, rollback bool) (domain.WorkflowStatus, error) {
	wctx, status, err := e.load(ctx, workflowID)
	if err != nil {
		return status, err
	}
	if wctx == nil || !wctx.CurrentStatus().IsActive() {
		return status, domain.NewWorkflowError("engine", "cancel", workflowID,
			domain.InvalidTransitionError(status, domain.WorkflowStatusFailed))
	}

	if reason == "" {
		reason = "cancelled by operator"
	}
	e.logger.Info("cancelling workflow", "workflow_id", workflowID, "reason", reason, "rollback", rollback)
	wctx.TakePaused()
	return e.fail(ctx, wctx, "", errors.New(reason), rollback)
}

// Rollback is an operator-triggered cancellation that always drains the
// compensation stack: RUNNING/PAUSED -> FAILED -> ROLLED_BACK.
func (e *Engine) Rollback(ctx context.Context, workflowID, reason string) (domain.WorkflowStatus, error) {
	if reason == "" {
		reason = "manual rollback"
	}
	return e.Cancel(ctx, workflowID, reason, true)
}

func (e *Engine) GetStatus(ctx context.Context, workflowID string) (domain.WorkflowStatus, error) {
	if wctx := e.get(workflowID); wctx != nil {
		return wctx.CurrentStatus(), nil
	}
	record, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return "", err
	}
	return record.Status, nil
}

// GetWorkflow returns the persisted view: record, step rows and the pending
// compensation stack.
func (e *Engine) GetWorkflow(ctx context.Context, workflowID string) (*domain.WorkflowSnapshot, error) {
	record, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	steps, err := e.store.GetWorkflowSteps(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	stack, err := e.store.GetCompensationStack(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return &domain.WorkflowSnapshot{Record: *record, Steps: steps, Compensations: stack}, nil
}

// ListActive returns the workflows currently held in memory, oldest first.
func (e *Engine) ListActive() []domain.ExecutionView {
	e.mu.RLock()
	views := make([]domain.ExecutionView, 0, len(e.contexts))
	for _, wctx := range e.contexts {
		views = append(views, wctx.View())
	}
	e.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool {
		return views[i].CreatedAt.Before(views[j].CreatedAt)
	})
	return views
}

func (e *Engine) Metrics() domain.ExecutionMetrics {
	return e.metrics.Snapshot()
}

func (e *Engine) get(workflowID string) *domain.ExecutionContext {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.contexts[workflowID]
}

// register keeps the first context registered for an id.
func (e *Engine) register(wctx *domain.ExecutionContext) *domain.ExecutionContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.contexts[wctx.WorkflowID]; ok {
		return existing
	}
	e.contexts[wctx.WorkflowID] = wctx
	return wctx
}

func (e *Engine) release(wctx *domain.ExecutionContext) {
	e.mu.Lock()
	delete(e.contexts, wctx.WorkflowID)
	e.mu.Unlock()
	if e.watchdog != nil {
		e.watchdog.Forget(wctx.WorkflowID)
	}
}

// load finds the in-memory context for an id, rebuilding it from the store
// when the process has not seen it yet. A nil context with a nil error means
// the workflow exists but is terminal.
func (e *Engine) load(ctx context.Context, workflowID string) (*domain.ExecutionContext, domain.WorkflowStatus, error) {
	if wctx := e.get(workflowID); wctx != nil {
		return wctx, wctx.CurrentStatus(), nil
	}

	record, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, "", err
	}

	switch {
	case record.Status == domain.WorkflowStatusPending:
		wctx := domain.NewExecutionContext(record.ID, record.Spec, record.CreatedAt)
		wctx = e.register(wctx)
		return wctx, wctx.CurrentStatus(), nil
	case record.Status.IsActive():
		wctx, err := e.reconstruct(ctx, record)
		if err != nil {
			return nil, record.Status, domain.NewWorkflowError("engine", "load", workflowID, err)
		}
		wctx = e.register(wctx)
		return wctx, wctx.CurrentStatus(), nil
	default:
		return nil, record.Status, nil
	}
}

func (e *Engine) publish(event interface{}) {
	if e.events != nil {
		e.events.Publish(event)
	}
}
