package capability

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/eleven-am/sagaflow/internal/domain"
	"github.com/eleven-am/sagaflow/internal/ports"
)

// Registry executes capabilities registered in-process. A panicking
// capability is reported as a *domain.PanicError instead of taking the
// engine down.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[string]ports.CapabilityFunc
	fallback     ports.CapabilityExecutor
	logger       *slog.Logger
}

var _ ports.CapabilityExecutor = (*Registry)(nil)

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		capabilities: make(map[string]ports.CapabilityFunc),
		logger:       logger.With("component", "capability-registry"),
	}
}

func (r *Registry) Register(capabilityID string, fn ports.CapabilityFunc) error {
	if !domain.ValidCapabilityID(capabilityID) {
		return fmt.Errorf("%w: malformed capability id %q", domain.ErrInvalidInput, capabilityID)
	}
	if fn == nil {
		return fmt.Errorf("%w: capability %s has no implementation", domain.ErrInvalidInput, capabilityID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.capabilities[capabilityID]; exists {
		return fmt.Errorf("%w: capability %s already registered", domain.ErrInvalidInput, capabilityID)
	}
	r.capabilities[capabilityID] = fn
	r.logger.Debug("capability registered", "capability_id", capabilityID)
	return nil
}

// SetFallback routes unknown capability ids to another executor, typically
// a remote runtime.
func (r *Registry) SetFallback(executor ports.CapabilityExecutor) {
	r.mu.Lock()
	r.fallback = executor
	r.mu.Unlock()
}

func (r *Registry) Has(capabilityID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.capabilities[capabilityID]
	return ok
}

func (r *Registry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.capabilities))
	for id := range r.capabilities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Execute(ctx context.Context, capabilityID string, inputs map[string]interface{}, info domain.ExecutionInfo) (result *domain.ExecutionResult, err error) {
	r.mu.RLock()
	fn, ok := r.capabilities[capabilityID]
	fallback := r.fallback
	r.mu.RUnlock()

	if !ok {
		if fallback != nil {
			return fallback.Execute(ctx, capabilityID, inputs, info)
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrCapabilityNotFound, capabilityID)
	}

	startTime := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			panicErr := &domain.PanicError{
				CapabilityID: capabilityID,
				Value:        rec,
				Stack:        debug.Stack(),
			}
			r.logger.Error("capability panicked",
				"workflow_id", info.WorkflowID,
				"step", info.StepName,
				"capability_id", capabilityID,
				"panic_value", rec,
				"duration", time.Since(startTime),
			)
			result = nil
			err = panicErr
		}
	}()

	result, err = fn(ctx, inputs, info)
	if err == nil && result == nil {
		result = &domain.ExecutionResult{Success: true}
	}

	r.logger.Debug("capability executed",
		"workflow_id", info.WorkflowID,
		"step", info.StepName,
		"capability_id", capabilityID,
		"compensating", info.Compensating,
		"duration", time.Since(startTime),
		"error", err,
	)
	return result, err
}
