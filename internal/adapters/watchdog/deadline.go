package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/sagaflow/internal/domain"
	"github.com/eleven-am/sagaflow/internal/ports"
)

type deadline struct {
	budget    time.Duration
	startedAt time.Time
}

// Deadline enforces a per-workflow execution budget measured from the time
// the workflow first started running.
type Deadline struct {
	mu        sync.RWMutex
	deadlines map[string]deadline
	now       func() time.Time
	logger    *slog.Logger
}

var _ ports.Watchdog = (*Deadline)(nil)

func NewDeadline(logger *slog.Logger) *Deadline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deadline{
		deadlines: make(map[string]deadline),
		now:       time.Now,
		logger:    logger.With("component", "watchdog"),
	}
}

// WithClock replaces the time source.
func (d *Deadline) WithClock(now func() time.Time) *Deadline {
	d.now = now
	return d
}

// Track registers a budget. Re-tracking keeps the earliest start so a
// recovered workflow does not get a fresh budget.
func (d *Deadline) Track(workflowID string, budget time.Duration, startedAt time.Time) {
	if budget <= 0 {
		return
	}
	if startedAt.IsZero() {
		startedAt = d.now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.deadlines[workflowID]; ok && existing.startedAt.Before(startedAt) {
		startedAt = existing.startedAt
	}
	d.deadlines[workflowID] = deadline{budget: budget, startedAt: startedAt}
}

func (d *Deadline) Check(ctx context.Context, workflowID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.RLock()
	dl, ok := d.deadlines[workflowID]
	d.mu.RUnlock()
	if !ok {
		return nil
	}

	elapsed := d.now().Sub(dl.startedAt)
	if elapsed <= dl.budget {
		return nil
	}

	d.logger.Warn("workflow over budget",
		"workflow_id", workflowID,
		"budget", dl.budget,
		"elapsed", elapsed,
	)
	return fmt.Errorf("%w: ran %s of %s", domain.ErrExpired, elapsed.Round(time.Millisecond), dl.budget)
}

func (d *Deadline) Forget(workflowID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.deadlines, workflowID)
}
