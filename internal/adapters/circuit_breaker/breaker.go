package circuit_breaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/sagaflow/internal/domain"
)

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

type Metrics struct {
	State               State     `json:"state"`
	Allowed             int64     `json:"allowed"`
	Rejected            int64     `json:"rejected"`
	Failures            int64     `json:"failures"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastStateChange     time.Time `json:"last_state_change"`
}

// Breaker stops calling a dependency after FailureThreshold consecutive
// failures. After OpenInterval it lets HalfOpenRequests probes through and
// closes again once SuccessThreshold of them succeed.
type Breaker struct {
	name   string
	config domain.BreakerConfig
	logger *slog.Logger
	now    func() time.Time

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	probes               int
	nextProbe            time.Time
	lastStateChange      time.Time
	allowed              int64
	rejected             int64
	failures             int64
}

func New(name string, config domain.BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.HalfOpenRequests <= 0 {
		config.HalfOpenRequests = 1
	}
	if config.OpenInterval <= 0 {
		config.OpenInterval = 30 * time.Second
	}

	return &Breaker{
		name:            name,
		config:          config,
		logger:          logger.With("component", "circuit-breaker", "name", name),
		now:             time.Now,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// WithClock replaces the time source. Tests only.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// Do runs fn unless the circuit is open. A nil error from fn counts as a
// success.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && !b.now().Before(b.nextProbe) {
		b.setState(StateHalfOpen)
	}

	switch b.state {
	case StateClosed:
	case StateHalfOpen:
		if b.probes >= b.config.HalfOpenRequests {
			b.rejected++
			return fmt.Errorf("%w: %s is probing", domain.ErrCircuitOpen, b.name)
		}
		b.probes++
	default:
		b.rejected++
		return fmt.Errorf("%w: %s retries at %s", domain.ErrCircuitOpen, b.name, b.nextProbe.Format(time.RFC3339))
	}
	b.allowed++
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.consecutiveFailures = 0
		b.consecutiveSuccesses++
		if b.state == StateHalfOpen && b.consecutiveSuccesses >= b.config.SuccessThreshold {
			b.setState(StateClosed)
		}
		return
	}

	b.failures++
	b.consecutiveSuccesses = 0
	b.consecutiveFailures++

	switch b.state {
	case StateHalfOpen:
		b.setState(StateOpen)
	case StateClosed:
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.setState(StateOpen)
		}
	}
}

func (b *Breaker) setState(next State) {
	prev := b.state
	if prev == next {
		return
	}

	b.logger.Info("circuit breaker state change",
		"from", prev.String(),
		"to", next.String(),
		"consecutive_failures", b.consecutiveFailures,
	)

	b.state = next
	b.lastStateChange = b.now()
	b.probes = 0

	switch next {
	case StateOpen:
		b.nextProbe = b.now().Add(b.config.OpenInterval)
	case StateHalfOpen:
		b.consecutiveSuccesses = 0
	case StateClosed:
		b.nextProbe = time.Time{}
		b.consecutiveFailures = 0
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Metrics{
		State:               b.state,
		Allowed:             b.allowed,
		Rejected:            b.rejected,
		Failures:            b.failures,
		ConsecutiveFailures: b.consecutiveFailures,
		LastStateChange:     b.lastStateChange,
	}
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger.Info("circuit breaker reset")
	b.consecutiveSuccesses = 0
	b.setState(StateClosed)
	b.consecutiveFailures = 0
}
