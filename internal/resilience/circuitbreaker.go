// Package resilience provides the failover primitives shared by the
// text-generation and voice-synthesis routers.
//
// [CircuitBreaker] is a three-state breaker (closed → open → half-open) that
// stops a router from hammering a provider that keeps failing. [FallbackGroup]
// tries an ordered list of providers, each behind its own breaker, and can keep
// the last successful provider in an [Affinity] cell so the next request tries
// it first.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is
// open and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string `yaml:"-"`

	// MaxFailures is the number of consecutive failures before the breaker
	// opens. Default: 5.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the breaker stays open before it lets probes
	// through. Default: 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// HalfOpenMax is the number of probe calls allowed in the half-open state.
	// Default: 3.
	HalfOpenMax int `yaml:"half_open_max"`
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int       // consecutive failures while closed
	openedAt time.Time // when the breaker last tripped
	probes   int       // half-open calls admitted
	passed   int       // half-open calls that succeeded
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields are
// replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Execute runs fn if the breaker allows it. In the open state it returns
// [ErrCircuitOpen] without calling fn.
//
// A call that fails because ctx was cancelled is neither a success nor a
// failure. A deadline expiring on ctx does count as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.settle(probe, err, errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled))
	return err
}

// admit reserves a slot for one call. probe is true when the call is a
// half-open trial.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if !cb.cooledDown() {
			return false, ErrCircuitOpen
		}
		cb.moveTo(StateHalfOpen)
	}
	if cb.state != StateHalfOpen {
		return false, nil
	}
	if cb.probes >= cb.cfg.HalfOpenMax {
		return false, ErrCircuitOpen
	}
	cb.probes++
	return true, nil
}

// settle books the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probe bool, err error, cancelled bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case err == nil && probe:
		cb.passed++
		if cb.passed >= cb.cfg.HalfOpenMax {
			cb.moveTo(StateClosed)
		}
	case err == nil:
		cb.failures = 0
	case cancelled:
		if probe {
			cb.probes--
		}
	case probe:
		cb.moveTo(StateOpen)
	default:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
			cb.moveTo(StateOpen)
		}
	}
}

// cooledDown must be called with cb.mu held.
func (cb *CircuitBreaker) cooledDown() bool {
	return cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout
}

// moveTo switches state and clears the counters the new state starts from.
// Must be called with cb.mu held.
func (cb *CircuitBreaker) moveTo(to State) {
	from := cb.state
	cb.state = to
	cb.probes, cb.passed = 0, 0
	switch to {
	case StateOpen:
		cb.openedAt = cb.now()
		slog.Warn("circuit breaker opened", "name", cb.cfg.Name, "from", from.String(), "consecutive_failures", cb.failures)
	case StateHalfOpen:
		slog.Info("circuit breaker probing", "name", cb.cfg.Name)
	case StateClosed:
		cb.failures = 0
		if from != StateClosed {
			slog.Info("circuit breaker closed", "name", cb.cfg.Name, "from", from.String())
		}
	}
}

// State returns the current [State]. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.cooledDown() {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed].
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.moveTo(StateClosed)
}
