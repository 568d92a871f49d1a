package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var errTest = errors.New("test error")

func fail(context.Context) error { return errTest }
func ok(context.Context) error   { return nil }

// fakeClock lets tests move time without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker(cfg)
	cb.now = clk.now
	return cb, clk
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test"})
	if cb.cfg.MaxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", cb.cfg.MaxFailures)
	}
	if cb.cfg.ResetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", cb.cfg.ResetTimeout)
	}
	if cb.cfg.HalfOpenMax != 3 {
		t.Errorf("halfOpenMax = %d, want 3", cb.cfg.HalfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_ClosedToOpen(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 3})
	ctx := context.Background()
	for range 3 {
		_ = cb.Execute(ctx, fail)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	if err := cb.Execute(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 3})
	ctx := context.Background()
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, ok)
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenToClosed(t *testing.T) {
	t.Parallel()

	cb, clk := newTestBreaker(CircuitBreakerConfig{
		Name: "test", MaxFailures: 2, ResetTimeout: time.Second, HalfOpenMax: 2,
	})
	ctx := context.Background()
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)

	clk.advance(2 * time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.State())
	}
	for range 2 {
		if err := cb.Execute(ctx, ok); err != nil {
			t.Fatalf("probe: %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenToOpen(t *testing.T) {
	t.Parallel()

	cb, clk := newTestBreaker(CircuitBreakerConfig{
		Name: "test", MaxFailures: 2, ResetTimeout: time.Second, HalfOpenMax: 2,
	})
	ctx := context.Background()
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	clk.advance(2 * time.Second)

	if err := cb.Execute(ctx, fail); !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want errTest", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
}

func TestCircuitBreaker_CancellationIsNotAFailure(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func(ctx context.Context) error {
		return fmt.Errorf("request aborted: %w", ctx.Err())
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_DeadlineIsAFailure(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 1})
	_ = cb.Execute(context.Background(), func(context.Context) error {
		return context.DeadlineExceeded
	})
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 1})
	_ = cb.Execute(context.Background(), fail)
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(99):     "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
