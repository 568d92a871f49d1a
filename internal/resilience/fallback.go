package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has
// an open circuit breaker.
var ErrAllFailed = errors.New("all providers exhausted")

// Observer is notified after every attempt a [FallbackGroup] makes. err is nil
// on success. Skipped entries (open breaker) are not reported.
type Observer func(provider string, took time.Duration, err error)

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for the breaker created per entry.
	CircuitBreaker CircuitBreakerConfig

	// Affinity, when non-nil, makes the group sticky: the entry that last
	// succeeded is tried first. It is cleared when that entry fails or is no
	// longer part of the group.
	Affinity *Affinity

	// Observer, when non-nil, is called after every attempt.
	Observer Observer
}

// fallbackEntry pairs a provider value with its dedicated circuit breaker.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup wraps a primary and zero or more fallback instances of the same
// provider type. Entries are tried in registration order, with the affinity
// entry (if any) moved to the front.
//
// Entries must be registered before the group is shared between goroutines.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a fallback provider.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the entry names in registration order.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// Affinity returns the group's affinity cell, or nil for a non-sticky group.
func (fg *FallbackGroup[T]) Affinity() *Affinity { return fg.cfg.Affinity }

// Breaker returns the circuit breaker guarding the named entry.
func (fg *FallbackGroup[T]) Breaker(name string) (*CircuitBreaker, bool) {
	for i := range fg.entries {
		if fg.entries[i].name == name {
			return fg.entries[i].breaker, true
		}
	}
	return nil, false
}

// order returns the entries in attempt order.
func (fg *FallbackGroup[T]) order() []*fallbackEntry[T] {
	out := make([]*fallbackEntry[T], 0, len(fg.entries))
	aff := fg.cfg.Affinity
	if aff == nil {
		for i := range fg.entries {
			out = append(out, &fg.entries[i])
		}
		return out
	}

	sticky, ok := aff.Get()
	first := -1
	if ok {
		for i := range fg.entries {
			if fg.entries[i].name == sticky {
				first = i
				break
			}
		}
		if first < 0 {
			aff.clearIf(sticky)
		}
	}
	if first >= 0 {
		out = append(out, &fg.entries[first])
	}
	for i := range fg.entries {
		if i != first {
			out = append(out, &fg.entries[i])
		}
	}
	return out
}

// Execute tries fn against each entry until one succeeds. Entries with an open
// circuit breaker are skipped. When ctx is cancelled the chain stops with the
// context error. Returns [ErrAllFailed] wrapped with the last error if every
// entry fails.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for functions returning a value.
// It is a package-level function because Go does not support method-level type
// parameters.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	aff := fg.cfg.Affinity
	for _, entry := range fg.order() {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		var result R
		start := time.Now()
		err := entry.breaker.Execute(ctx, func(ctx context.Context) error {
			var innerErr error
			result, innerErr = fn(ctx, entry.value)
			return innerErr
		})
		if !errors.Is(err, ErrCircuitOpen) && fg.cfg.Observer != nil {
			fg.cfg.Observer(entry.name, time.Since(start), err)
		}
		if err == nil {
			if aff != nil {
				aff.Set(entry.name)
			}
			return result, nil
		}

		lastErr = err
		if aff != nil {
			aff.clearIf(entry.name)
		}
		if ctx.Err() != nil {
			return zero, err
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", entry.name)
		} else {
			slog.Warn("provider failed, trying next",
				"provider", entry.name, "error", err)
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no providers configured")
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
