// Package lazy provides a context-aware, retrying once-initializer.
//
// Unlike sync.OnceValue, a failed initialization is not cached: the next Get
// call tries again. Successful values are published through an atomic pointer
// so steady-state reads never take the lock.
package lazy

import (
	"context"
	"sync/atomic"
)

// Value holds a T produced on first use by an init function.
// The zero Value is not usable; create one with New.
type Value[T any] struct {
	init func(context.Context) (T, error)

	// sem is a one-slot lock that waiters can abandon when ctx is done.
	sem chan struct{}
	val atomic.Pointer[T]
}

// New returns a Value that calls init on the first successful Get.
func New[T any](init func(context.Context) (T, error)) *Value[T] {
	return &Value[T]{init: init, sem: make(chan struct{}, 1)}
}

// Get returns the initialized value, running init if no call has succeeded
// yet. Concurrent callers wait for the in-flight init; at most one init runs at
// a time. ctx is passed to init, and a caller whose ctx is done stops waiting
// and returns ctx.Err().
func (v *Value[T]) Get(ctx context.Context) (T, error) {
	if p := v.val.Load(); p != nil {
		return *p, nil
	}

	select {
	case v.sem <- struct{}{}:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
	defer func() { <-v.sem }()

	if p := v.val.Load(); p != nil {
		return *p, nil
	}
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}

	t, err := v.init(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	v.val.Store(&t)
	return t, nil
}

// Loaded reports whether the value has been initialized.
func (v *Value[T]) Loaded() bool {
	return v.val.Load() != nil
}

// Peek returns the value and true if it is initialized, without triggering
// init.
func (v *Value[T]) Peek() (T, bool) {
	if p := v.val.Load(); p != nil {
		return *p, true
	}
	var zero T
	return zero, false
}
