// Package id provides monotonic typed-identifier allocation for the chip
// registry (ChipId, DeviceId and FacadeId, each from its own Factory
// instance).
package id

import "sync"

// Int is the set of integer kinds a Factory can allocate.
type Int interface {
	~int32 | ~int64 | ~uint32 | ~uint64
}

// Factory hands out a monotonically increasing sequence of identifiers.
// A value is never reused, even if the holder that received it is later
// destroyed. Safe for concurrent use.
type Factory[T Int] struct {
	mu      sync.Mutex
	next    T
	step    T
}

// New creates a Factory that starts at start and advances by step on every
// call to Next. step must be positive.
func New[T Int](start, step T) *Factory[T] {
	if step <= 0 {
		step = 1
	}
	return &Factory[T]{next: start, step: step}
}

// Next returns the current value and advances the counter.
func (f *Factory[T]) Next() T {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.next
	f.next += f.step
	return v
}

// Peek returns the value Next would return, without consuming it.
// Intended for diagnostics only.
func (f *Factory[T]) Peek() T {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next
}
