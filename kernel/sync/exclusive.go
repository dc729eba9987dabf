// Package sync provides the exclusive-access gate that guards kernel state
// shared between traps.
package sync

import (
	"sync/atomic"

	"rvos/kernel"
	"rvos/kernel/kfmt"
)

var errAlreadyHeld = &kernel.Error{Module: "sync", Message: "exclusive gate acquired while already held"}

// Exclusive guards a value of type T. The kernel runs on a single hart so the
// only way to find the gate closed is re-entrance from the holder itself;
// instead of spinning forever, Acquire treats that as an invariant violation
// and halts the machine.
type Exclusive[T any] struct {
	state uint32
	value T
}

// NewExclusive returns a gate guarding value.
func NewExclusive[T any](value T) *Exclusive[T] {
	return &Exclusive[T]{value: value}
}

// Acquire grants sole access to the guarded value. The returned pointer must
// not be retained after the matching call to Release.
func (g *Exclusive[T]) Acquire() *T {
	if !g.TryToAcquire() {
		kfmt.Panic(errAlreadyHeld)
	}
	return &g.value
}

// TryToAcquire attempts to close the gate and returns true if it was open.
func (g *Exclusive[T]) TryToAcquire() bool {
	return atomic.SwapUint32(&g.state, 1) == 0
}

// Release opens the gate. Calling Release while the gate is open has no
// effect.
func (g *Exclusive[T]) Release() {
	atomic.StoreUint32(&g.state, 0)
}
