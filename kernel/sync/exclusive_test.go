package sync

import (
	"bytes"
	"testing"

	"rvos/kernel/kfmt"
)

func TestExclusive(t *testing.T) {
	gate := NewExclusive(41)

	v := gate.Acquire()
	if gate.TryToAcquire() {
		t.Fatal("expected TryToAcquire to return false when gate is held")
	}

	*v++
	gate.Release()

	if got := *gate.Acquire(); got != 42 {
		t.Fatalf("expected guarded value to be 42; got %d", got)
	}
	gate.Release()

	// Releasing an open gate is a no-op
	gate.Release()
	gate.Release()
	if !gate.TryToAcquire() {
		t.Fatal("expected gate to remain open")
	}
	gate.Release()
}

func TestExclusiveReacquireHalts(t *testing.T) {
	kfmt.SetOutputSink(&bytes.Buffer{})
	defer kfmt.SetOutputSink(nil)

	gate := NewExclusive(struct{}{})
	gate.Acquire()

	defer func() {
		if got := recover(); got != errAlreadyHeld {
			t.Fatalf("expected re-acquire to halt with %v; got %v", errAlreadyHeld, got)
		}
	}()

	gate.Acquire()
	t.Fatal("expected re-acquire not to return")
}

