// Package kfmt provides the kernel's fatal-error path and console helpers.
package kfmt

import (
	"fmt"
	"io"
	"os"

	"rvos/kernel"
)

var (
	// outputSink is where Panic writes its banner.
	outputSink io.Writer = os.Stderr

	// haltFn is mocked by tests.
	haltFn = halt

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// SetOutputSink sets the target for the panic banner. Passing nil restores
// the default (stderr).
func SetOutputSink(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	outputSink = w
}

// Panic outputs the supplied error (if not nil) to the output sink and halts
// the machine. Panic is reserved for kernel invariant violations; calls to
// Panic never return unless the halt hook has been replaced.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t}
	case error:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t.Error()}
	}

	fmt.Fprintf(outputSink, "\n-----------------------------------\n")
	if err != nil {
		fmt.Fprintf(outputSink, "[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	fmt.Fprintf(outputSink, "*** kernel panic: system halted ***")
	fmt.Fprintf(outputSink, "\n-----------------------------------\n")

	haltFn(err)
}

// halt stops the machine by unwinding the kernel goroutine. The monitor
// recovers the *kernel.Error to report why the machine stopped.
func halt(err *kernel.Error) {
	if err == nil {
		err = errRuntimePanic
	}
	panic(err)
}
