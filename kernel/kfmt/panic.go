package kfmt

import (
	"orrery/kernel"
	"orrery/kernel/cpu"
)

var (
	// cpuHaltFn is swapped out by tests; the compiler inlines the direct
	// call in kernel builds.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic prints the supplied error to the active output sink and halts the
// CPU; it never returns. Besides explicit kernel calls, it is the landing
// site for the Go runtime's own panics (resolved via runtime.gopanic).
//
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	// The panic may have been raised while another context held the output
	// lock; that context will never release it, so take it back by force
	// before logging.
	ForceUnlockOutput()

	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		panicString(t)
		return
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	cpuHaltFn()
}

// panicString wraps a bare message into the runtime-panic error. It is the
// landing site for runtime.throw.
//
//go:redirect-from runtime.throw
func panicString(msg string) {
	errRuntimePanic.Message = msg
	Panic(errRuntimePanic)
}
