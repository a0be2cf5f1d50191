package gate

import (
	"orrery/kernel"
	"orrery/kernel/kfmt"
)

// doubleFaultISTOffset selects TSS.IST[0] (the dedicated double-fault stack
// set up by InitGDT) for the double-fault gate.
const doubleFaultISTOffset = 1

var (
	// handleInterruptFn is overridden by tests.
	handleInterruptFn = HandleInterrupt
)

// installCoreHandlers wires the handlers this package owns directly: a
// diagnostic breakpoint trap and the double fault, which always runs on its
// own IST stack so it survives a kernel stack overflow. Page-fault and
// general-protection-fault handlers live in kernel/mm/vmm, which installs
// them itself via HandleInterrupt.
func installCoreHandlers() {
	handleInterruptFn(Breakpoint, 0, breakpointHandler)
	handleInterruptFn(DoubleFault, doubleFaultISTOffset, doubleFaultHandler)
}

func breakpointHandler(regs *Registers) {
	kfmt.Printf("\nbreakpoint at 0x%x\n", regs.RIP)
	regs.DumpTo(kfmt.GetOutputSink())
}

func doubleFaultHandler(regs *Registers) {
	kfmt.Printf("\ndouble fault\n")
	regs.DumpTo(kfmt.GetOutputSink())
	kfmt.Panic(errDoubleFault)
}

var errDoubleFault = &kernel.Error{Module: "gate", Message: "double fault"}
