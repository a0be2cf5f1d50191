package vmm

import (
	"orrery/kernel"
	"orrery/kernel/gate"
	"orrery/kernel/kfmt"
	"unsafe"
)

var (
	// handleInterruptFn is used by tests.
	handleInterruptFn = gate.HandleInterrupt
)

func installFaultHandlers() {
	handleInterruptFn(gate.PageFaultException, 0, pageFaultHandler)
	handleInterruptFn(gate.GPFException, 0, generalProtectionFaultHandler)
}

// pageFaultHandler is invoked when a page table entry is not present or when
// a RW protection check fails. There is no recovery path: every page fault
// is fatal. The fault may have fired while the interrupted context held the
// logger, so the output lock is forcibly released before anything is
// printed.
func pageFaultHandler(regs *gate.Registers) {
	kfmt.ForceUnlockOutput()
	faultAddress := uintptr(readCR2Fn())
	nonRecoverablePageFault(faultAddress, regs, errUnrecoverableFault)
}

// generalProtectionFaultHandler is invoked for various reasons:
// - segment errors (privilege, type or limit violations)
// - executing privileged instructions outside ring-0
// - attempts to access reserved or unimplemented CPU registers
func generalProtectionFaultHandler(regs *gate.Registers) {
	kfmt.Printf("\nGeneral protection fault while accessing address: 0x%x\n", readCR2Fn())
	kfmt.Printf("Registers:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	// TODO: Revisit this when user-mode tasks are implemented
	panic(errUnrecoverableFault)
}

func nonRecoverablePageFault(faultAddress uintptr, regs *gate.Registers, err *kernel.Error) {
	kfmt.Printf("\nPage fault while accessing address: 0x%16x\nReason: ", faultAddress)
	switch {
	case regs.Info == 0:
		kfmt.Printf("read from non-present page")
	case regs.Info == 1:
		kfmt.Printf("page protection violation (read)")
	case regs.Info == 2:
		kfmt.Printf("write to non-present page")
	case regs.Info == 3:
		kfmt.Printf("page protection violation (write)")
	case regs.Info == 4:
		kfmt.Printf("page-fault in user-mode")
	case regs.Info == 8:
		kfmt.Printf("page table has reserved bit set")
	case regs.Info == 16:
		kfmt.Printf("instruction fetch")
	default:
		kfmt.Printf("unknown")
	}

	kfmt.Printf("\n\nRegisters:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	dumpStackFn(regs.RSP)

	// TODO: Revisit this when user-mode tasks are implemented
	panic(err)
}

// dumpStackFn is a function variable so tests exercising the fault handlers
// do not dereference a fake frame's stack pointer.
var dumpStackFn = dumpStack

// dumpStack prints the quadwords adjacent to the faulting stack pointer.
// The kernel stack the fault frame points into is always mapped, so these
// reads cannot themselves fault.
func dumpStack(rsp uint64) {
	kfmt.Printf("\nStack:\n")
	for i := uint64(0); i < 8; i++ {
		addr := rsp + i*8
		kfmt.Printf("[%16x] %16x\n", addr, *(*uint64)(unsafe.Pointer(uintptr(addr))))
	}
}
