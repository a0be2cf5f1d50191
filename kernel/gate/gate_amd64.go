package gate

import (
	"orrery/kernel/kfmt"
	"io"
)

// Registers is the CPU state snapshot the interrupt entry stubs push before
// dispatching to a Go handler. Field order matches the push sequence in the
// gate entry assembly; do not reorder.
type Registers struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// Info carries the CPU-pushed error code for exceptions that have
	// one, and the vector number for hardware interrupts.
	Info uint64

	// The frame IRETQ consumes to resume the interrupted context.
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// DumpTo writes the register snapshot to w, two registers per line.
func (r *Registers) DumpTo(w io.Writer) {
	regs := [...]struct {
		name string
		val  uint64
	}{
		{"RAX", r.RAX}, {"RBX", r.RBX},
		{"RCX", r.RCX}, {"RDX", r.RDX},
		{"RSI", r.RSI}, {"RDI", r.RDI},
		{"RBP", r.RBP}, {"RSP", r.RSP},
		{"R8 ", r.R8}, {"R9 ", r.R9},
		{"R10", r.R10}, {"R11", r.R11},
		{"R12", r.R12}, {"R13", r.R13},
		{"R14", r.R14}, {"R15", r.R15},
		{"RIP", r.RIP}, {"RFL", r.RFlags},
		{"CS ", r.CS}, {"SS ", r.SS},
	}

	for i := 0; i < len(regs); i += 2 {
		kfmt.Fprintf(w, "%s = %16x %s = %16x\n", regs[i].name, regs[i].val, regs[i+1].name, regs[i+1].val)
	}
}

// InterruptNumber identifies one of the IDT's 256 gate slots.
type InterruptNumber uint8

// The architecture-defined exception vectors. Vectors from 32 up are free
// for software assignment; the APIC driver places its timer, keyboard and
// spurious vectors there.
const (
	// DivideByZero fires on DIV/IDIV with a zero divisor.
	DivideByZero = InterruptNumber(0)

	// NMI is the non-maskable interrupt: hardware-fatal conditions and
	// watchdogs.
	NMI = InterruptNumber(2)

	// Breakpoint fires on INT3.
	Breakpoint = InterruptNumber(3)

	// Overflow fires on INTO with RFLAGS.OF set.
	Overflow = InterruptNumber(4)

	// BoundRangeExceeded fires on a failed BOUND check.
	BoundRangeExceeded = InterruptNumber(5)

	// InvalidOpcode fires on an undefined instruction encoding.
	InvalidOpcode = InterruptNumber(6)

	// DeviceNotAvailable fires on FPU/SSE use while CR0 disables it.
	DeviceNotAvailable = InterruptNumber(7)

	// DoubleFault fires when an exception occurs while delivering an
	// earlier one. This kernel gives it a dedicated IST stack so it is
	// reached even when the fault was a kernel stack overflow.
	DoubleFault = InterruptNumber(8)

	// InvalidTSS fires on a task-segment consistency failure.
	InvalidTSS = InterruptNumber(10)

	// SegmentNotPresent fires when loading a segment whose descriptor is
	// marked not-present.
	SegmentNotPresent = InterruptNumber(11)

	// StackSegmentFault fires on stack-segment limit or canonicality
	// violations.
	StackSegmentFault = InterruptNumber(12)

	// GPFException is the general protection fault.
	GPFException = InterruptNumber(13)

	// PageFaultException fires on a failed page translation or access
	// check; CR2 holds the faulting address.
	PageFaultException = InterruptNumber(14)

	// FloatingPointException fires on an unmasked x87 exception.
	FloatingPointException = InterruptNumber(16)

	// AlignmentCheck fires on unaligned access with alignment checking
	// enabled.
	AlignmentCheck = InterruptNumber(17)

	// MachineCheck reports internal CPU/bus/cache errors.
	MachineCheck = InterruptNumber(18)

	// SIMDFloatingPointException fires on an unmasked SSE exception when
	// CR4.OSXMMEXCPT is set.
	SIMDFloatingPointException = InterruptNumber(19)
)

// Init loads the GDT/TSS, installs the IDT and registers the handlers this
// package owns.
func Init() {
	InitGDT()
	installIDT()
	installCoreHandlers()
}

// HandleInterrupt arranges for handler to run whenever intNumber fires.
// istOffset selects a TSS interrupt stack (1-based); 0 keeps the handler on
// the interrupted context's stack.
func HandleInterrupt(intNumber InterruptNumber, istOffset uint8, handler func(*Registers))

// installIDT populates the IDT descriptor and loads it with lidt. Every
// gate starts out not-present; HandleInterrupt enables slots one at a time.
func installIDT()

// dispatchInterrupt is entered from the per-vector gate stubs; it routes
// the saved Registers frame to whichever handler HandleInterrupt recorded.
func dispatchInterrupt()

// interruptGateEntries anchors the generated per-vector entry stubs that
// push the Registers frame and jump to dispatchInterrupt.
func interruptGateEntries()
