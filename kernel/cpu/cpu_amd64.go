package cpu

var (
	cpuidFn = ID
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution.
func Halt()

// SaveAndDisableInterrupts returns the current RFLAGS value and disables
// maskable interrupts (pushfq; pop; cli).
func SaveAndDisableInterrupts() uint64

// RestoreFlags loads flags into RFLAGS, restoring whatever interrupt state
// SaveAndDisableInterrupts captured.
func RestoreFlags(flags uint64)

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint64

// PortWriteByte writes value to the given I/O port.
func PortWriteByte(port uint16, value uint8)

// PortReadByte reads a byte from the given I/O port.
func PortReadByte(port uint16) uint8

// Rdmsr reads the model-specific register identified by reg.
func Rdmsr(reg uint32) uint64

// Wrmsr writes value to the model-specific register identified by reg.
func Wrmsr(reg uint32, value uint64)

// ID returns information about the CPU and its features. It
// is implemented as a CPUID instruction with EAX=leaf and
// returns the values in EAX, EBX, ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}
