package pagetable

import (
	"orrery/kernel/cpu"
	"orrery/kernel/mm"
	"unsafe"
)

// flushTLBEntryFn is used by tests to override the privileged invlpg
// instruction; the compiler inlines it away when building the kernel.
var flushTLBEntryFn = cpu.FlushTLBEntry

// invalidatePage issues invlpg for v's page after Map/Remap changes its
// translation.
func invalidatePage(v mm.VirtAddr) {
	flushTLBEntryFn(v.Uintptr())
}

// unsafeOffsetPointer reinterprets phys+offset as a *Table. It is the only
// place in this package that turns an integer into a pointer.
func unsafeOffsetPointer(phys mm.PhysAddr, offset uint64) unsafe.Pointer {
	return unsafe.Pointer(uintptr(phys.Uint64() + offset))
}
