package vmm

import (
	"orrery/kernel"
	"orrery/kernel/cpu"
	"orrery/kernel/mm"
	"orrery/kernel/mm/pagetable"
)

var (
	// activePDTFn is used by tests to override calls to activePDT which
	// will cause a fault if called in user-mode.
	activePDTFn = cpu.ActivePDT

	// directMapOffset is added to a physical address to reach the
	// kernel's direct-mapped virtual view of it. Init sets it to the same
	// offset the loader used when it built the direct map, so the kernel
	// and the loader agree on how to resolve a table from its physical
	// address.
	directMapOffset uint64

	// readCR2Fn is used by tests to override calls to ReadCR2 which will
	// cause a fault if called in user-mode.
	readCR2Fn = cpu.ReadCR2

	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page/gpf fault"}
)

// Init initializes the vmm system and installs paging-related exception
// handlers. kernelPageOffset is the direct-map offset the loader installed
// before jumping into the kernel; the kernel never builds a page table of
// its own, it finds its currently active one by reading CR3 and adding
// this offset.
func Init(kernelPageOffset uintptr) *kernel.Error {
	directMapOffset = uint64(kernelPageOffset)
	installFaultHandlers()
	return nil
}

// activeL4 resolves the kernel's own top-level page table by reading CR3
// and reinterpreting the physical address it holds through the direct map,
// the same way the loader resolves every table it builds while constructing
// the initial hierarchy.
func activeL4() *pagetable.Table {
	return pagetable.TableAt(mm.PhysAddr(activePDTFn()), directMapOffset)
}
