// Package pmm owns physical frame allocation after the loader handoff. Two
// allocators run in sequence: BootFrameAllocator picks up the free-frame
// numbering exactly where the loader's cursor left it and serves the
// earliest kernel allocations, then seeds frameBitmap, which tracks every
// frame for the rest of the kernel's lifetime. Consumers never talk to
// either one directly; they allocate through mm.AllocFrame, and Init swaps
// the registered allocator underneath them as bring-up progresses.
package pmm

import (
	"orrery/kernel"
	"orrery/kernel/bootinfo"
	"orrery/kernel/mm"
)

var (
	bootAlloc BootFrameAllocator
	bitmap    frameBitmap
)

// Init brings up frame allocation. kernelStart and kernelEnd bound the
// physical range of the kernel image buffer; they are reported in the
// memory map printout (the range itself is already carved out of the free
// pool as MemInUse by the loader, so neither allocator needs to dodge it).
func Init(kernelStart, kernelEnd uintptr) *kernel.Error {
	bi := bootinfo.Active()

	bootAlloc.init(bi)
	printMemoryMap(kernelStart, kernelEnd)
	mm.SetFrameAllocator(bootAlloc.AllocFrame)

	if err := bitmap.init(&bootAlloc, bi); err != nil {
		return err
	}
	mm.SetFrameAllocator(bitmap.AllocFrame)

	return nil
}
