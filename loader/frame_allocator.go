package loader

import (
	"orrery/kernel"
	"orrery/kernel/bootinfo"
	"orrery/kernel/mm"
	"orrery/kernel/mm/pagetable"
	"unsafe"
)

var errOutOfFrames = &kernel.Error{Module: "loader", Message: "frame allocator exhausted"}

// FrameAllocator hands out physical frames in order across the MemAvailable
// regions of a converted memory map: numbering every free 4 KiB frame across
// the region list (sorted by base address, as supplied), the next call to
// AllocFrame returns the next-th frame and advances the cursor. There is no
// deallocation — the loader only ever grows its mappings forward, never
// tears them down — and the final cursor value is handed to the kernel in
// BootInfo so its own allocator resumes where the loader stopped.
type FrameAllocator struct {
	regions []bootinfo.MemoryMapEntry

	// next counts the free frames handed out so far. regionIdx and
	// frameInRegion cache the position next corresponds to, so AllocFrame
	// does not rescan the region list on every call.
	next          uint64
	regionIdx     int
	frameInRegion uint64

	// mappingOffset is added to a frame's physical address to obtain a
	// virtual address the allocator's owner can dereference. The loader
	// runs under the firmware's identity mapping and passes 0.
	mappingOffset uint64
}

// NewFrameAllocator builds an allocator over the MemAvailable entries of
// regions, discarding everything else (Reserved/InUse/ACPI/NVS ranges are
// never handed out as scratch frames).
func NewFrameAllocator(regions []bootinfo.MemoryMapEntry, mappingOffset uint64) *FrameAllocator {
	free := make([]bootinfo.MemoryMapEntry, 0, len(regions))
	for _, r := range regions {
		if r.Type == bootinfo.MemAvailable {
			free = append(free, r)
		}
	}
	return &FrameAllocator{regions: free, mappingOffset: mappingOffset}
}

// AllocFrame returns the next free 4 KiB physical frame. Two successive
// calls always return distinct frames.
func (a *FrameAllocator) AllocFrame() (mm.PhysAddr, *kernel.Error) {
	for a.regionIdx < len(a.regions) {
		region := a.regions[a.regionIdx]

		if a.frameInRegion >= region.PageCount {
			a.regionIdx++
			a.frameInRegion = 0
			continue
		}

		phys := region.PhysAddress + a.frameInRegion*uint64(mm.PageSize)
		a.frameInRegion++
		a.next++
		return mm.PhysAddr(phys), nil
	}

	return 0, errOutOfFrames
}

// AllocPageTable allocates one frame and resolves it into a zeroed page
// table through the allocator's mapping offset.
func (a *FrameAllocator) AllocPageTable() (*pagetable.Table, mm.PhysAddr, *kernel.Error) {
	frame, err := a.AllocFrame()
	if err != nil {
		return nil, 0, err
	}

	table := (*pagetable.Table)(unsafe.Pointer(frame.Uintptr() + uintptr(a.mappingOffset)))
	table.Clear()
	return table, frame, nil
}

// NextFreeFrame returns the allocator's cursor: the number of free frames
// handed out so far. The loader stamps this into BootInfo as the last thing
// it does before the context switch.
func (a *FrameAllocator) NextFreeFrame() uint64 {
	return a.next
}
