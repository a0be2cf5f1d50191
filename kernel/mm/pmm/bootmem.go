package pmm

import (
	"orrery/kernel"
	"orrery/kernel/bootinfo"
	"orrery/kernel/kfmt"
	"orrery/kernel/mm"
)

var errNoFreeFrames = &kernel.Error{Module: "pmm", Message: "no free physical frames left"}

// BootFrameAllocator serves frame allocations between the loader handoff
// and the frame bitmap coming online. It continues the numbering scheme the
// loader's allocator used: free frames are counted 0,1,2,... across the
// MemAvailable regions of the handoff map, in map order, and
// BootInfo.NextFreeFrame says how many of them the loader already consumed
// (direct-map page tables, the BootInfo page, zeroed .bss frames).
// Allocation is therefore nothing more than handing out the next index.
// There is no range to skip over: everything that must survive the handoff
// (the kernel image buffer, the loader's stack and heap) is typed MemInUse
// in the map and never enters the numbering at all.
//
// Frames are never returned. Once the bitmap allocator takes over it
// reserves this allocator's whole prefix in one step, which is possible
// precisely because the frames handed out here are index 0..served+loader
// share with no holes.
type BootFrameAllocator struct {
	// next is the absolute index of the next free frame to hand out.
	next uint64

	// served counts frames handed out by this allocator alone, excluding
	// the loader's share.
	served uint64
}

// init seeds the cursor with the loader's, so the first frame served is the
// first one the loader never touched.
func (a *BootFrameAllocator) init(bi *bootinfo.BootInfo) {
	a.next = bi.NextFreeFrame
	a.served = 0
}

// AllocFrame hands out the next-numbered free frame. Two successive calls
// always return distinct frames.
func (a *BootFrameAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	var (
		idx   = a.next
		frame mm.Frame
		found bool
	)

	bootinfo.Active().VisitMemRegions(func(r *bootinfo.MemoryMapEntry) bool {
		if r.Type != bootinfo.MemAvailable {
			return true
		}
		if idx >= r.PageCount {
			idx -= r.PageCount
			return true
		}

		frame = mm.FrameFromAddress(uintptr(r.PhysAddress)) + mm.Frame(idx)
		found = true
		return false
	})

	if !found {
		return mm.InvalidFrame, errNoFreeFrames
	}

	a.next++
	a.served++
	return frame, nil
}

// printMemoryMap reports the handoff memory map and the allocator's
// starting position in it.
func printMemoryMap(kernelStart, kernelEnd uintptr) {
	bi := bootinfo.Active()

	kfmt.Printf("[pmm] physical memory map:\n")
	var free, inUse uint64
	bi.VisitMemRegions(func(r *bootinfo.MemoryMapEntry) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x] %8d pages, %s\n", r.PhysAddress, r.PhysAddress+r.Length(), r.PageCount, r.Type.String())
		switch r.Type {
		case bootinfo.MemAvailable:
			free += r.PageCount
		case bootinfo.MemInUse:
			inUse += r.PageCount
		}
		return true
	})

	kfmt.Printf("[pmm] %d pages free (%d already consumed by loader), %d pages carved out as in use\n",
		free-bi.NextFreeFrame, bi.NextFreeFrame, inUse)
	kfmt.Printf("[pmm] kernel image at 0x%x - 0x%x\n", kernelStart, kernelEnd)
}
