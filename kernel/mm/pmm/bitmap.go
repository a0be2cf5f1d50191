package pmm

import (
	"math/bits"
	"orrery/kernel"
	"orrery/kernel/bootinfo"
	"orrery/kernel/kfmt"
	"orrery/kernel/mm"
	"orrery/kernel/mm/vmm"
	"unsafe"
)

var (
	// reserveRegionFn and mapFn are used by tests to redirect the bitmap's
	// backing storage into host memory.
	reserveRegionFn = vmm.EarlyReserveRegion
	mapFn           = vmm.Map
)

// bitmapPool covers one MemAvailable region with an allocation bitmap. Bit
// i of words[w] describes frame first+w*64+i; a set bit means the frame is
// allocated. Bits past the region's last frame are permanently set so the
// word scan can never hand them out.
type bitmapPool struct {
	first  mm.Frame
	frames uint64
	words  []uint64
	free   uint64
}

// markUsed sets the allocation bit for the idx-th frame of the pool.
func (p *bitmapPool) markUsed(idx uint64) {
	p.words[idx/64] |= 1 << (idx % 64)
	p.free--
}

// frameBitmap is the allocator that owns physical memory for the kernel's
// lifetime: one allocation bit per frame of every MemAvailable region.
// There is no deallocation path; the bitmap exists so that frame ownership
// is explicit and exhaustion is detected, not to support reuse.
type frameBitmap struct {
	pools []bitmapPool

	totalFrames uint64
	usedFrames  uint64
}

// init carves the pool table and the bitmap words out of a single
// early-reserved region (the Go allocator is not running yet), then marks
// every frame the loader and the boot allocator consumed. Those frames are
// exactly the first boot.next indexes of the free-frame numbering, so the
// reservation is a contiguous prefix rather than a replay of individual
// allocations.
func (fb *frameBitmap) init(boot *BootFrameAllocator, bi *bootinfo.BootInfo) *kernel.Error {
	var (
		poolCount  int
		totalWords uint64
	)
	bi.VisitMemRegions(func(r *bootinfo.MemoryMapEntry) bool {
		if r.Type == bootinfo.MemAvailable && r.PageCount > 0 {
			poolCount++
			totalWords += (r.PageCount + 63) / 64
		}
		return true
	})

	// Reserve and map the backing storage. Every frame consumed here goes
	// through the boot allocator, so it lands inside the prefix reserved
	// below.
	poolTableBytes := uintptr(poolCount) * unsafe.Sizeof(bitmapPool{})
	storageBytes := (poolTableBytes + uintptr(totalWords)*8 + mm.PageSize - 1) &^ (mm.PageSize - 1)

	base, err := reserveRegionFn(storageBytes)
	if err != nil {
		return err
	}
	for off := uintptr(0); off < storageBytes; off += mm.PageSize {
		frame, err := boot.AllocFrame()
		if err != nil {
			return err
		}
		if err := mapFn(mm.PageFromAddress(base+off), frame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute); err != nil {
			return err
		}
		kernel.Memset(base+off, 0, mm.PageSize)
	}

	fb.pools = unsafe.Slice((*bitmapPool)(unsafe.Pointer(base)), poolCount)

	wordAddr := base + poolTableBytes
	poolIdx := 0
	bi.VisitMemRegions(func(r *bootinfo.MemoryMapEntry) bool {
		if r.Type != bootinfo.MemAvailable || r.PageCount == 0 {
			return true
		}

		wordCount := (r.PageCount + 63) / 64
		pool := &fb.pools[poolIdx]
		pool.first = mm.FrameFromAddress(uintptr(r.PhysAddress))
		pool.frames = r.PageCount
		pool.free = r.PageCount
		pool.words = unsafe.Slice((*uint64)(unsafe.Pointer(wordAddr)), wordCount)

		// Burn the tail bits of the last word that correspond to no frame.
		for idx := r.PageCount; idx < wordCount*64; idx++ {
			pool.words[idx/64] |= 1 << (idx % 64)
		}

		fb.totalFrames += r.PageCount
		wordAddr += uintptr(wordCount) * 8
		poolIdx++
		return true
	})

	fb.reservePrefix(boot.next)
	fb.printStats()
	return nil
}

// reservePrefix marks the first n frames of the free-frame numbering as
// allocated, pool by pool in map order.
func (fb *frameBitmap) reservePrefix(n uint64) {
	for poolIdx := range fb.pools {
		pool := &fb.pools[poolIdx]

		take := n
		if take > pool.frames {
			take = pool.frames
		}
		for idx := uint64(0); idx < take; idx++ {
			pool.markUsed(idx)
		}

		fb.usedFrames += take
		n -= take
		if n == 0 {
			return
		}
	}
}

// AllocFrame reserves and returns the lowest-numbered free frame.
func (fb *frameBitmap) AllocFrame() (mm.Frame, *kernel.Error) {
	for poolIdx := range fb.pools {
		pool := &fb.pools[poolIdx]
		if pool.free == 0 {
			continue
		}

		for w, word := range pool.words {
			if word == ^uint64(0) {
				continue
			}

			bit := uint64(bits.TrailingZeros64(^word))
			idx := uint64(w)*64 + bit
			pool.markUsed(idx)
			fb.usedFrames++
			return pool.first + mm.Frame(idx), nil
		}
	}

	return mm.InvalidFrame, errNoFreeFrames
}

func (fb *frameBitmap) printStats() {
	kfmt.Printf("[pmm] frame bitmap covers %d pages, %d in use\n", fb.totalFrames, fb.usedFrames)
}
