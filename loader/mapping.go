package loader

import (
	"orrery/kernel"
	"orrery/kernel/bootinfo"
	"orrery/kernel/mm"
	"orrery/kernel/mm/pagetable"
	"orrery/loader/loadelf"
	"unsafe"
)

// pagetableMapFn, pagetableRemapFn and pagetableTranslateFn indirect
// through the shared pagetable engine so tests can supply a fake that never
// issues invlpg, which would fault outside ring 0.
var (
	pagetableMapFn       = pagetable.Map
	pagetableRemapFn     = pagetable.Remap
	pagetableTranslateFn = pagetable.Translate
)

// mapIfAbsent maps v to p unless v is already mapped, in which case it is
// left untouched. The direct map and the framebuffer mapping can overlap
// (a framebuffer BAR sometimes falls inside a region the firmware already
// reported as conventional or MMIO memory), so every caller that might
// double-map a range goes through this instead of pagetable.Map directly.
func mapIfAbsent(l4 *pagetable.Table, v mm.VirtAddr, p mm.PhysAddr, flags pagetable.Flag, alloc pagetable.Allocator) *kernel.Error {
	if _, ok := pagetableTranslateFn(l4, v, 0); ok {
		return nil
	}
	return pagetableMapFn(l4, v, p, flags, 0, alloc)
}

// installDirectMap maps every physical frame from 0 up to the address
// implied by the last memory map region at phys+bootinfo.DirectMapOffset,
// giving the kernel a way to address any physical frame without a
// dedicated mapping. The loader itself runs under the firmware's own
// identity mapping throughout, so every intermediate table it allocates is
// resolved with a zero offset regardless of which virtual range is being
// populated.
func installDirectMap(l4 *pagetable.Table, regions []bootinfo.MemoryMapEntry, alloc pagetable.Allocator) *kernel.Error {
	var lastAddr uint64
	for _, r := range regions {
		if end := r.PhysAddress + r.Length(); end > lastAddr {
			lastAddr = end
		}
	}

	for phys := uint64(0); phys < lastAddr; phys += uint64(mm.PageSize) {
		v := mm.VirtAddrNew(uint64(bootinfo.DirectMapOffset) + phys)
		if err := mapIfAbsent(l4, v, mm.PhysAddr(phys), pagetable.FlagWritable|pagetable.FlagNoExecute, alloc); err != nil {
			return err
		}
	}
	return nil
}

// mapFramebuffer maps the GOP linear framebuffer at
// phys+bootinfo.DirectMapOffset. GOP framebuffer BARs are not always
// covered by the firmware memory map, so this runs independently of
// installDirectMap and tolerates the range already being mapped.
func mapFramebuffer(l4 *pagetable.Table, fb *bootinfo.FramebufferInfo, alloc pagetable.Allocator) *kernel.Error {
	size := uint64(fb.Pitch) * uint64(fb.Height)
	base := fb.PhysAddr &^ (uint64(mm.PageSize) - 1)
	end := (fb.PhysAddr + size + uint64(mm.PageSize) - 1) &^ (uint64(mm.PageSize) - 1)

	for phys := base; phys < end; phys += uint64(mm.PageSize) {
		v := mm.VirtAddrNew(uint64(bootinfo.DirectMapOffset) + phys)
		if err := mapIfAbsent(l4, v, mm.PhysAddr(phys), pagetable.FlagWritable|pagetable.FlagNoCache|pagetable.FlagNoExecute, alloc); err != nil {
			return err
		}
	}
	return nil
}

// mapKernelImage maps every PT_LOAD segment of image at its linked virtual
// address. File-backed pages are mapped in place, straight onto the frames
// of the kernel file buffer at imagePhys — no copy is made. A segment whose
// MemSize extends past FileSize then gets its zero-initialized tail: when
// the last file byte does not end on a page boundary, the page covering it
// is remapped onto a fresh frame holding a copy of the partial file data
// followed by zeroes (the buffer frame cannot be zeroed in place, as later
// segments may live in the same file page), and any remaining pages up to
// MemSize are mapped to fresh zero-filled frames.
func mapKernelImage(l4 *pagetable.Table, image *loadelf.Image, imagePhys mm.PhysAddr, alloc pagetable.Allocator) ([]bootinfo.KernelSegment, *kernel.Error) {
	var segments []bootinfo.KernelSegment
	pageSize := uint64(mm.PageSize)

	for _, prog := range image.Programs {
		virt := prog.VirtAddr
		phys := uint64(imagePhys) + prog.Offset
		fileSize := prog.FileSize
		memSize := prog.MemSize

		if fileSize > 0 {
			pageCount := (fileSize - 1 + (virt - (virt &^ (pageSize - 1))))/pageSize + 1
			for i := uint64(0); i < pageCount; i++ {
				v := mm.VirtAddrNew((virt &^ (pageSize - 1)) + i*pageSize)
				p := mm.PhysAddr((phys &^ (pageSize - 1)) + i*pageSize)
				if err := pagetableMapFn(l4, v, p, pagetable.FlagWritable, 0, alloc); err != nil {
					return nil, err
				}
			}
		}

		if memSize > fileSize {
			zeroStart := virt + fileSize // first address that must read back zero
			zeroEnd := virt + memSize
			tail := zeroStart & (pageSize - 1)

			if fileSize > 0 && tail != 0 {
				// The last file byte shares its page with the first zero
				// byte. Remap that page onto a fresh frame, carry the tail
				// file bytes over and zero the rest.
				frame, err := alloc.AllocFrame()
				if err != nil {
					return nil, err
				}

				lastFilePage := (phys + fileSize - 1) &^ (pageSize - 1)
				src := (*[mm.PageSize]byte)(unsafe.Pointer(uintptr(lastFilePage)))
				dst := (*[mm.PageSize]byte)(unsafe.Pointer(frame.Uintptr()))
				copy(dst[:tail], src[:tail])
				for i := tail; i < pageSize; i++ {
					dst[i] = 0
				}

				v := mm.VirtAddrNew(zeroStart &^ (pageSize - 1))
				if err := pagetableRemapFn(l4, v, frame, 0); err != nil {
					return nil, err
				}

				zeroStart = (zeroStart &^ (pageSize - 1)) + pageSize
			} else {
				// A page-aligned zero start needs no partial-frame copy;
				// fresh frames cover the whole remaining range.
				zeroStart &^= pageSize - 1
			}

			for page := zeroStart; page < zeroEnd; page += pageSize {
				frame, err := alloc.AllocFrame()
				if err != nil {
					return nil, err
				}

				dst := (*[mm.PageSize]byte)(unsafe.Pointer(frame.Uintptr()))
				for i := range dst {
					dst[i] = 0
				}

				if err := pagetableMapFn(l4, mm.VirtAddrNew(page), frame, pagetable.FlagWritable, 0, alloc); err != nil {
					return nil, err
				}
			}
		}

		segments = append(segments, bootinfo.KernelSegment{
			VirtAddr:   uintptr(prog.VirtAddr),
			Size:       prog.MemSize,
			Executable: prog.Executable,
			Writable:   prog.Writable,
		})
	}

	return segments, nil
}

// identityMapRange maps phys..phys+size at the same virtual address it
// occupies physically, rounding outward to whole pages. This is only used
// for the handful of ranges that must stay addressable the instant after
// the context switch: the loader's stack and heap, the jump routine and
// the BootInfo page.
func identityMapRange(l4 *pagetable.Table, phys mm.PhysAddr, size uintptr, flags pagetable.Flag, alloc pagetable.Allocator) *kernel.Error {
	base := uint64(phys) &^ (uint64(mm.PageSize) - 1)
	end := (uint64(phys) + uint64(size) + uint64(mm.PageSize) - 1) &^ (uint64(mm.PageSize) - 1)

	for p := base; p < end; p += uint64(mm.PageSize) {
		v := mm.VirtAddrNew(p)
		if err := mapIfAbsent(l4, v, mm.PhysAddr(p), flags, alloc); err != nil {
			return err
		}
	}
	return nil
}

// identityMapRoutine identity-maps the page(s) containing addr as
// present, readable and executable. contextSwitch's own code must remain
// at this exact address across the CR3 reload, since the instruction
// right after the reload is fetched from whatever table CR3 now points
// to.
func identityMapRoutine(l4 *pagetable.Table, addr uintptr, alloc pagetable.Allocator) *kernel.Error {
	return identityMapRange(l4, mm.PhysAddr(addr), mm.PageSize, 0, alloc)
}

// buildBootInfo assembles the BootInfo record handed off to the kernel,
// truncating the memory map and segment list to the fixed capacity
// BootInfo reserves for them.
func buildBootInfo(regions []bootinfo.MemoryMapEntry, fb *bootinfo.FramebufferInfo, rsdp uint64, segments []bootinfo.KernelSegment, kernelStart, kernelEnd uint64) bootinfo.BootInfo {
	var bi bootinfo.BootInfo

	bi.MemoryMapLen = len(regions)
	if bi.MemoryMapLen > bootinfo.MaxMemoryMapEntries {
		bi.MemoryMapLen = bootinfo.MaxMemoryMapEntries
	}
	copy(bi.MemoryMap[:bi.MemoryMapLen], regions[:bi.MemoryMapLen])

	bi.Framebuffer = *fb
	bi.KernelImageStart = kernelStart
	bi.KernelImageEnd = kernelEnd
	bi.RSDPAddr = rsdp

	bi.KernelSegmentCount = len(segments)
	if bi.KernelSegmentCount > bootinfo.MaxKernelSegments {
		bi.KernelSegmentCount = bootinfo.MaxKernelSegments
	}
	copy(bi.KernelSegments[:bi.KernelSegmentCount], segments[:bi.KernelSegmentCount])

	return bi
}
