package vmm

import (
	"orrery/kernel"
	"orrery/kernel/mm"
	"orrery/kernel/mm/pagetable"
)

var (
	// mapFn is used by MapRegion/IdentityMapRegion and overridden by tests.
	mapFn = Map

	// earlyReserveRegionFn is used by MapRegion and overridden by tests.
	earlyReserveRegionFn = EarlyReserveRegion

	// pagetableMapFn, pagetableUnmapFn and pagetableTranslateFn indirect
	// through the shared pagetable engine so tests can supply a fake that
	// never touches the active page table or issues invlpg, which would
	// fault if executed outside ring 0.
	pagetableMapFn       = pagetable.Map
	pagetableUnmapFn     = pagetable.Unmap
	pagetableTranslateFn = pagetable.Translate

	// allocFrameFn hands out frames for intermediate page tables created
	// while establishing a new mapping.
	allocFrameFn pagetable.Allocator = frameAllocator{}

	// ErrInvalidMapping is returned when trying to look up or remove a
	// virtual memory address that is not currently mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}
)

// frameAllocator adapts mm.AllocFrame, the shift-based frame source every
// other kernel package already draws from, to the raw-address
// pagetable.Allocator interface the pagetable engine expects.
type frameAllocator struct{}

func (frameAllocator) AllocFrame() (mm.PhysAddr, *kernel.Error) {
	frame, err := mm.AllocFrame()
	if err != nil {
		return 0, err
	}
	return mm.PhysAddr(frame.Address()), nil
}

// Map establishes a mapping between a virtual page and a physical memory
// frame using the kernel's currently active page table. Calls to Map use
// the package's frame allocator to initialize any missing intermediate
// page table at each paging level supported by the MMU.
func Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	v := mm.VirtAddrNew(uint64(page.Address()))
	p := mm.PhysAddr(frame.Address())
	return pagetableMapFn(activeL4(), v, p, flags, directMapOffset, allocFrameFn)
}

// MapRegion establishes a mapping to the physical memory region which starts
// at the given frame and ends at frame + pages(size). The size argument is
// always rounded up to the nearest page boundary. MapRegion reserves the next
// available region in the active virtual address space, establishes the
// mapping and returns back the Page that corresponds to the region start.
func MapRegion(frame mm.Frame, size uintptr, flags PageTableEntryFlag) (mm.Page, *kernel.Error) {
	// Reserve next free block in the address space
	size = (size + (mm.PageSize - 1)) & ^(mm.PageSize - 1)
	startPage, err := earlyReserveRegionFn(size)
	if err != nil {
		return 0, err
	}

	pageCount := size >> mm.PageShift
	for page := mm.PageFromAddress(startPage); pageCount > 0; pageCount, page, frame = pageCount-1, page+1, frame+1 {
		if err := mapFn(page, frame, flags); err != nil {
			return 0, err
		}
	}

	return mm.PageFromAddress(startPage), nil
}

// IdentityMapRegion establishes an identity mapping to the physical memory
// region which starts at the given frame and ends at frame + pages(size). The
// size argument is always rounded up to the nearest page boundary.
// IdentityMapRegion returns back the Page that corresponds to the region
// start.
func IdentityMapRegion(startFrame mm.Frame, size uintptr, flags PageTableEntryFlag) (mm.Page, *kernel.Error) {
	startPage := mm.Page(startFrame)
	pageCount := mm.Page(((size + (mm.PageSize - 1)) & ^(mm.PageSize - 1)) >> mm.PageShift)

	for curPage := startPage; curPage < startPage+pageCount; curPage++ {
		if err := mapFn(curPage, mm.Frame(curPage), flags); err != nil {
			return 0, err
		}
	}

	return startPage, nil
}

// Unmap removes a mapping previously installed via a call to Map.
func Unmap(page mm.Page) *kernel.Error {
	v := mm.VirtAddrNew(uint64(page.Address()))
	if err := pagetableUnmapFn(activeL4(), v, directMapOffset); err != nil {
		return ErrInvalidMapping
	}
	return nil
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	v := mm.VirtAddrNew(uint64(virtAddr))
	p, ok := pagetableTranslateFn(activeL4(), v, directMapOffset)
	if !ok {
		return 0, ErrInvalidMapping
	}
	return p.Uintptr(), nil
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & (mm.PageSize - 1)
}
