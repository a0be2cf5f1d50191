package heap

import (
	"orrery/kernel"
	"unsafe"
)

// freeRegion is the header written at the start of every free region
// tracked by the fallback heap. Regions are kept on a singly-linked list;
// the list is not ordered and adjacent regions are not coalesced.
type freeRegion struct {
	size uintptr
	next *freeRegion
}

// fallbackHeap is a first-fit, linked-list-of-free-regions allocator used
// both for requests too large for any fixed-size bucket and for carving
// fresh blocks when a bucket's free list runs dry.
type fallbackHeap struct {
	head freeRegion
}

func (h *fallbackHeap) init(base, size uintptr) {
	h.head.next = nil
	h.addRegion(base, size)
}

// addRegion pushes a free region of the given extent back onto the free
// list. Regions too small to hold a freeRegion header are silently dropped;
// this only happens for tiny split remainders.
func (h *fallbackHeap) addRegion(addr, size uintptr) {
	if size < unsafe.Sizeof(freeRegion{}) {
		return
	}
	region := (*freeRegion)(unsafe.Pointer(addr))
	region.size = size
	region.next = h.head.next
	h.head.next = region
}

func alignUp(addr, align uintptr) uintptr {
	return (addr + align - 1) &^ (align - 1)
}

// alloc scans the free list for the first region that can satisfy size
// bytes at the requested alignment, splitting off any leading or trailing
// excess back onto the list.
func (h *fallbackHeap) alloc(size, align uintptr) (uintptr, *kernel.Error) {
	if size < unsafe.Sizeof(freeRegion{}) {
		size = unsafe.Sizeof(freeRegion{})
	}

	prev := &h.head
	for region := h.head.next; region != nil; region = prev.next {
		regionAddr := uintptr(unsafe.Pointer(region))
		start := alignUp(regionAddr, align)
		end := start + size
		regionEnd := regionAddr + region.size

		if end > regionEnd {
			prev = region
			continue
		}

		prev.next = region.next

		if excessFront := start - regionAddr; excessFront > 0 {
			h.addRegion(regionAddr, excessFront)
		}
		if excessBack := regionEnd - end; excessBack > 0 {
			h.addRegion(end, excessBack)
		}

		return start, nil
	}

	return 0, errOutOfMemory
}

// dealloc returns a region to the free list.
func (h *fallbackHeap) dealloc(addr, size uintptr) {
	if size < unsafe.Sizeof(freeRegion{}) {
		size = unsafe.Sizeof(freeRegion{})
	}
	h.addRegion(addr, size)
}
