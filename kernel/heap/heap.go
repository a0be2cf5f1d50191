// Package heap implements the kernel's general-purpose memory allocator: a
// fixed-size-block allocator with nine free lists backed by a first-fit
// linked-list fallback heap. It is independent of the Go runtime's own
// allocator, which kernel/goruntime.Init backs with page-mapped
// sysAlloc/sysMap hooks; this allocator only serves code that allocates
// through it explicitly. Page tables take whole frames from the frame
// allocator rather than memory from this heap.
package heap

import (
	"orrery/kernel"
	"orrery/kernel/sync"
	"unsafe"
)

const (
	// Base is the virtual address at which the fixed-size-block heap is
	// mapped.
	Base = uintptr(0x7777_7777_0000)

	// Size is the number of bytes reserved for the heap.
	Size = uintptr(100 * 1024)
)

// BlockSizes lists the free-list bucket sizes, smallest first. An
// allocation request is served from the smallest bucket whose blocks are
// large enough to hold it and whose natural alignment satisfies the
// request.
var BlockSizes = [...]uintptr{8, 16, 32, 64, 128, 256, 512, 1024, 2048}

// listNode is written directly into the first bytes of a free block so the
// allocator needs no separate bookkeeping storage for its free lists.
type listNode struct {
	next *listNode
}

var errOutOfMemory = &kernel.Error{Module: "heap", Message: "out of memory"}

// Allocator is a fixed-size-block allocator with a linked-list fallback
// heap for oversize or unusually-aligned requests. All operations are
// guarded by a spinning mutex; callers must never hold the lock across a
// suspension point (there are none inside this package, but composing code
// must preserve that invariant).
type Allocator struct {
	lock      sync.Spinlock
	freeLists [len(BlockSizes)]*listNode
	fallback  fallbackHeap
}

// Init prepares the allocator to serve allocations from the byte range
// [base, base+size).
func (a *Allocator) Init(base, size uintptr) {
	a.fallback.init(base, size)
}

// listIndex returns the index of the smallest bucket that can satisfy an
// allocation of size bytes aligned to align, or false if no bucket is
// eligible (the caller should fall back to the linked-list heap).
func listIndex(size, align uintptr) (int, bool) {
	for i, blockSize := range BlockSizes {
		if size <= blockSize && align <= blockSize {
			return i, true
		}
	}
	return 0, false
}

// Alloc reserves size bytes aligned to align and returns their address.
func (a *Allocator) Alloc(size, align uintptr) (uintptr, *kernel.Error) {
	if size == 0 {
		size = 1
	}

	a.lock.Acquire()
	defer a.lock.Release()

	idx, ok := listIndex(size, align)
	if !ok {
		return a.fallback.alloc(size, align)
	}

	if node := a.freeLists[idx]; node != nil {
		a.freeLists[idx] = node.next
		return uintptr(unsafe.Pointer(node)), nil
	}

	// The bucket's free list is empty; carve a fresh, block-sized region
	// out of the fallback heap rather than failing outright.
	blockSize := BlockSizes[idx]
	return a.fallback.alloc(blockSize, blockSize)
}

// Dealloc returns a previously allocated block to the allocator. size and
// align must match the values passed to the Alloc call that produced addr.
func (a *Allocator) Dealloc(addr, size, align uintptr) {
	if size == 0 {
		size = 1
	}

	a.lock.Acquire()
	defer a.lock.Release()

	idx, ok := listIndex(size, align)
	if !ok {
		a.fallback.dealloc(addr, size)
		return
	}

	node := (*listNode)(unsafe.Pointer(addr))
	node.next = a.freeLists[idx]
	a.freeLists[idx] = node
}
