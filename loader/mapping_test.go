package loader

import (
	"orrery/kernel"
	"orrery/kernel/bootinfo"
	"orrery/kernel/mm"
	"orrery/kernel/mm/pagetable"
	"orrery/loader/loadelf"
	"testing"
	"unsafe"
)

func resetMappingFns() {
	pagetableMapFn = pagetable.Map
	pagetableRemapFn = pagetable.Remap
	pagetableTranslateFn = pagetable.Translate
}

// bufAllocator hands out frames backed by real host memory, one page per
// call, so the unsafe writes in mapKernelImage land somewhere valid instead
// of at an arbitrary physical address.
type bufAllocator struct {
	bufs [][mm.PageSize]byte
	next int
}

func (a *bufAllocator) AllocFrame() (mm.PhysAddr, *kernel.Error) {
	if a.next >= len(a.bufs) {
		return 0, &kernel.Error{Module: "test", Message: "out of frames"}
	}
	p := mm.PhysAddr(uintptr(unsafe.Pointer(&a.bufs[a.next][0])))
	a.next++
	return p, nil
}

func (a *bufAllocator) poison() {
	for i := range a.bufs {
		for j := range a.bufs[i] {
			a.bufs[i][j] = 0xff
		}
	}
}

// alignedImageBuf returns a page-aligned host buffer of the given size whose
// address stands in for the kernel file's physical location, plus a byte
// slice over it.
func alignedImageBuf(size int) (mm.PhysAddr, []byte) {
	backing := make([]byte, size+int(mm.PageSize))
	base := (uintptr(unsafe.Pointer(&backing[0])) + mm.PageSize - 1) &^ (mm.PageSize - 1)
	buf := unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
	return mm.PhysAddr(base), buf
}

// TestMapKernelImageBssExpansion covers a PT_LOAD segment whose MemSize
// extends past FileSize: file_size=0x1003, mem_size=0x2000 at a page-aligned
// virtual address. The two file-backed pages must be mapped straight onto
// the file buffer's frames, the page holding the last 3 file bytes must then
// be remapped onto a fresh frame carrying those bytes followed by zeroes,
// and no further frame is needed since the zero range ends exactly at the
// next page boundary.
func TestMapKernelImageBssExpansion(t *testing.T) {
	defer resetMappingFns()

	type mapping struct {
		v mm.VirtAddr
		p mm.PhysAddr
	}
	var mapped []mapping
	pagetableMapFn = func(_ *pagetable.Table, v mm.VirtAddr, p mm.PhysAddr, flags pagetable.Flag, _ uint64, _ pagetable.Allocator) *kernel.Error {
		if exp := pagetable.FlagWritable; flags != exp {
			t.Errorf("expected map flags %v; got %v", exp, flags)
		}
		mapped = append(mapped, mapping{v, p})
		return nil
	}
	var remapped []mapping
	pagetableRemapFn = func(_ *pagetable.Table, v mm.VirtAddr, p mm.PhysAddr, _ uint64) *kernel.Error {
		remapped = append(remapped, mapping{v, p})
		return nil
	}

	const virtAddr = 0x1_0000_0000
	imagePhys, buf := alignedImageBuf(0x1003)
	for i := range buf {
		buf[i] = byte(i + 1)
	}

	image := &loadelf.Image{
		Programs: []loadelf.Program{
			{VirtAddr: virtAddr, Offset: 0, FileSize: 0x1003, MemSize: 0x2000, Writable: true},
		},
	}

	alloc := &bufAllocator{bufs: make([][mm.PageSize]byte, 2)}
	alloc.poison()

	segments, err := mapKernelImage(nil, image, imagePhys, alloc)
	if err != nil {
		t.Fatal(err)
	}

	if exp := 2; len(mapped) != exp {
		t.Fatalf("expected %d file-backed pages mapped; got %d: %+v", exp, len(mapped), mapped)
	}
	for i, m := range mapped {
		if expV := mm.VirtAddrNew(virtAddr + uint64(i)*uint64(mm.PageSize)); m.v != expV {
			t.Errorf("mapping %d: expected virt 0x%x; got 0x%x", i, expV, m.v)
		}
		if expP := imagePhys.Offset(int64(i) * int64(mm.PageSize)); m.p != expP {
			t.Errorf("mapping %d: expected frame 0x%x (in place); got 0x%x", i, expP, m.p)
		}
	}

	if exp := 1; len(remapped) != exp {
		t.Fatalf("expected %d page remapped for the partial bss frame; got %d", exp, len(remapped))
	}
	freshFrame := mm.PhysAddr(uintptr(unsafe.Pointer(&alloc.bufs[0][0])))
	if m := remapped[0]; m.v != mm.VirtAddrNew(virtAddr+0x1000) || m.p != freshFrame {
		t.Errorf("unexpected remap: virt 0x%x frame 0x%x", m.v, m.p)
	}
	if exp := 1; alloc.next != exp {
		t.Errorf("expected %d fresh frame(s) allocated; got %d", exp, alloc.next)
	}

	// The fresh frame carries the 3 tail file bytes and zeroes after them.
	fresh := alloc.bufs[0][:]
	for i := 0; i < 3; i++ {
		if exp := buf[0x1000+i]; fresh[i] != exp {
			t.Fatalf("fresh frame byte %d: expected file-backed 0x%x; got 0x%x", i, exp, fresh[i])
		}
	}
	for i := 3; i < int(mm.PageSize); i++ {
		if fresh[i] != 0 {
			t.Fatalf("fresh frame byte %d: expected zeroed bss; got 0x%x", i, fresh[i])
		}
	}

	// The file buffer itself must not have been scribbled on.
	for i := range buf {
		if exp := byte(i + 1); buf[i] != exp {
			t.Fatalf("file buffer byte %d: expected 0x%x; got 0x%x", i, exp, buf[i])
		}
	}

	if exp := 1; len(segments) != exp {
		t.Fatalf("expected %d segment(s) recorded; got %d", exp, len(segments))
	}
	if seg := segments[0]; seg.VirtAddr != virtAddr || seg.Size != 0x2000 || !seg.Writable || seg.Executable {
		t.Errorf("unexpected segment record: %+v", seg)
	}
}

// TestMapKernelImageAlignedBss covers the page-aligned zero-start case: the
// file data ends exactly on a page boundary, so no partial-frame copy is
// needed and the bss range is served purely by fresh zero-filled frames.
func TestMapKernelImageAlignedBss(t *testing.T) {
	defer resetMappingFns()

	var mapCount, remapCount int
	pagetableMapFn = func(*pagetable.Table, mm.VirtAddr, mm.PhysAddr, pagetable.Flag, uint64, pagetable.Allocator) *kernel.Error {
		mapCount++
		return nil
	}
	pagetableRemapFn = func(*pagetable.Table, mm.VirtAddr, mm.PhysAddr, uint64) *kernel.Error {
		remapCount++
		return nil
	}

	imagePhys, buf := alignedImageBuf(0x1000)
	for i := range buf {
		buf[i] = 0xaa
	}

	image := &loadelf.Image{
		Programs: []loadelf.Program{
			{VirtAddr: 0x1_0000_0000, Offset: 0, FileSize: 0x1000, MemSize: 0x3000, Writable: true},
		},
	}

	alloc := &bufAllocator{bufs: make([][mm.PageSize]byte, 2)}
	alloc.poison()

	if _, err := mapKernelImage(nil, image, imagePhys, alloc); err != nil {
		t.Fatal(err)
	}

	// One file page plus two fresh bss pages; nothing to remap.
	if exp := 3; mapCount != exp {
		t.Errorf("expected %d pages mapped; got %d", exp, mapCount)
	}
	if exp := 0; remapCount != exp {
		t.Errorf("expected no remap for an aligned bss start; got %d", remapCount)
	}
	if exp := 2; alloc.next != exp {
		t.Errorf("expected %d fresh frames; got %d", exp, alloc.next)
	}
	for f := 0; f < 2; f++ {
		for i, b := range alloc.bufs[f] {
			if b != 0 {
				t.Fatalf("bss frame %d byte %d: expected zero; got 0x%x", f, i, b)
			}
		}
	}
}

func TestMapKernelImagePropagatesAllocError(t *testing.T) {
	defer resetMappingFns()
	pagetableMapFn = func(*pagetable.Table, mm.VirtAddr, mm.PhysAddr, pagetable.Flag, uint64, pagetable.Allocator) *kernel.Error {
		return nil
	}

	imagePhys, _ := alignedImageBuf(0x1000)
	image := &loadelf.Image{
		Programs: []loadelf.Program{
			{VirtAddr: 0x2000, Offset: 0, FileSize: 0x1000, MemSize: 0x2000},
		},
	}

	expErr := &kernel.Error{Module: "test", Message: "out of frames"}
	alloc := allocatorFunc(func() (mm.PhysAddr, *kernel.Error) { return 0, expErr })

	if _, err := mapKernelImage(nil, image, imagePhys, alloc); err != expErr {
		t.Fatalf("expected error %v; got %v", expErr, err)
	}
}

// allocatorFunc adapts a plain function to pagetable.Allocator.
type allocatorFunc func() (mm.PhysAddr, *kernel.Error)

func (f allocatorFunc) AllocFrame() (mm.PhysAddr, *kernel.Error) { return f() }

func TestMapIfAbsent(t *testing.T) {
	defer resetMappingFns()

	t.Run("already mapped", func(t *testing.T) {
		pagetableTranslateFn = func(*pagetable.Table, mm.VirtAddr, uint64) (mm.PhysAddr, bool) {
			return 0xdead000, true
		}
		mapCalled := false
		pagetableMapFn = func(*pagetable.Table, mm.VirtAddr, mm.PhysAddr, pagetable.Flag, uint64, pagetable.Allocator) *kernel.Error {
			mapCalled = true
			return nil
		}

		if err := mapIfAbsent(nil, 0, 0, 0, nil); err != nil {
			t.Fatal(err)
		}
		if mapCalled {
			t.Error("expected Map not to be called for an already-mapped address")
		}
	})

	t.Run("not mapped", func(t *testing.T) {
		pagetableTranslateFn = func(*pagetable.Table, mm.VirtAddr, uint64) (mm.PhysAddr, bool) {
			return 0, false
		}
		var gotV mm.VirtAddr
		pagetableMapFn = func(_ *pagetable.Table, v mm.VirtAddr, _ mm.PhysAddr, _ pagetable.Flag, _ uint64, _ pagetable.Allocator) *kernel.Error {
			gotV = v
			return nil
		}

		if err := mapIfAbsent(nil, mm.VirtAddrNew(0x3000), 0, 0, nil); err != nil {
			t.Fatal(err)
		}
		if exp := mm.VirtAddrNew(0x3000); gotV != exp {
			t.Errorf("expected Map to be called with 0x%x; got 0x%x", exp, gotV)
		}
	})
}

func TestInstallDirectMap(t *testing.T) {
	defer resetMappingFns()
	pagetableTranslateFn = func(*pagetable.Table, mm.VirtAddr, uint64) (mm.PhysAddr, bool) { return 0, false }

	var mappedCount int
	pagetableMapFn = func(_ *pagetable.Table, v mm.VirtAddr, p mm.PhysAddr, flags pagetable.Flag, offset uint64, _ pagetable.Allocator) *kernel.Error {
		mappedCount++
		if exp := pagetable.FlagWritable | pagetable.FlagNoExecute; flags != exp {
			t.Errorf("expected flags %v; got %v", exp, flags)
		}
		if exp := mm.VirtAddrNew(uint64(bootinfo.DirectMapOffset) + uint64(p)); v != exp {
			t.Errorf("expected virtual address 0x%x; got 0x%x", exp, v)
		}
		return nil
	}

	regions := []bootinfo.MemoryMapEntry{
		{PhysAddress: 0, PageCount: 3, Type: bootinfo.MemAvailable},
	}

	if err := installDirectMap(nil, regions, nil); err != nil {
		t.Fatal(err)
	}
	if exp := 3; mappedCount != exp {
		t.Errorf("expected %d pages mapped; got %d", exp, mappedCount)
	}
}

func TestIdentityMapRange(t *testing.T) {
	defer resetMappingFns()
	pagetableTranslateFn = func(*pagetable.Table, mm.VirtAddr, uint64) (mm.PhysAddr, bool) { return 0, false }

	var mappedCount int
	pagetableMapFn = func(_ *pagetable.Table, v mm.VirtAddr, p mm.PhysAddr, _ pagetable.Flag, _ uint64, _ pagetable.Allocator) *kernel.Error {
		mappedCount++
		if uint64(v) != uint64(p) {
			t.Errorf("expected identity mapping; got virt 0x%x phys 0x%x", v, p)
		}
		return nil
	}

	// Spans two pages even though size is less than 2*PageSize, since the
	// range straddles a page boundary.
	if err := identityMapRange(nil, mm.PhysAddr(mm.PageSize-1), 2, 0, nil); err != nil {
		t.Fatal(err)
	}
	if exp := 2; mappedCount != exp {
		t.Errorf("expected %d pages mapped; got %d", exp, mappedCount)
	}
}

func TestBuildBootInfo(t *testing.T) {
	regions := []bootinfo.MemoryMapEntry{{PhysAddress: 0, PageCount: 1, Type: bootinfo.MemReserved}}
	fb := &bootinfo.FramebufferInfo{Width: 1024, Height: 768}
	segments := []bootinfo.KernelSegment{{VirtAddr: 0x1000, Size: 0x2000}}

	bi := buildBootInfo(regions, fb, 0xcafe, segments, 0x1000, 0x3000)

	if bi.MemoryMapLen != 1 || bi.MemoryMap[0] != regions[0] {
		t.Errorf("unexpected memory map in boot info: %+v", bi.MemoryMap[:bi.MemoryMapLen])
	}
	if bi.Framebuffer != *fb {
		t.Errorf("unexpected framebuffer in boot info: %+v", bi.Framebuffer)
	}
	if bi.RSDPAddr != 0xcafe {
		t.Errorf("expected RSDPAddr 0xcafe; got 0x%x", bi.RSDPAddr)
	}
	if bi.KernelImageStart != 0x1000 || bi.KernelImageEnd != 0x3000 {
		t.Errorf("unexpected kernel image bounds: start=0x%x end=0x%x", bi.KernelImageStart, bi.KernelImageEnd)
	}
	if bi.KernelSegmentCount != 1 || bi.KernelSegments[0] != segments[0] {
		t.Errorf("unexpected kernel segments in boot info: %+v", bi.KernelSegments[:bi.KernelSegmentCount])
	}
}
