package loader

import (
	"orrery/kernel/bootinfo"
	"orrery/kernel/mm"
	"testing"
	"unsafe"
)

func TestNewFrameAllocatorDiscardsNonAvailableRegions(t *testing.T) {
	pageSize := uint64(mm.PageSize)
	regions := []bootinfo.MemoryMapEntry{
		{PhysAddress: 0, PageCount: 1, Type: bootinfo.MemReserved},
		{PhysAddress: pageSize, PageCount: 2, Type: bootinfo.MemAvailable},
		{PhysAddress: 3 * pageSize, PageCount: 1, Type: bootinfo.MemAcpiReclaimable},
		{PhysAddress: 4 * pageSize, PageCount: 1, Type: bootinfo.MemInUse},
	}

	alloc := NewFrameAllocator(regions, 0)

	var got []mm.PhysAddr
	for {
		frame, err := alloc.AllocFrame()
		if err != nil {
			break
		}
		got = append(got, frame)
	}

	exp := []mm.PhysAddr{mm.PhysAddr(pageSize), mm.PhysAddr(2 * pageSize)}
	if len(got) != len(exp) {
		t.Fatalf("expected %d frames; got %d: %v", len(exp), len(got), got)
	}
	for i := range exp {
		if got[i] != exp[i] {
			t.Errorf("frame %d: expected %v; got %v", i, exp[i], got[i])
		}
	}
	if exp := uint64(2); alloc.NextFreeFrame() != exp {
		t.Errorf("expected cursor %d after exhaustion; got %d", exp, alloc.NextFreeFrame())
	}
}

func TestFrameAllocatorExhaustion(t *testing.T) {
	regions := []bootinfo.MemoryMapEntry{
		{PhysAddress: 0, PageCount: 1, Type: bootinfo.MemAvailable},
	}
	alloc := NewFrameAllocator(regions, 0)

	if _, err := alloc.AllocFrame(); err != nil {
		t.Fatalf("expected the single available frame to be handed out; got error %v", err)
	}
	if _, err := alloc.AllocFrame(); err == nil {
		t.Fatal("expected an error once the allocator is exhausted")
	}
}

func TestFrameAllocatorAdvancesAcrossRegions(t *testing.T) {
	regions := []bootinfo.MemoryMapEntry{
		{PhysAddress: 0, PageCount: 1, Type: bootinfo.MemAvailable},
		{PhysAddress: 0x10000, PageCount: 1, Type: bootinfo.MemAvailable},
	}
	alloc := NewFrameAllocator(regions, 0)

	first, err := alloc.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}
	second, err := alloc.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}

	if exp := mm.PhysAddr(0); first != exp {
		t.Errorf("expected first frame %v; got %v", exp, first)
	}
	if exp := mm.PhysAddr(0x10000); second != exp {
		t.Errorf("expected second frame %v; got %v", exp, second)
	}
}

func TestFrameAllocatorReturnsDistinctFrames(t *testing.T) {
	regions := []bootinfo.MemoryMapEntry{
		{PhysAddress: 0x1000, PageCount: 8, Type: bootinfo.MemAvailable},
		{PhysAddress: 0x20000, PageCount: 8, Type: bootinfo.MemAvailable},
	}
	alloc := NewFrameAllocator(regions, 0)

	seen := make(map[mm.PhysAddr]bool)
	for {
		frame, err := alloc.AllocFrame()
		if err != nil {
			break
		}
		if seen[frame] {
			t.Fatalf("frame 0x%x handed out twice", frame)
		}
		seen[frame] = true
	}

	// Exhaustion must have covered exactly the union of the free regions.
	if exp := 16; len(seen) != exp {
		t.Fatalf("expected %d distinct frames; got %d", exp, len(seen))
	}
	for i := 0; i < 8; i++ {
		if !seen[mm.PhysAddr(0x1000+i*0x1000)] || !seen[mm.PhysAddr(0x20000+i*0x1000)] {
			t.Fatalf("free frame %d missing from allocation sequence", i)
		}
	}
}

func TestAllocPageTable(t *testing.T) {
	// Back the "physical" region with real host memory so the returned
	// table pointer can be dereferenced.
	backing := make([]byte, 2*mm.PageSize)
	for i := range backing {
		backing[i] = 0xff
	}
	base := (uintptr(unsafe.Pointer(&backing[0])) + mm.PageSize - 1) &^ (mm.PageSize - 1)

	regions := []bootinfo.MemoryMapEntry{
		{PhysAddress: uint64(base), PageCount: 1, Type: bootinfo.MemAvailable},
	}
	alloc := NewFrameAllocator(regions, 0)

	table, phys, err := alloc.AllocPageTable()
	if err != nil {
		t.Fatal(err)
	}
	if exp := mm.PhysAddr(base); phys != exp {
		t.Fatalf("expected table frame 0x%x; got 0x%x", exp, phys)
	}
	if got := uintptr(unsafe.Pointer(table)); got != base {
		t.Fatalf("expected table resolved at 0x%x; got 0x%x", base, got)
	}
	for i, entry := range table.Entries {
		if entry != 0 {
			t.Fatalf("expected entry %d to be cleared; got 0x%x", i, uint64(entry))
		}
	}
}
