// Package pagetable implements the explicit, stateless page-table engine
// shared by the loader (building the kernel's fresh 4-level hierarchy
// before there is any active page directory to recurse through) and the
// kernel's own kernel/mm/vmm package. Every operation here takes the L4
// table as an explicit argument and resolves child tables through a
// caller-supplied physical-to-virtual offset, rather than assuming the
// table being walked is the one currently loaded into CR3. The loader
// passes an offset of 0, since it runs with the firmware's identity
// mapping still active; the kernel passes the direct-map offset the
// loader installed before the handoff, recovering its own L4 from CR3
// (see kernel/mm/vmm's activeL4). A single engine on both sides means the
// loader and the kernel never disagree about how a table is addressed.
package pagetable

import (
	"orrery/kernel"
	"orrery/kernel/mm"
)

// Flag is a bit in a page table entry.
type Flag uint64

const (
	FlagPresent Flag = 1 << iota
	FlagWritable
	FlagUserAccessible
	FlagWriteThrough
	FlagNoCache
	FlagAccessed
	FlagDirty
	FlagHuge
	FlagGlobal
)

// FlagNoExecute occupies the top bit of the entry, same layout as every
// amd64 PTE.
const FlagNoExecute = Flag(1 << 63)

// addrMask extracts bits 12-51, the 52-bit aligned physical frame address
// every paging level encodes identically.
const addrMask = uint64(0x000f_ffff_ffff_f000)

// Entry is a single 64-bit page table entry.
type Entry uint64

// Flags returns the flag bits set on the entry.
func (e Entry) Flags() Flag { return Flag(uint64(e) &^ addrMask) }

// Addr returns the physical address this entry points to.
func (e Entry) Addr() mm.PhysAddr { return mm.PhysAddr(uint64(e) & addrMask) }

// Set overwrites the entry to point at addr with the given flags.
func (e *Entry) Set(addr mm.PhysAddr, flags Flag) {
	*e = Entry((uint64(addr) & addrMask) | uint64(flags))
}

// Clear zeroes the entry, marking it not-present.
func (e *Entry) Clear() { *e = 0 }

// Has reports whether every bit in flags is set on the entry.
func (e Entry) Has(flags Flag) bool { return uint64(e)&uint64(flags) == uint64(flags) }

// Table is a 4096-byte, 512-entry page table: one level of the 4-level
// amd64 hierarchy (PML4, PDPT, PD or PT depending on depth).
type Table struct {
	Entries [512]Entry
}

// Clear zeroes every entry in the table.
func (t *Table) Clear() {
	for i := range t.Entries {
		t.Entries[i] = 0
	}
}

// Allocator is the capability set the engine needs from a physical frame
// source: a single method to hand out a fresh, zeroed frame. Per the
// design notes this is the entire polymorphism surface the core relies
// on — no interface with a larger method set is needed.
type Allocator interface {
	AllocFrame() (mm.PhysAddr, *kernel.Error)
}

var (
	errMappingExists  = &kernel.Error{Module: "pagetable", Message: "virtual address is already mapped"}
	errNotMapped      = &kernel.Error{Module: "pagetable", Message: "virtual address is not mapped"}
	errHugePage       = &kernel.Error{Module: "pagetable", Message: "huge pages are not supported by this engine"}
	invalidateFn      = invalidatePage
)

// indices splits a canonical virtual address into its four 9-bit page
// table indices, most significant (PML4) first.
func indices(v mm.VirtAddr) [4]uint64 {
	a := v.Uint64()
	return [4]uint64{
		(a >> 39) & 0x1ff,
		(a >> 30) & 0x1ff,
		(a >> 21) & 0x1ff,
		(a >> 12) & 0x1ff,
	}
}

// tableAt resolves the virtual view of the table stored at phys, given the
// direct-map-style offset currently in effect: the caller-supplied offset
// is simply added to the physical address before it is reinterpreted as a
// *Table. An offset of 0 is valid and means "physical memory is directly
// addressable" (true of the loader, which runs before ExitBootServices
// with the firmware's identity mapping still active).
func tableAt(phys mm.PhysAddr, offset uint64) *Table {
	return (*Table)(unsafeOffsetPointer(phys, offset))
}

// TableAt is the exported form of tableAt, used by callers outside this
// package that resolve a table from a raw physical address — the kernel's
// vmm package reads CR3 to find the physical address of its own active L4
// and reaches it the same way the loader reaches every other table it
// builds, by adding the direct-map offset.
func TableAt(phys mm.PhysAddr, offset uint64) *Table {
	return tableAt(phys, offset)
}

// walkCreate walks from l4 down to the L1 table that should hold the
// entry for v, allocating and zeroing intermediate tables as needed. It
// returns the L1 table and the index of v's entry within it.
func walkCreate(l4 *Table, v mm.VirtAddr, offset uint64, alloc Allocator) (*Table, int, *kernel.Error) {
	idx := indices(v)
	table := l4
	for level := 0; level < 3; level++ {
		entry := &table.Entries[idx[level]]
		if !entry.Has(FlagPresent) {
			frame, err := alloc.AllocFrame()
			if err != nil {
				return nil, 0, err
			}
			entry.Set(frame, FlagPresent|FlagWritable)
			tableAt(frame, offset).Clear()
		} else if entry.Has(FlagHuge) {
			return nil, 0, errHugePage
		}
		table = tableAt(entry.Addr(), offset)
	}
	return table, int(idx[3]), nil
}

// walkExisting walks from l4 down to the L1 table for v without creating
// anything, stopping (and reporting false) the moment a non-present entry
// is encountered.
func walkExisting(l4 *Table, v mm.VirtAddr, offset uint64) (*Table, int, bool) {
	idx := indices(v)
	table := l4
	for level := 0; level < 3; level++ {
		entry := &table.Entries[idx[level]]
		if !entry.Has(FlagPresent) || entry.Has(FlagHuge) {
			return nil, 0, false
		}
		table = tableAt(entry.Addr(), offset)
	}
	return table, int(idx[3]), true
}

// Map establishes a mapping from v to p in l4, using flags for the final
// (L1) entry and PRESENT|WRITABLE for any intermediate table it has to
// create. It fails with errMappingExists if the L1 entry for v is already
// present — callers that want to overwrite an existing mapping must use
// Remap instead.
func Map(l4 *Table, v mm.VirtAddr, p mm.PhysAddr, flags Flag, offset uint64, alloc Allocator) *kernel.Error {
	l1, idx, err := walkCreate(l4, v, offset, alloc)
	if err != nil {
		return err
	}

	if l1.Entries[idx].Has(FlagPresent) {
		return errMappingExists
	}

	l1.Entries[idx].Set(p, flags|FlagPresent)
	invalidateFn(v)
	return nil
}

// Remap overwrites the physical frame of an already-present mapping for v,
// preserving its flags. It fails with errNotMapped if v has no existing
// L1 entry.
func Remap(l4 *Table, v mm.VirtAddr, p mm.PhysAddr, offset uint64) *kernel.Error {
	l1, idx, ok := walkExisting(l4, v, offset)
	if !ok || !l1.Entries[idx].Has(FlagPresent) {
		return errNotMapped
	}

	flags := l1.Entries[idx].Flags()
	l1.Entries[idx].Set(p, flags)
	invalidateFn(v)
	return nil
}

// Translate walks l4 for v and returns the physical address it maps to.
// It returns false the moment a non-present entry is encountered at any
// level, including the final one.
func Translate(l4 *Table, v mm.VirtAddr, offset uint64) (mm.PhysAddr, bool) {
	l1, idx, ok := walkExisting(l4, v, offset)
	if !ok || !l1.Entries[idx].Has(FlagPresent) {
		return 0, false
	}

	return mm.PhysAddr(l1.Entries[idx].Addr().Uint64() | v.PageOffset()), true
}

// Unmap clears the L1 entry for v in l4, if present, and invalidates its TLB
// entry. It fails with errNotMapped if v has no existing mapping, and with
// errHugePage if an intermediate level is a huge-page entry rather than a
// descendable table.
func Unmap(l4 *Table, v mm.VirtAddr, offset uint64) *kernel.Error {
	idx := indices(v)
	table := l4
	for level := 0; level < 3; level++ {
		entry := &table.Entries[idx[level]]
		if !entry.Has(FlagPresent) {
			return errNotMapped
		}
		if entry.Has(FlagHuge) {
			return errHugePage
		}
		table = tableAt(entry.Addr(), offset)
	}

	l1 := table
	i := int(idx[3])
	if !l1.Entries[i].Has(FlagPresent) {
		return errNotMapped
	}

	l1.Entries[i].Clear()
	invalidateFn(v)
	return nil
}
