package vmm

import "orrery/kernel/mm/pagetable"

// PageTableEntryFlag is the flag type used by every Map/Unmap/MapRegion call
// in this package. It is an alias for pagetable.Flag: the kernel resolves
// its own active page table through the same offset-based engine the
// loader uses to build it (see activeL4), so the two packages share a
// single flag encoding instead of each defining one and converting between
// them.
type PageTableEntryFlag = pagetable.Flag

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent = pagetable.FlagPresent

	// FlagRW is set if the page can be written to.
	FlagRW = pagetable.FlagWritable

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible = pagetable.FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching = pagetable.FlagWriteThrough

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache = pagetable.FlagNoCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed = pagetable.FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty = pagetable.FlagDirty

	// FlagHugePage is set when using 2Mb pages instead of 4K pages.
	FlagHugePage = pagetable.FlagHuge

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when swapping page tables by updating the CR3 register.
	FlagGlobal = pagetable.FlagGlobal

	// FlagNoExecute if set, indicates that a page contains non-executable code.
	FlagNoExecute = pagetable.FlagNoExecute
)

// earlyReserveCeiling bounds EarlyReserveRegion's bump allocation from
// above. It only needs to be a fixed, canonical amd64 address that stays
// clear of bootinfo.DirectMapOffset and of the loader-mapped kernel image;
// the top of the upper canonical half satisfies both with plenty of room
// to spare in either direction.
const earlyReserveCeiling = uintptr(0xffff_ffff_0000_0000)
