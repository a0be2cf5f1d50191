package vmm

import (
	"orrery/kernel"
	"orrery/kernel/mm"
)

var (
	// earlyReserveLastUsed is the bottom of the address space handed out
	// so far; reservations grow downward from earlyReserveCeiling.
	earlyReserveLastUsed = earlyReserveCeiling

	errEarlyReserveNoSpace = &kernel.Error{Module: "early_reserve", Message: "remaining virtual address space not large enough to satisfy reservation request"}
)

// EarlyReserveRegion claims a page-aligned chunk of kernel virtual address
// space and returns its start. It is a pure bump allocator over addresses:
// nothing is mapped, nothing can be given back, and it exists only for the
// bring-up window before the real allocators run (the frame bitmap's
// storage, the Go runtime's arena reservations).
func EarlyReserveRegion(size uintptr) (uintptr, *kernel.Error) {
	size = (size + (mm.PageSize - 1)) & ^(mm.PageSize - 1)

	if size > earlyReserveLastUsed {
		return 0, errEarlyReserveNoSpace
	}

	earlyReserveLastUsed -= size
	return earlyReserveLastUsed, nil
}
