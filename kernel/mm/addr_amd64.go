package mm

import "orrery/kernel"

// errBadVirtualAddress is returned by VirtAddrChecked when the supplied
// address is not a canonical x86_64 virtual address.
var errBadVirtualAddress = &kernel.Error{Module: "mm", Message: "virtual address is not canonical"}

// PhysAddr is a 64-bit physical memory address.
type PhysAddr uint64

// VirtAddr is a canonical x86_64 virtual memory address: bits 48 through 63
// are always a copy of bit 47.
type VirtAddr uint64

// VirtAddrTruncate builds a VirtAddr from addr without checking or adjusting
// bits 48-63. Callers must already know the value is canonical; this
// constructor exists for the few call sites (e.g. decoding a page table
// entry) where the bits are known-good by construction.
func VirtAddrTruncate(addr uint64) VirtAddr {
	return VirtAddr(addr)
}

// VirtAddrNew builds a canonical VirtAddr from addr by sign-extending bit 47
// into bits 48-63, discarding whatever was previously stored there.
func VirtAddrNew(addr uint64) VirtAddr {
	return VirtAddr(uint64(int64(addr<<16) >> 16))
}

// VirtAddrChecked builds a VirtAddr from addr. Bits 47-63 decide the result:
// all zero or all one is returned unchanged; bit 47 set with bits 48-63 all
// zero is sign-extended; any other pattern is an error.
func VirtAddrChecked(addr uint64) (VirtAddr, *kernel.Error) {
	switch addr & 0xffff_8000_0000_0000 {
	case 0, 0xffff_8000_0000_0000:
		// Already canonical.
		return VirtAddr(addr), nil
	case 0x0000_8000_0000_0000:
		// Bit 47 is set but the sign-extension bits are not; normalize.
		return VirtAddrNew(addr), nil
	default:
		return 0, errBadVirtualAddress
	}
}

// Uint64 returns the raw 64-bit value of the address.
func (v VirtAddr) Uint64() uint64 { return uint64(v) }

// Uintptr returns the address as a host-native pointer-sized integer.
func (v VirtAddr) Uintptr() uintptr { return uintptr(v) }

// Offset returns a new, re-canonicalized VirtAddr equal to v+delta.
func (v VirtAddr) Offset(delta int64) VirtAddr {
	return VirtAddrNew(uint64(int64(v) + delta))
}

// AlignDown returns the address rounded down to the given power-of-two
// alignment.
func (v VirtAddr) AlignDown(align uint64) VirtAddr {
	return VirtAddrNew(uint64(v) &^ (align - 1))
}

// PageOffset returns the low 12 bits of the address (the offset within its
// containing 4 KiB page).
func (v VirtAddr) PageOffset() uint64 {
	return uint64(v) & uint64(PageSize-1)
}

// Uint64 returns the raw 64-bit value of the address.
func (p PhysAddr) Uint64() uint64 { return uint64(p) }

// Uintptr returns the address as a host-native pointer-sized integer.
func (p PhysAddr) Uintptr() uintptr { return uintptr(p) }

// Offset returns a new PhysAddr equal to p+delta.
func (p PhysAddr) Offset(delta int64) PhysAddr {
	return PhysAddr(uint64(int64(p) + delta))
}
