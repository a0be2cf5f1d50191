package kernel

import "unsafe"

// Memset fills size bytes starting at addr with value. It operates on raw
// memory the Go runtime knows nothing about (freshly mapped frames), so it
// takes an address rather than a slice and builds its own view of the
// region.
func Memset(addr uintptr, value byte, size uintptr) {
	if size == 0 {
		return
	}

	dst := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)

	// Seed the first byte, then double the initialized span with copy,
	// which the compiler lowers to a tuned memmove.
	dst[0] = value
	for filled := 1; filled < len(dst); filled *= 2 {
		copy(dst[filled:], dst[:filled])
	}
}
