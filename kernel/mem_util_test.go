package kernel

import (
	"testing"
	"unsafe"
)

func TestMemset(t *testing.T) {
	for _, size := range []int{0, 1, 7, 64, 4096} {
		buf := make([]byte, size+2)
		for i := range buf {
			buf[i] = 0xee
		}

		var addr uintptr
		if size > 0 {
			addr = uintptr(unsafe.Pointer(&buf[1]))
		}
		Memset(addr, 0x5a, uintptr(size))

		for i := 1; i <= size; i++ {
			if buf[i] != 0x5a {
				t.Fatalf("size %d: byte %d not filled: %#x", size, i-1, buf[i])
			}
		}
		// The bytes bracketing the region must be untouched.
		if buf[0] != 0xee || buf[size+1] != 0xee {
			t.Fatalf("size %d: fill escaped the target region", size)
		}
	}
}
