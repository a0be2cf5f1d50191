package efi

// UEFI firmware functions use the Microsoft x64 calling convention (first
// four integer/pointer args in RCX, RDX, R8, R9; caller-allocated 32-byte
// shadow space), not the System V ABI the rest of this module's Go code
// runs under. call0..call6 are thin trampolines — implemented the same way
// cpu.PortReadByte and friends are (a bodyless Go declaration backed by a
// hand-written stub) — that shuffle arguments into the MS-ABI registers,
// CALL the firmware-owned function pointer fn, and translate the RAX
// return value back into a Status.

// call0 invokes a zero-argument firmware function.
func call0(fn uintptr) Status

// call1 invokes a one-argument firmware function.
func call1(fn, a1 uintptr) Status

// call2 invokes a two-argument firmware function.
func call2(fn, a1, a2 uintptr) Status

// call3 invokes a three-argument firmware function.
func call3(fn, a1, a2, a3 uintptr) Status

// call4 invokes a four-argument firmware function.
func call4(fn, a1, a2, a3, a4 uintptr) Status

// call5 invokes a five-argument firmware function.
func call5(fn, a1, a2, a3, a4, a5 uintptr) Status

// call6 invokes a six-argument firmware function.
func call6(fn, a1, a2, a3, a4, a5, a6 uintptr) Status
