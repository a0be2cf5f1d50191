package loader

// contextSwitch loads cr3 as the active page table root, switches to rsp
// as the stack pointer, and jumps to entry with biPtr passed as the first
// argument under the System V AMD64 calling convention (RDI). It never
// returns. Like cpu's privileged primitives and efi's call0..call6
// trampolines, the implementation lives in an architecture-specific
// assembly stub alongside this declaration.
func contextSwitch(cr3, rsp, biPtr, entry uintptr)

// jumpRoutineAddr returns the address contextSwitch is linked at, so its
// containing page can be identity-mapped before the routine runs: the
// instruction stream must still be fetchable from that address the moment
// CR3 is reloaded, before any other mapping takes effect.
func jumpRoutineAddr() uintptr
