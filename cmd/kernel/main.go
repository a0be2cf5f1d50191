package main

import (
	"orrery/kernel/bootinfo"
	"orrery/kernel/kmain"
)

// bootInfoPtr is populated by the kernel image's own rt0 entry stub (the
// few instructions of hand-written asm that set up a minimal Go stack
// before any Go code can run; it is the kernel-side counterpart of the
// loader's rt0 and equally outside this module's scope) with the address
// the loader placed in the first argument register on its final jump.
var bootInfoPtr *bootinfo.BootInfo

// main trampolines into kmain.Kmain. It is intentionally trivial so the
// compiler cannot prove Kmain (and the whole kernel it drives) is
// unreachable and discard it.
func main() {
	kmain.Kmain(bootInfoPtr)
}
