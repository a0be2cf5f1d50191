package main

import (
	"orrery/loader"
	"orrery/loader/efi"
)

// imageHandle and systemTable are populated by the PE entry point's asm
// trampoline (outside this module's scope, same as the linker script and
// FAT image packaging) before main is called: UEFI's own calling
// convention hands the image handle and system table pointer to the PE
// entry point in RCX/RDX, and the trampoline stashes them here so main can
// be an ordinary Go function with no arguments.
var (
	imageHandle uintptr
	systemTable *efi.SystemTable
)

// main is a trampoline for loader.Boot, defined the same way boot.go's
// main calls kernel.Kmain: its only job is to prevent the compiler from
// treating loader.Boot, and everything it calls, as unreachable dead code.
// main never returns — loader.Boot either jumps into the kernel or panics.
func main() {
	loader.Boot(imageHandle, systemTable)
}
