package heap

import (
	"orrery/kernel"
	"orrery/kernel/mm"
	"orrery/kernel/mm/vmm"
)

// Global is the kernel-wide instance backing Base..Base+Size. Init maps its
// storage and must run before any other package allocates through it. It is
// separate from the Go runtime's allocator: kernel/goruntime's sysAlloc/sysMap
// hooks take frames from mm.AllocFrame and map them with vmm.Map, and never
// call into Global. Global serves code that calls Alloc/Dealloc on it
// explicitly.
var Global Allocator

// Init maps the fixed HEAP_BASE..HEAP_BASE+HEAP_SIZE virtual range onto
// freshly allocated frames and prepares Global to serve allocations from it.
func Init() *kernel.Error {
	pageCount := Size >> mm.PageShift
	for i := uintptr(0); i < pageCount; i++ {
		frame, err := mm.AllocFrame()
		if err != nil {
			return err
		}

		page := mm.PageFromAddress(Base + i*mm.PageSize)
		if err := vmm.Map(page, frame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute); err != nil {
			return err
		}
	}

	Global.Init(Base, Size)
	return nil
}
