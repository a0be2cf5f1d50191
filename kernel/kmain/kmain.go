// Package kmain assembles the kernel's post-boot bring-up sequence: it is
// the only package cmd/kernel imports, keeping the rt0 trampoline and the
// real entry point in separate packages.
package kmain

import (
	"orrery/device/apic"
	"orrery/kernel"
	"orrery/kernel/bootinfo"
	"orrery/kernel/cpu"
	"orrery/kernel/gate"
	"orrery/kernel/goruntime"
	"orrery/kernel/hal"
	"orrery/kernel/heap"
	"orrery/kernel/kfmt"
	"orrery/kernel/mm/pmm"
	"orrery/kernel/mm/vmm"
	"orrery/kernel/sched"
)

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

// Kmain is the kernel's entry point, invoked by cmd/kernel's main()
// trampoline with the BootInfo pointer the loader placed in the first
// argument register. It is never expected to return.
//
//go:noinline
func Kmain(bi *bootinfo.BootInfo) {
	bootinfo.SetActive(bi)

	// From here on every Printf runs under the output lock with interrupts
	// disabled for the duration of the write.
	kfmt.SetInterruptGuard(cpu.SaveAndDisableInterrupts, cpu.RestoreFlags)

	gate.Init()

	var err *kernel.Error
	if err = pmm.Init(uintptr(bi.KernelImageStart), uintptr(bi.KernelImageEnd)); err != nil {
		kfmt.Panic(err)
	} else if err = vmm.Init(bootinfo.DirectMapOffset); err != nil {
		kfmt.Panic(err)
	} else if err = heap.Init(); err != nil {
		kfmt.Panic(err)
	} else if err = goruntime.Init(); err != nil {
		kfmt.Panic(err)
	}

	bootinfo.VisitActiveKernelSegments(func(seg *bootinfo.KernelSegment) bool {
		kfmt.Printf("kernel: segment 0x%16x size 0x%8x w=%t x=%t\n", seg.VirtAddr, seg.Size, seg.Writable, seg.Executable)
		return true
	})

	// DetectHardware probes console/tty first (so kfmt output reaches the
	// framebuffer from here on), then ACPI, then the APIC/IOAPIC driver
	// that replaces the PIC and calibrates the timer off the CMOS RTC.
	hal.DetectHardware()

	kfmt.Printf("kernel: bring-up complete, starting task executor\n")

	exec := sched.NewExecutor()
	if ctrl := apic.Active(); ctrl != nil {
		exec.Spawn(timerLoopTask(ctrl.Timers(), ctrl.Ticks()))
		exec.Spawn(keyboardEchoTask(ctrl.Keys()))
	} else {
		kfmt.Printf("kernel: no APIC controller detected, running without async input\n")
	}

	exec.Run()

	// Only reachable if a task called exec.Shutdown(). Use kfmt.Panic
	// instead of a bare panic so the compiler cannot treat this call (and
	// therefore Kmain's body) as dead code and eliminate it.
	kfmt.Panic(errKmainReturned)
}
