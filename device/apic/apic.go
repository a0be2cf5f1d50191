// Package apic detects and programs the local APIC and I/O APIC, replacing
// the legacy 8259 PIC that UEFI leaves enabled. It also calibrates the LAPIC
// timer against the CMOS RTC and routes the keyboard IRQ through the IOAPIC.
package apic

import (
	"orrery/device"
	"orrery/device/acpi"
	"orrery/device/acpi/table"
	"orrery/kernel"
	"orrery/kernel/cpu"
	"orrery/kernel/gate"
	"orrery/kernel/kfmt"
	"orrery/kernel/mm"
	"orrery/kernel/mm/vmm"
	"orrery/kernel/sched"
	"io"
	"unsafe"
)

const madtSignature = "APIC"

// LAPIC register offsets, expressed as 32-bit register indices (the actual
// MMIO byte offset is regIndex*4, per the Intel SDM's 16-byte-aligned
// register layout).
const (
	regID       = 0x20 / 4
	regEOI      = 0xB0 / 4
	regLDR      = 0xD0 / 4
	regDFR      = 0xE0 / 4
	regSpurious = 0xF0 / 4
	regTPR      = 0x80 / 4
	regLVTTimer = 0x320 / 4
	regLVTLINT0 = 0x350 / 4
	regLVTLINT1 = 0x360 / 4
	regLVTPerf  = 0x340 / 4
	regLVTError = 0x370 / 4
	regTimerDiv = 0x3E0 / 4
	regTimerInit = 0x380 / 4
	regTimerCurr = 0x390 / 4
)

const (
	lvtMasked        = 1 << 16
	lvtTimerPeriodic = 1 << 17
	lvtNMI           = 4 << 8

	apicBaseMSR       = 0x1B
	apicBaseMSREnable = 1 << 11

	timerDivideBy16 = 0x3

	spuriousEnable = 1 << 8

	// TimerVector and KeyboardVector are the interrupt gates this driver
	// installs; SpuriousVector must match the low byte programmed into
	// the spurious-interrupt register.
	TimerVector    = gate.InterruptNumber(32)
	KeyboardVector = gate.InterruptNumber(33)
	SpuriousVector = gate.InterruptNumber(39)

	// TimerFrequency is the rate (Hz) the LAPIC timer is calibrated to
	// fire at; kernel/sched.TimerFrequency must match this value.
	TimerFrequency = sched.TimerFrequency

	keyboardDataPort = 0x60

	pic1CommandPort = 0x20
	pic1DataPort    = 0x21
	pic2CommandPort = 0xA0
	pic2DataPort    = 0xA1

	ioRegSel = 0x00
	ioRegWin = 0x10

	ioapicRedirKeyboardLow  = 0x12
	ioapicRedirKeyboardHigh = 0x13
)

var (
	identityMapFn = vmm.IdentityMapRegion
	handleIntFn   = gate.HandleInterrupt
	rdmsrFn       = cpu.Rdmsr
	wrmsrFn       = cpu.Wrmsr
	portOutFn     = cpu.PortWriteByte
	portInFn      = cpu.PortReadByte
)

// Controller exposes the async streams fed by the APIC's timer and keyboard
// ISRs, letting kernel startup code spawn executor tasks against them once
// the driver has initialized.
type Controller interface {
	Timers() *sched.TimerTasksManager
	Ticks() *sched.TimerStream
	Keys() *sched.ScancodeStream
}

// active is set once DriverInit succeeds.
var active *controller

// Active returns the initialized APIC controller, or nil if it has not
// (yet) been detected and initialized.
func Active() Controller {
	if active == nil {
		return nil
	}
	return active
}

type controller struct {
	lapicBase   uintptr
	lapicRegs   *[0x400]uint32
	ioapicBase  uintptr
	ioapicRegs  *[2]uint32
	localAPICID uint8

	timers *sched.TimerTasksManager
	ticks  *sched.TimerStream
	keys   *sched.ScancodeStream
}

func (c *controller) Timers() *sched.TimerTasksManager { return c.timers }
func (c *controller) Ticks() *sched.TimerStream        { return c.ticks }
func (c *controller) Keys() *sched.ScancodeStream      { return c.keys }

func (c *controller) DriverName() string { return "APIC" }

func (c *controller) DriverVersion() (uint16, uint16, uint16) { return 0, 0, 1 }

func (c *controller) DriverInit(w io.Writer) *kernel.Error {
	maskPIC()

	if err := c.mapControllers(); err != nil {
		return err
	}

	c.initLAPIC()
	c.installHandlers()

	timerValue := c.calibrate()
	c.startPeriodicTimer(timerValue)
	c.routeKeyboard()

	kfmt.Fprintf(w, "lapic=0x%x ioapic=0x%x timer_value=%d\n", c.lapicBase, c.ioapicBase, timerValue)

	now := ReadTime()
	kfmt.Fprintf(w, "rtc time: %d-%d-%d %d:%d:%d UTC\n", now.Year, now.Month, now.Day, now.Hour, now.Minute, now.Second)

	cpu.EnableInterrupts()
	active = c

	return nil
}

func (c *controller) mapControllers() *kernel.Error {
	page, err := identityMapFn(mm.FrameFromAddress(c.lapicBase), 0x10_0000, vmm.FlagPresent|vmm.FlagRW)
	if err != nil {
		return err
	}
	c.lapicRegs = (*[0x400]uint32)(unsafe.Pointer(page.Address() + vmm.PageOffset(c.lapicBase)))

	page, err = identityMapFn(mm.FrameFromAddress(c.ioapicBase), mm.PageSize, vmm.FlagPresent|vmm.FlagRW)
	if err != nil {
		return err
	}
	c.ioapicRegs = (*[2]uint32)(unsafe.Pointer(page.Address() + vmm.PageOffset(c.ioapicBase)))

	return nil
}

func (c *controller) lapicRead(reg int) uint32     { return c.lapicRegs[reg] }
func (c *controller) lapicWrite(reg int, v uint32) { c.lapicRegs[reg] = v }

func (c *controller) initLAPIC() {
	c.lapicWrite(regDFR, 0xFFFF_FFFF)
	c.lapicWrite(regLDR, (c.lapicRead(regLDR)&0x00FF_FFFF)|0x0100_0000)
	c.lapicWrite(regLVTTimer, lvtMasked)
	c.lapicWrite(regLVTLINT0, lvtMasked)
	c.lapicWrite(regLVTLINT1, lvtMasked)
	c.lapicWrite(regLVTPerf, lvtNMI)
	c.lapicWrite(regTPR, 0)

	base := rdmsrFn(apicBaseMSR)
	wrmsrFn(apicBaseMSR, base|apicBaseMSREnable)

	c.lapicWrite(regSpurious, c.lapicRead(regSpurious)|spuriousEnable|uint32(SpuriousVector))

	c.localAPICID = uint8(c.lapicRead(regID) >> 24)
}

func (c *controller) installHandlers() {
	handleIntFn(TimerVector, 0, c.timerISR)
	handleIntFn(KeyboardVector, 0, c.keyboardISR)
	handleIntFn(SpuriousVector, 0, c.spuriousISR)
}

func (c *controller) sendEOI() { c.lapicWrite(regEOI, 0) }

// timerISR only raises the lock-free tick flag; decrementing sleep
// deadlines happens in the timer-loop task the kernel spawns against
// Ticks(), never in interrupt context.
func (c *controller) timerISR(_ *gate.Registers) {
	if c.ticks != nil && c.ticks.Signal() {
		kfmt.Printf("apic: missed timer tick\n")
	}
	c.sendEOI()
}

func (c *controller) keyboardISR(_ *gate.Registers) {
	code := portInFn(keyboardDataPort)
	if c.keys != nil {
		c.keys.Push(code)
	}
	c.sendEOI()
}

func (c *controller) spuriousISR(_ *gate.Registers) {
	// The spurious vector requires no EOI; acknowledging it would EOI a
	// vector the LAPIC never actually raised.
}

// calibrate programs the timer in one-shot mode 3 times, using the CMOS RTC
// second boundary as the reference clock, and returns the averaged tick
// count scaled down to TimerFrequency.
func (c *controller) calibrate() uint32 {
	c.lapicWrite(regTimerDiv, timerDivideBy16)

	var total uint64
	const samples = 3
	for i := 0; i < samples; i++ {
		waitForSecondChange()
		c.lapicWrite(regTimerInit, 0xFFFF_FFFF)
		waitForSecondChange()
		current := c.lapicRead(regTimerCurr)
		total += uint64(0xFFFF_FFFF - current)
	}

	ticksPerSecond := uint32(total / samples)
	timerValue := ticksPerSecond / TimerFrequency
	if timerValue == 0 {
		timerValue = 1
	}
	return timerValue
}

func (c *controller) startPeriodicTimer(timerValue uint32) {
	c.lapicWrite(regTimerInit, timerValue)
	c.lapicWrite(regLVTTimer, uint32(TimerVector)|lvtTimerPeriodic)
	c.lapicWrite(regTimerDiv, timerDivideBy16)
}

func (c *controller) ioapicRead(reg uint32) uint32 {
	c.ioapicRegs[ioRegSel/4] = reg
	return c.ioapicRegs[ioRegWin/4]
}

func (c *controller) ioapicWrite(reg, value uint32) {
	c.ioapicRegs[ioRegSel/4] = reg
	c.ioapicRegs[ioRegWin/4] = value
}

func (c *controller) routeKeyboard() {
	c.ioapicWrite(ioapicRedirKeyboardLow, uint32(KeyboardVector))
	c.ioapicWrite(ioapicRedirKeyboardHigh, uint32(c.localAPICID)<<24)
}

// maskPIC disables every legacy PIC interrupt line now that the APIC and
// IOAPIC own interrupt delivery.
func maskPIC() {
	portOutFn(pic1DataPort, 0xFF)
	portOutFn(pic2DataPort, 0xFF)
}

func parseMADT(header *table.SDTHeader) (lapicBase uintptr, ioapicBase uintptr, found bool) {
	madt := (*table.MADT)(unsafe.Pointer(header))
	lapicBase = uintptr(madt.LocalControllerAddress)

	entriesStart := uintptr(unsafe.Pointer(header)) + unsafe.Sizeof(table.MADT{})
	entriesEnd := uintptr(unsafe.Pointer(header)) + uintptr(header.Length)

	for ptr := entriesStart; ptr < entriesEnd; {
		entry := (*table.MADTEntry)(unsafe.Pointer(ptr))
		if entry.Length == 0 {
			break
		}

		switch entry.Type {
		case table.MADTEntryTypeIOAPIC:
			ioEntry := (*table.MADTEntryIOAPIC)(unsafe.Pointer(ptr))
			ioapicBase = uintptr(ioEntry.Address)
			found = true
		case table.MADTEntryTypeIntSrcOverride:
			// Overrides are not applied (the keyboard IRQ is routed
			// explicitly below); record them for diagnosis.
			override := (*table.MADTEntryInterruptSrcOverride)(unsafe.Pointer(ptr))
			kfmt.Printf("apic: interrupt source override: irq %d -> gsi %d\n", override.IRQSrc, override.GlobalInterrupt)
		}

		ptr += uintptr(entry.Length)
	}

	return lapicBase, ioapicBase, found
}

func probeForAPIC() device.Driver {
	resolver := acpi.Active()
	if resolver == nil {
		return nil
	}

	header := resolver.LookupTable(madtSignature)
	if header == nil {
		return nil
	}

	lapicBase, ioapicBase, found := parseMADT(header)
	if !found {
		return nil
	}

	return &controller{
		lapicBase:  lapicBase,
		ioapicBase: ioapicBase,
		timers:     sched.NewTimerTasksManager(),
		ticks:      sched.NewTimerStream(),
		keys:       sched.NewScancodeStream(),
	}
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderAfterACPI,
		Probe: probeForAPIC,
	})
}
