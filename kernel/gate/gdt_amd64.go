package gate

import "unsafe"

// SegmentSelector identifies a GDT entry by its byte offset.
type SegmentSelector uint16

// The fixed selector layout used by this kernel: null, 64-bit kernel code,
// kernel data, and a 16-byte TSS descriptor occupying the last two slots.
const (
	NullSelector       SegmentSelector = 0x00
	KernelCodeSelector SegmentSelector = 0x08
	KernelDataSelector SegmentSelector = 0x10
	tssSelector        SegmentSelector = 0x18
)

// gdtEntryCount counts 8-byte descriptor slots: null, code, data, plus two
// slots for the TSS descriptor (its 64-bit base no longer fits in a single
// legacy 8-byte descriptor).
const gdtEntryCount = 5

// descriptor bit positions shared by code/data segment descriptors.
const (
	descAccessed   uint64 = 1 << 40
	descReadWrite  uint64 = 1 << 41
	descExecutable uint64 = 1 << 43
	descCodeData   uint64 = 1 << 44
	descPresent    uint64 = 1 << 47
	descLongMode   uint64 = 1 << 53
)

// tssDescType marks the low 4 type bits of a TSS descriptor as "available
// 64-bit TSS" (0x9).
const tssDescType uint64 = 0x9

func kernelCodeDescriptor() uint64 {
	return descPresent | descCodeData | descExecutable | descReadWrite | descLongMode | descAccessed
}

func kernelDataDescriptor() uint64 {
	return descPresent | descCodeData | descReadWrite | descAccessed
}

// doubleFaultStackSize backs TSS.IST[0]; it must be large enough that
// a double-fault handler can run (and log) without re-faulting.
const doubleFaultStackSize = 20 * 1024

// TSS is the x86_64 task state segment. This kernel performs no hardware
// task switches; the only fields that matter are the IST stack pointers,
// which let specific interrupt gates run on a dedicated stack regardless of
// what the interrupted code's own stack looks like.
type TSS struct {
	reserved0 uint32
	RSP       [3]uint64
	reserved1 uint64
	IST       [7]uint64
	reserved2 uint64
	reserved3 uint16
	IOMapBase uint16
}

var (
	doubleFaultStack [doubleFaultStackSize]byte

	gdt [gdtEntryCount]uint64
	tss TSS
)

// tssDescriptor splits a TSS's base address and limit across the two GDT
// slots a 64-bit system-segment descriptor occupies.
func tssDescriptor(addr uintptr, limit uint32) (lo, hi uint64) {
	base := uint64(addr)

	lo = uint64(limit&0xffff) |
		((base & 0xffffff) << 16) |
		(tssDescType << 40) |
		descPresent |
		(((base >> 24) & 0xff) << 56)

	hi = base >> 32

	return lo, hi
}

// InitGDT builds the GDT (null, kernel code, kernel data, TSS) and the
// TSS's IST[0] double-fault stack, then loads them onto the CPU. CS is
// reloaded through a far-return trampoline and DS/ES/SS through the data
// selector; both are implemented by loadSegmentSelectors in assembly since
// Go cannot express a far jump or segment register load directly.
func InitGDT() {
	tss.IST[0] = uint64(uintptr(unsafe.Pointer(&doubleFaultStack[doubleFaultStackSize-1])))

	gdt[0] = 0
	gdt[1] = kernelCodeDescriptor()
	gdt[2] = kernelDataDescriptor()
	gdt[3], gdt[4] = tssDescriptor(uintptr(unsafe.Pointer(&tss)), uint32(unsafe.Sizeof(tss)-1))

	loadGDT(uintptr(unsafe.Pointer(&gdt[0])), uint16(len(gdt)*8-1))
	loadSegmentSelectors(uint16(KernelCodeSelector), uint16(KernelDataSelector))
	loadTSS(uint16(tssSelector))
}

// loadGDT populates the GDTR with the table at addr (limit bytes long,
// entries - 1 per the Intel convention) via lgdt.
func loadGDT(addr uintptr, limit uint16)

// loadSegmentSelectors reloads CS via a far-return trampoline and
// DS/ES/SS with the data selector.
func loadSegmentSelectors(codeSel, dataSel uint16)

// loadTSS loads the task register with the TSS selector via ltr.
func loadTSS(sel uint16)
