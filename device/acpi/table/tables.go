// Package table defines the in-memory layout of the ACPI structures this
// kernel consumes: the RSDP entry point, the common system descriptor
// header shared by every table, the MADT (interrupt controller inventory)
// and the FADT (which the driver only reads to locate the DSDT). Every
// struct mirrors the byte layout mandated by the ACPI specification — the
// driver casts firmware-owned memory straight onto these types — so field
// order and width are fixed; only Go-side conveniences (embedding, methods)
// differ from the raw wire format description.
package table

// Resolver locates a mapped ACPI table by its 4-character signature.
// LookupTable returns a pointer to the table's standard header, or nil if
// no table with that signature was enumerated; implementations guarantee
// the full table contents behind a non-nil header are mapped.
type Resolver interface {
	LookupTable(string) *SDTHeader
}

// SDTHeader opens every ACPI system descriptor table.
type SDTHeader struct {
	// Signature identifies the table type ("APIC" for the MADT, "FACP"
	// for the FADT, and so on).
	Signature [4]byte

	// Length covers the whole table, header included.
	Length uint32

	Revision uint8

	// Checksum makes every byte of the table, summed as uint8, come out
	// to zero.
	Checksum uint8

	OEMID       [6]byte
	OEMTableID  [8]byte
	OEMRevision uint32

	CreatorID       uint32
	CreatorRevision uint32
}

// RSDPDescriptor is the ACPI 1.0 root system description pointer, the
// structure whose physical address the loader digs out of the UEFI
// configuration table.
type RSDPDescriptor struct {
	// Signature always reads "RSD PTR " (note the trailing space).
	Signature [8]byte

	// Checksum zeroes the uint8 sum of the ACPI 1.0 portion only.
	Checksum uint8

	OEMID [6]byte

	// Revision is 0 for ACPI 1.0 and 2 for every later revision.
	Revision uint8

	// RSDTAddr is the 32-bit physical address of the RSDT.
	RSDTAddr uint32
}

// ExtRSDPDescriptor is the ACPI 2.0+ form of the RSDP: the 1.0 fields
// followed by a 64-bit XSDT pointer and a checksum over the whole
// descriptor.
type ExtRSDPDescriptor struct {
	RSDPDescriptor

	// Length of the entire descriptor.
	Length uint32

	// XSDTAddr is the 64-bit physical address of the XSDT.
	XSDTAddr uint64

	// ExtendedChecksum zeroes the uint8 sum of the full descriptor.
	ExtendedChecksum uint8

	reserved [3]byte
}

// MADT is the multiple APIC description table: the LAPIC's physical base
// followed by a sequence of variable-length records describing the
// machine's interrupt controllers.
type MADT struct {
	SDTHeader

	LocalControllerAddress uint32
	Flags                  uint32
}

// MADTEntryType keys the variable-length records that follow the MADT
// header.
type MADTEntryType uint8

const (
	MADTEntryTypeLocalAPIC MADTEntryType = iota
	MADTEntryTypeIOAPIC
	MADTEntryTypeIntSrcOverride
	MADTEntryTypeNMI
)

// MADTEntry is the 2-byte record header every MADT entry starts with. A
// consumer walks the record sequence by striding Length bytes at a time,
// checking Type before casting the record onto one of the concrete entry
// types below (each of which embeds this header, so the cast happens at
// the record's first byte).
type MADTEntry struct {
	Type   MADTEntryType
	Length uint8
}

// MADTEntryLocalAPIC (type 0) describes one processor and its local APIC.
type MADTEntryLocalAPIC struct {
	MADTEntry

	ProcessorID uint8
	APICID      uint8
	Flags       uint32
}

// MADTEntryIOAPIC (type 1) describes an I/O APIC.
type MADTEntryIOAPIC struct {
	MADTEntry

	APICID   uint8
	reserved uint8

	// Address is the controller's MMIO base.
	Address uint32

	// SysInterruptBase is the first global system interrupt this
	// controller routes.
	SysInterruptBase uint32
}

// MADTEntryInterruptSrcOverride (type 2) maps a legacy ISA IRQ to the
// global system interrupt it actually signals.
type MADTEntryInterruptSrcOverride struct {
	MADTEntry

	BusSrc          uint8
	IRQSrc          uint8
	GlobalInterrupt uint32

	// Flags is stored as raw bytes, the same as the NMI record's flags;
	// here the uint16 sits at the even offset 8, right after
	// GlobalInterrupt.
	Flags [2]byte
}

// MADTEntryNMI (type 3) describes a non-maskable interrupt line wired to
// one (or, with Processor == 0xff, every) local APIC.
type MADTEntryNMI struct {
	MADTEntry

	Processor uint8

	// Flags is stored as raw bytes: the record packs this uint16 at the
	// odd offset 3, which a Go uint16 field would round up past.
	Flags [2]byte

	// LINT selects which of the local APIC's two LINT inputs carries the
	// NMI.
	LINT uint8
}

// GenericAddress is the ACPI register-range descriptor used by the FADT's
// 64-bit extension block.
type GenericAddress struct {
	// Space selects the address space (0 = system memory, 1 = system
	// I/O, 2 = PCI configuration, ...).
	Space      uint8
	BitWidth   uint8
	BitOffset  uint8
	AccessSize uint8
	Address    uint64
}

// FADT64 holds the 64-bit pointer forms that ACPI 2.0+ appends to the
// FADT. The driver reads Dsdt from here whenever the RSDP revision says
// the firmware speaks ACPI 2.0 or later.
type FADT64 struct {
	FirmwareControl uint64

	Dsdt uint64

	PM1aEventBlock   GenericAddress
	PM1bEventBlock   GenericAddress
	PM1aControlBlock GenericAddress
	PM1bControlBlock GenericAddress
	PM2ControlBlock  GenericAddress
	PMTimerBlock     GenericAddress
	GPE0Block        GenericAddress
	GPE1Block        GenericAddress
}

// FADT is the fixed ACPI description table. This kernel performs no power
// management; the only field it consults is the DSDT pointer (Dsdt here,
// or Ext.Dsdt on ACPI 2.0+ firmware). The remaining fields exist so the
// struct spans the table's full fixed layout and the pointer fields land
// at their mandated offsets.
type FADT struct {
	SDTHeader

	FirmwareCtrl uint32
	Dsdt         uint32

	reserved uint8

	PreferredPowerManagementProfile uint8
	SCIInterrupt                    uint16
	SMICommandPort                  uint32
	AcpiEnable                      uint8
	AcpiDisable                     uint8
	S4BIOSReq                       uint8
	PSTATEControl                   uint8
	PM1aEventBlock                  uint32
	PM1bEventBlock                  uint32
	PM1aControlBlock                uint32
	PM1bControlBlock                uint32
	PM2ControlBlock                 uint32
	PMTimerBlock                    uint32
	GPE0Block                       uint32
	GPE1Block                       uint32
	PM1EventLength                  uint8
	PM1ControlLength                uint8
	PM2ControlLength                uint8
	PMTimerLength                   uint8
	GPE0Length                      uint8
	GPE1Length                      uint8
	GPE1Base                        uint8
	CStateControl                   uint8
	WorstC2Latency                  uint16
	WorstC3Latency                  uint16
	FlushSize                       uint16
	FlushStride                     uint16
	DutyOffset                      uint8
	DutyWidth                       uint8
	DayAlarm                        uint8
	MonthAlarm                      uint8
	Century                         uint8

	BootArchitectureFlags uint16

	reserved2 uint8
	Flags     uint32

	ResetReg GenericAddress

	ResetValue uint8
	reserved3  [3]uint8

	Ext FADT64
}
