// Package efi defines the subset of the UEFI specification's data layout
// that the loader needs to find the kernel file, set up a graphics mode,
// read the firmware memory map and exit boot services. It mirrors the
// structures described by the UEFI spec byte-for-byte (field order and
// width matter: these are read directly out of firmware-owned memory) and
// says nothing about how a hosted Go program would normally model a C ABI,
// because there is no host here — the loader IS the program the firmware
// calls.
package efi

import "unsafe"

// Status is the UEFI return code type. Zero is success; the high bit set
// indicates an error.
type Status uintptr

// StatusSuccess is returned by a UEFI call that completed normally.
const StatusSuccess Status = 0

// Guid is a 128-bit UEFI protocol/table identifier.
type Guid struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]uint8
}

// TableHeader is the common header shared by every UEFI table.
type TableHeader struct {
	Signature    uint64
	Revision     uint32
	HeaderSize   uint32
	CRC32        uint32
	Reserved     uint32
}

// ConfigurationTable associates a GUID with a vendor-specific table, such as
// the ACPI RSDP. SystemTable.ConfigurationTable is an array of these.
type ConfigurationTable struct {
	VendorGUID  Guid
	VendorTable unsafe.Pointer
}

// ACPI2TableGUID identifies the ACPI 2.0+ RSDP in the firmware's
// configuration table list. {8868E871-E4F1-11D3-BC22-0080C73C8881}
var ACPI2TableGUID = Guid{
	Data1: 0x8868e871,
	Data2: 0xe4f1,
	Data3: 0x11d3,
	Data4: [8]uint8{0xbc, 0x22, 0x00, 0x80, 0xc7, 0x3c, 0x88, 0x81},
}

// ACPITableGUID identifies the original ACPI 1.0 RSDP.
// {EB9D2D30-2D88-11D3-9A16-0090273FC14D}
var ACPITableGUID = Guid{
	Data1: 0xeb9d2d30,
	Data2: 0x2d88,
	Data3: 0x11d3,
	Data4: [8]uint8{0x9a, 0x16, 0x00, 0x90, 0x27, 0x3f, 0xc1, 0x4d},
}

// MemoryType classifies a MemoryDescriptor as reported by GetMemoryMap.
type MemoryType uint32

// Memory types defined by the UEFI specification that the loader's
// conversion table distinguishes between.
const (
	MemoryTypeReservedMemoryType MemoryType = iota
	MemoryTypeLoaderCode
	MemoryTypeLoaderData
	MemoryTypeBootServicesCode
	MemoryTypeBootServicesData
	MemoryTypeRuntimeServicesCode
	MemoryTypeRuntimeServicesData
	MemoryTypeConventionalMemory
	MemoryTypeUnusableMemory
	MemoryTypeACPIReclaimMemory
	MemoryTypeACPIMemoryNVS
	MemoryTypeMemoryMappedIO
	MemoryTypeMemoryMappedIOPortSpace
	MemoryTypePalCode
	MemoryTypePersistentMemory
)

// MemoryDescriptor is one entry of the firmware memory map returned by
// BootServices.GetMemoryMap. Entries are laid out back to back with a
// firmware-chosen DescriptorSize that may exceed sizeof(MemoryDescriptor);
// callers must stride by DescriptorSize, never sizeof(MemoryDescriptor).
type MemoryDescriptor struct {
	Type          MemoryType
	_             uint32 // padding to align PhysicalStart on amd64
	PhysicalStart uint64
	VirtualStart  uint64
	NumberOfPages uint64
	Attribute     uint64
}

// PixelFormat identifies the layout of a GOP framebuffer pixel.
type PixelFormat uint32

const (
	PixelRedGreenBlueReserved8BitPerColor PixelFormat = iota
	PixelBlueGreenRedReserved8BitPerColor
	PixelBitMask
	PixelBltOnly
)

// PixelBitmask describes channel layout when PixelFormat is PixelBitMask.
type PixelBitmask struct {
	RedMask       uint32
	GreenMask     uint32
	BlueMask      uint32
	ReservedMask  uint32
}

// GraphicsOutputModeInformation describes the active display mode.
type GraphicsOutputModeInformation struct {
	Version              uint32
	HorizontalResolution uint32
	VerticalResolution   uint32
	PixelFormat          PixelFormat
	PixelInformation     PixelBitmask
	PixelsPerScanLine    uint32
}

// GraphicsOutputProtocolMode wraps the current mode and framebuffer
// location; GraphicsOutputProtocol.Mode points at one of these.
type GraphicsOutputProtocolMode struct {
	MaxMode          uint32
	Mode             uint32
	Info             *GraphicsOutputModeInformation
	SizeOfInfo       uintptr
	FrameBufferBase  uintptr
	FrameBufferSize  uintptr
}

// GraphicsOutputProtocol is the GUID-addressed protocol the loader opens to
// obtain the linear framebuffer address and geometry before ExitBootServices.
type GraphicsOutputProtocol struct {
	QueryMode uintptr
	SetMode   uintptr
	Blt       uintptr
	Mode      *GraphicsOutputProtocolMode
}

// GraphicsOutputProtocolGUID identifies GraphicsOutputProtocol for
// LocateProtocol. {9042A9DE-23DC-4A38-96FB-7ADED080516A}
var GraphicsOutputProtocolGUID = Guid{
	Data1: 0x9042a9de,
	Data2: 0x23dc,
	Data3: 0x4a38,
	Data4: [8]uint8{0x96, 0xfb, 0x7a, 0xde, 0xd0, 0x80, 0x51, 0x6a},
}

// FileInfo describes a file opened through SimpleFileSystemProtocol; only
// the fields the loader reads (file size, used to size the load buffer)
// are modeled.
type FileInfo struct {
	Size       uint64
	FileSize   uint64
	PhysicalSize uint64
}

// FileProtocol is the per-file handle returned by
// SimpleFileSystemProtocol.OpenVolume / FileProtocol.Open.
type FileProtocol struct {
	Revision    uint64
	open        uintptr
	close       uintptr
	delete      uintptr
	read        uintptr
	write       uintptr
	getPosition uintptr
	setPosition uintptr
	getInfo     uintptr
	setInfo     uintptr
	flush       uintptr
}

// SimpleFileSystemProtocol is the GUID-addressed protocol the loader opens
// against the boot volume to read the kernel image.
type SimpleFileSystemProtocol struct {
	Revision   uint64
	openVolume uintptr
}

// SimpleFileSystemProtocolGUID identifies SimpleFileSystemProtocol.
// {964E5B22-6459-11D2-8E39-00A0C969723B}
var SimpleFileSystemProtocolGUID = Guid{
	Data1: 0x964e5b22,
	Data2: 0x6459,
	Data3: 0x11d2,
	Data4: [8]uint8{0x8e, 0x39, 0x00, 0xa0, 0xc9, 0x69, 0x72, 0x3b},
}

// AllocateType selects how BootServices.AllocatePages interprets Memory.
type AllocateType uint32

const (
	AllocateAnyPages AllocateType = iota
	AllocateMaxAddress
	AllocateAddress
)

// BootServices is the function table exposed while boot services are
// available. Every entry is the firmware-owned function pointer's raw
// address, kept unexported so callers go through the MS-ABI method wrappers
// in methods.go instead of CALLing a System-V Go function value at it.
type BootServices struct {
	Header TableHeader

	_ [2]uintptr // RaiseTPL, RestoreTPL: unused by this loader

	allocatePages uintptr
	freePages     uintptr
	getMemoryMap  uintptr
	allocatePool  uintptr
	freePool      uintptr

	_ [6]uintptr // event/timer services: unused by this loader

	_ [3]uintptr // InstallProtocolInterface family: unused

	handleProtocol            uintptr
	_                         uintptr // Reserved
	registerProtocolNotify    uintptr
	locateHandle              uintptr
	locateDevicePath          uintptr
	installConfigurationTable uintptr

	_ [4]uintptr // image/driver loading services: unused by this loader

	exitBootServices uintptr

	_ [2]uintptr // GetNextMonotonicCount, Stall

	setWatchdogTimer uintptr

	_ [2]uintptr // connect/disconnect controller: unused

	openProtocol  uintptr
	closeProtocol uintptr
	_             uintptr // OpenProtocolInformation

	_ [2]uintptr // Protocols{Per}Handle family: unused

	locateProtocol uintptr
}

// SimpleTextOutputProtocol is the console used for early diagnostic output
// while boot services are still available.
type SimpleTextOutputProtocol struct {
	reset             uintptr
	outputString      uintptr
	testString        uintptr
	queryMode         uintptr
	setMode           uintptr
	setAttribute      uintptr
	clearScreen       uintptr
	setCursorPosition uintptr
	enableCursor      uintptr
	mode              uintptr
}

// SystemTable is the root structure handed to the image entry point.
type SystemTable struct {
	Header                TableHeader
	FirmwareVendor         *uint16
	FirmwareRevision       uint32
	ConsoleInHandle        uintptr
	ConIn                  uintptr
	ConsoleOutHandle       uintptr
	ConOut                 *SimpleTextOutputProtocol
	StandardErrorHandle    uintptr
	StdErr                 *SimpleTextOutputProtocol
	RuntimeServices        uintptr
	BootServices           *BootServices
	NumberOfTableEntries   uintptr
	ConfigurationTable     *ConfigurationTable
}
