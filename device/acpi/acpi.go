package acpi

import (
	"orrery/device"
	"orrery/device/acpi/table"
	"orrery/kernel"
	"orrery/kernel/bootinfo"
	"orrery/kernel/kfmt"
	"orrery/kernel/mm"
	"orrery/kernel/mm/vmm"
	"io"
	"unsafe"
)

const (
	acpiRev1     uint8 = 0
	acpiRev2Plus uint8 = 2
)

var (
	errMissingRSDP           = &kernel.Error{Module: "acpi", Message: "could not locate ACPI RSDP"}
	errTableChecksumMismatch = &kernel.Error{Module: "acpi", Message: "detected checksum mismatch while parsing ACPI table header"}

	identityMapFn = vmm.IdentityMapRegion
	unmapFn       = vmm.Unmap

	rsdpAddrFn = func() uintptr { return uintptr(bootinfo.Active().RSDPAddr) }

	rsdpSignature = [8]byte{'R', 'S', 'D', ' ', 'P', 'T', 'R', ' '}
	fadtSignature = "FACP"
	madtSignature = "APIC"
)

type acpiDriver struct {
	// rsdtAddr holds the address to the root system descriptor table.
	rsdtAddr uintptr

	// useXSDT specifies if the driver must use the XSDT or the RSDT table.
	useXSDT bool

	// The ACPI table map allows the driver to lookup an ACPI table header
	// by the table name. All tables included in this map are mapped into
	// memory.
	tableMap map[string]*table.SDTHeader
}

// activeDriver is set once DriverInit succeeds and backs Active(), letting
// drivers probed after ACPI (LAPIC, IOAPIC, RTC) look up MADT/FADT entries
// without re-walking the table chain themselves.
var activeDriver *acpiDriver

// Active returns the resolver for the initialized ACPI driver, or nil if
// ACPI was never detected or failed to initialize.
func Active() table.Resolver {
	if activeDriver == nil {
		return nil
	}
	return activeDriver
}

// LookupTable returns the header for the table with the given signature
// (e.g. "APIC" for the MADT, "FACP" for the FADT), or nil if it was not
// found among the enumerated ACPI tables.
func (drv *acpiDriver) LookupTable(signature string) *table.SDTHeader {
	return drv.tableMap[signature]
}

// DriverInit initializes this driver.
func (drv *acpiDriver) DriverInit(w io.Writer) *kernel.Error {
	if err := drv.enumerateTables(w); err != nil {
		return err
	}

	drv.printTableInfo(w)
	activeDriver = drv

	return nil
}

// DriverName returns the name of this driver.
func (*acpiDriver) DriverName() string {
	return "ACPI"
}

// DriverVersion returns the version of this driver.
func (*acpiDriver) DriverVersion() (uint16, uint16, uint16) {
	return 0, 0, 1
}

func (drv *acpiDriver) printTableInfo(w io.Writer) {
	for name, header := range drv.tableMap {
		kfmt.Fprintf(w, "%s at 0x%16x %6x (%6s %8s)\n",
			name,
			uintptr(unsafe.Pointer(header)),
			header.Length,
			string(header.OEMID[:]),
			string(header.OEMTableID[:]),
		)
	}
}

// enumerateTables detects and maps all ACPI tables that are present. Besides
// the table list defined by the RSDP, this method will also peek into the
// FADT (if found) looking for the address of DSDT.
func (drv *acpiDriver) enumerateTables(w io.Writer) *kernel.Error {
	header, sizeofHeader, err := mapACPITable(drv.rsdtAddr)
	if err != nil {
		return err
	}

	drv.tableMap = make(map[string]*table.SDTHeader)

	var (
		acpiRev      = header.Revision
		payloadLen   = header.Length - uint32(sizeofHeader)
		sdtAddresses []uintptr
	)

	// RSDT uses 4-byte long pointers whereas the XSDT uses 8-byte long.
	switch drv.useXSDT {
	case true:
		sdtAddresses = make([]uintptr, payloadLen>>3)
		for curPtr, i := drv.rsdtAddr+sizeofHeader, 0; i < len(sdtAddresses); curPtr, i = curPtr+8, i+1 {
			sdtAddresses[i] = uintptr(*(*uint64)(unsafe.Pointer(curPtr)))
		}
	default:
		sdtAddresses = make([]uintptr, payloadLen>>2)
		for curPtr, i := drv.rsdtAddr+sizeofHeader, 0; i < len(sdtAddresses); curPtr, i = curPtr+4, i+1 {
			sdtAddresses[i] = uintptr(*(*uint32)(unsafe.Pointer(curPtr)))
		}
	}

	for _, addr := range sdtAddresses {
		if header, _, err = mapACPITable(addr); err != nil {
			switch err {
			case errTableChecksumMismatch:
				kfmt.Fprintf(w, "%s at 0x%16x %6x [checksum mismatch; skipping]\n",
					string(header.Signature[:]),
					uintptr(unsafe.Pointer(header)),
					header.Length,
				)
				continue
			default:
				return err
			}
		}

		signature := string(header.Signature[:])
		drv.tableMap[signature] = header

		// The FADT allows us to lookup the DSDT table address
		if signature == fadtSignature {
			fadt := (*table.FADT)(unsafe.Pointer(header))

			dsdtAddr := uintptr(fadt.Dsdt)
			if acpiRev >= acpiRev2Plus {
				dsdtAddr = uintptr(fadt.Ext.Dsdt)
			}

			if header, _, err = mapACPITable(dsdtAddr); err != nil {
				switch err {
				case errTableChecksumMismatch:
					kfmt.Fprintf(w, "%s at 0x%16x %6x [checksum mismatch; skipping]\n",
						string(header.Signature[:]),
						uintptr(unsafe.Pointer(header)),
						header.Length,
					)
					continue
				default:
					return err
				}
			}

			drv.tableMap[string(header.Signature[:])] = header
		}

	}

	return nil
}

// mapACPITable attempts to map and parse the header for the ACPI table starting
// at the given address. It then uses the length field for the header to expand
// the mapping to cover the table contents and verifies the checksum before
// returning a pointer to the table header.
func mapACPITable(tableAddr uintptr) (header *table.SDTHeader, sizeofHeader uintptr, err *kernel.Error) {
	var headerPage mm.Page

	// Identity-map the table header so we can access its length field
	sizeofHeader = unsafe.Sizeof(table.SDTHeader{})
	if headerPage, err = identityMapFn(mm.FrameFromAddress(tableAddr), sizeofHeader, vmm.FlagPresent); err != nil {
		return nil, sizeofHeader, err
	}

	// Expand mapping to cover the table contents
	headerPageAddr := headerPage.Address() + vmm.PageOffset(tableAddr)
	header = (*table.SDTHeader)(unsafe.Pointer(headerPageAddr))
	if _, err = identityMapFn(mm.FrameFromAddress(tableAddr), uintptr(header.Length), vmm.FlagPresent); err != nil {
		return nil, sizeofHeader, err
	}

	if !validTable(headerPageAddr, header.Length) {
		err = errTableChecksumMismatch
	}

	return header, sizeofHeader, err
}

// locateRSDT reads the RSDP physical address the UEFI loader located while
// boot services were still available (see kernel/bootinfo.BootInfo.RSDPAddr)
// and validates it. If the RSDP is valid, locateRSDT returns the physical
// address of the root system descriptor table (RSDT) or the extended system
// descriptor table (XSDT) if the system supports ACPI 2.0+.
func locateRSDT() (uintptr, bool, *kernel.Error) {
	rsdpAddr := rsdpAddrFn()
	if rsdpAddr == 0 {
		return 0, false, errMissingRSDP
	}

	sizeofExtRSDP := unsafe.Sizeof(table.ExtRSDPDescriptor{})
	rsdpPage, err := identityMapFn(mm.FrameFromAddress(rsdpAddr), sizeofExtRSDP, vmm.FlagPresent)
	if err != nil {
		return 0, false, err
	}
	defer unmapFn(mm.PageFromAddress(rsdpPage.Address()))

	rsdpPtr := rsdpPage.Address() + vmm.PageOffset(rsdpAddr)

	rsdp := (*table.RSDPDescriptor)(unsafe.Pointer(rsdpPtr))
	for i, b := range rsdpSignature {
		if rsdp.Signature[i] != b {
			return 0, false, errMissingRSDP
		}
	}

	if rsdp.Revision == acpiRev1 {
		if !validTable(rsdpPtr, uint32(unsafe.Sizeof(*rsdp))) {
			return 0, false, errTableChecksumMismatch
		}

		return uintptr(rsdp.RSDTAddr), false, nil
	}

	// ACPI revision > 1: the extended RSDP overlaps the same memory and
	// additionally carries the XSDT pointer and its own checksum. The v1
	// checksum must hold over the v1 prefix and the extended checksum over
	// the whole descriptor.
	// The descriptor ends after ExtendedChecksum and its 3 reserved bytes
	// (36 bytes); unsafe.Sizeof would add Go's trailing alignment padding.
	rsdp2 := (*table.ExtRSDPDescriptor)(unsafe.Pointer(rsdpPtr))
	rsdp2Len := uint32(unsafe.Offsetof(rsdp2.ExtendedChecksum)) + 4
	if !validTable(rsdpPtr, uint32(unsafe.Sizeof(*rsdp))) || !validTable(rsdpPtr, rsdp2Len) {
		return 0, false, errTableChecksumMismatch
	}

	return uintptr(rsdp2.XSDTAddr), true, nil
}

// validTable calculates the checksum for an ACPI table of length tableLength
// that starts at tablePtr and returns true if the table is valid.
func validTable(tablePtr uintptr, tableLength uint32) bool {
	var (
		i   uint32
		sum uint8
	)

	for i = 0; i < tableLength; i++ {
		sum += *(*uint8)(unsafe.Pointer(tablePtr + uintptr(i)))
	}

	return sum == 0
}

func probeForACPI() device.Driver {
	if rsdtAddr, useXSDT, err := locateRSDT(); err == nil {
		return &acpiDriver{
			rsdtAddr: rsdtAddr,
			useXSDT:  useXSDT,
		}
	}

	return nil
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderACPI,
		Probe: probeForACPI,
	})
}
