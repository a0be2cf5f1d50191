package apic

import (
	"orrery/device/acpi/table"
	"testing"
	"unsafe"
)

// buildMADT encodes a minimal MADT with one local APIC entry and one I/O
// APIC entry directly into a byte slice, mirroring the variable-length
// record layout described by the ACPI spec (and table.MADTEntry's doc
// comment). Each record starts with its own 2-byte header, so the entry
// structs can be laid straight over the record bytes.
func buildMADT(lapicBase uint32, ioapicBase uint32) []byte {
	headerLen := int(unsafe.Sizeof(table.MADT{}))
	localAPICEntryLen := int(unsafe.Sizeof(table.MADTEntryLocalAPIC{}))
	ioAPICEntryLen := int(unsafe.Sizeof(table.MADTEntryIOAPIC{}))

	buf := make([]byte, headerLen+localAPICEntryLen+ioAPICEntryLen)

	madt := (*table.MADT)(unsafe.Pointer(&buf[0]))
	madt.LocalControllerAddress = lapicBase
	madt.Length = uint32(len(buf))

	off := headerLen
	localEntry := (*table.MADTEntryLocalAPIC)(unsafe.Pointer(&buf[off]))
	localEntry.Type = table.MADTEntryTypeLocalAPIC
	localEntry.Length = uint8(localAPICEntryLen)
	off += localAPICEntryLen

	ioEntry := (*table.MADTEntryIOAPIC)(unsafe.Pointer(&buf[off]))
	ioEntry.Type = table.MADTEntryTypeIOAPIC
	ioEntry.Length = uint8(ioAPICEntryLen)
	ioEntry.Address = ioapicBase

	return buf
}

func TestParseMADT(t *testing.T) {
	buf := buildMADT(0xfee00000, 0xfec00000)
	header := (*table.SDTHeader)(unsafe.Pointer(&buf[0]))

	lapicBase, ioapicBase, found := parseMADT(header)
	if !found {
		t.Fatal("expected an I/O APIC entry to be found")
	}
	if lapicBase != 0xfee00000 {
		t.Errorf("expected LAPIC base 0xfee00000, got %#x", lapicBase)
	}
	if ioapicBase != 0xfec00000 {
		t.Errorf("expected I/O APIC base 0xfec00000, got %#x", ioapicBase)
	}
}

func TestParseMADTWithoutIOAPIC(t *testing.T) {
	headerLen := int(unsafe.Sizeof(table.MADT{}))
	buf := make([]byte, headerLen)
	madt := (*table.MADT)(unsafe.Pointer(&buf[0]))
	madt.LocalControllerAddress = 0xfee00000
	madt.Length = uint32(len(buf))

	header := (*table.SDTHeader)(unsafe.Pointer(&buf[0]))
	_, _, found := parseMADT(header)
	if found {
		t.Fatal("expected no I/O APIC entry to be found")
	}
}
