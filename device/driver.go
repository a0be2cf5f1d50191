package device

import (
	"orrery/kernel"
	"io"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. Log output describing the
	// outcome of the initialization should be written to w.
	DriverInit(w io.Writer) *kernel.Error
}

// DetectOrder specifies the relative order in which the HAL should probe a
// registered driver. Drivers that depend on another driver having already
// been initialized (e.g. the APIC driver depends on the ACPI tables) use an
// order value relative to that dependency's order constant.
type DetectOrder int

const (
	// DetectOrderEarly is used by drivers that need to run before anything
	// else (e.g. a framebuffer console so panic output has somewhere to
	// go).
	DetectOrderEarly DetectOrder = iota

	// DetectOrderBeforeACPI is used by drivers that must complete before
	// the ACPI driver runs (e.g. locating the RSDP).
	DetectOrderBeforeACPI

	// DetectOrderACPI is used by the ACPI driver itself.
	DetectOrderACPI

	// DetectOrderAfterACPI is used by drivers that consume ACPI tables
	// (e.g. the LAPIC/IOAPIC driver reading the MADT).
	DetectOrderAfterACPI

	// DetectOrderLast is used by drivers that must probe after every
	// other driver has had a chance to register itself.
	DetectOrderLast
)

// Probe is a function that attempts to detect a particular hardware device.
// It returns a Driver instance if detection succeeds or nil otherwise.
type Probe func() Driver

// DriverInfo describes a registered driver detector.
type DriverInfo struct {
	// Order specifies when this driver should be probed relative to the
	// other registered drivers.
	Order DetectOrder

	// Probe is invoked by the HAL to detect and instantiate the driver.
	Probe Probe
}

// DriverInfoList implements sort.Interface so that a list of DriverInfo
// entries can be sorted by their detection order.
type DriverInfoList []*DriverInfo

// Len implements sort.Interface.
func (l DriverInfoList) Len() int { return len(l) }

// Less implements sort.Interface.
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }

// Swap implements sort.Interface.
func (l DriverInfoList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }

// registeredDrivers tracks the drivers registered via RegisterDriver. It is
// populated by package init() functions before DetectHardware runs.
var registeredDrivers []*DriverInfo

// RegisterDriver adds info to the list of drivers that DetectHardware will
// probe. It is typically called from a driver package's init() function.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns the list of currently registered drivers.
func DriverList() DriverInfoList {
	return DriverInfoList(registeredDrivers)
}
