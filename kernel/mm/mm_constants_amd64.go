package mm

// The amd64 MMU translates in fixed 4 KiB granules. Address/frame
// conversions throughout the kernel shift by PageShift rather than
// dividing, so the two constants are defined in terms of each other.
const (
	// PageShift is log2(PageSize).
	PageShift = uintptr(12)

	// PageSize is the size in bytes of a virtual page or physical frame.
	PageSize = uintptr(1) << PageShift
)
