package tty

import (
	"orrery/device"
	"orrery/device/video/console"
	"orrery/kernel"
	"io"
)

// VT is a virtual terminal with scrollback. It understands four control
// bytes — \r, \n, \b and \t (expanded to tabWidth spaces) — and treats
// everything else as printable. Output accumulates in an off-screen cell
// buffer taller than the console; the visible viewport slides down the
// buffer as lines are emitted, which is what makes scrollback possible.
type VT struct {
	cons console.Device

	// termWidth/termHeight measure the whole cell buffer, viewport* the
	// visible window into it.
	termWidth      uint32
	termHeight     uint32
	viewportWidth  uint32
	viewportHeight uint32

	// scrollback is how many extra buffer lines exist beyond the
	// viewport.
	scrollback uint32

	// data holds the cell buffer as (character, fg, bg) byte triplets,
	// row-major.
	data []uint8

	tabWidth         uint8
	defaultFg, curFg uint8
	defaultBg, curBg uint8

	// cursorX/cursorY are 1-based viewport coordinates; viewportY is the
	// buffer row the viewport currently starts at; dataOffset caches the
	// buffer index of the cell under the cursor.
	cursorX    uint32
	cursorY    uint32
	viewportY  uint32
	dataOffset uint
	state      State
}

// NewVT creates a detached virtual terminal. tabWidth controls tab
// expansion; scrollback is the number of off-screen lines retained beyond
// the console height.
func NewVT(tabWidth uint8, scrollback uint32) *VT {
	return &VT{
		tabWidth:   tabWidth,
		scrollback: scrollback,
		cursorX:    1,
		cursorY:    1,
	}
}

// AttachTo sizes the terminal against cons and clears its cell buffer to
// the console's default colors. The terminal is unusable until attached.
func (t *VT) AttachTo(cons console.Device) {
	if cons == nil {
		return
	}

	t.cons = cons
	t.viewportWidth, t.viewportHeight = cons.Dimensions(console.Characters)
	t.viewportY = 0
	t.defaultFg, t.defaultBg = cons.DefaultColors()
	t.curFg, t.curBg = t.defaultFg, t.defaultBg
	t.termWidth, t.termHeight = t.viewportWidth, t.viewportHeight+t.scrollback
	t.cursorX, t.cursorY = 1, 1

	t.data = make([]uint8, t.termWidth*t.termHeight*3)
	for i := 0; i < len(t.data); i += 3 {
		t.data[i] = ' '
		t.data[i+1] = t.defaultFg
		t.data[i+2] = t.defaultBg
	}
}

// State reports whether the terminal currently syncs to its console.
func (t *VT) State() State {
	return t.state
}

// SetState activates or deactivates console syncing. Activation repaints
// the viewport from the cell buffer, bringing the console in line with
// whatever was written while inactive.
func (t *VT) SetState(newState State) {
	if t.state == newState {
		return
	}

	t.state = newState

	if t.state == StateActive && t.cons != nil {
		for y := uint32(1); y <= t.viewportHeight; y++ {
			offset := (y - 1 + t.viewportY) * (t.viewportWidth * 3)
			for x := uint32(1); x <= t.viewportWidth; x, offset = x+1, offset+3 {
				t.cons.Write(t.data[offset], t.data[offset+1], t.data[offset+2], x, y)
			}
		}
	}
}

// CursorPosition returns the 1-based cursor coordinates.
func (t *VT) CursorPosition() (uint32, uint32) {
	return t.cursorX, t.cursorY
}

// SetCursorPosition moves the cursor, clipping to the viewport.
func (t *VT) SetCursorPosition(x, y uint32) {
	if t.cons == nil {
		return
	}

	if x < 1 {
		x = 1
	} else if x > t.viewportWidth {
		x = t.viewportWidth
	}

	if y < 1 {
		y = 1
	} else if y > t.viewportHeight {
		y = t.viewportHeight
	}

	t.cursorX, t.cursorY = x, y
	t.updateDataOffset()
}

// Write implements io.Writer.
func (t *VT) Write(data []byte) (int, error) {
	for count, b := range data {
		err := t.WriteByte(b)
		if err != nil {
			return count, err
		}
	}

	return len(data), nil
}

// WriteByte implements io.ByteWriter. Writes to a detached terminal fail.
func (t *VT) WriteByte(b byte) error {
	if t.cons == nil {
		return io.ErrClosedPipe
	}

	switch b {
	case '\r':
		t.cr()
	case '\n':
		t.lf(true)
	case '\b':
		if t.cursorX > 1 {
			t.SetCursorPosition(t.cursorX-1, t.cursorY)
			t.doWrite(' ', false)
		}
	case '\t':
		for i := uint8(0); i < t.tabWidth; i++ {
			t.doWrite(' ', true)
		}
	default:
		t.doWrite(b, true)
	}

	return nil
}

// doWrite stores b with the current colors at the cursor's cell, mirrors
// it to the console when active, and optionally advances the cursor,
// wrapping to a new line at the viewport's right edge.
func (t *VT) doWrite(b byte, advanceCursor bool) {
	if t.state == StateActive {
		t.cons.Write(b, t.curFg, t.curBg, t.cursorX, t.cursorY)
	}

	t.data[t.dataOffset] = b
	t.data[t.dataOffset+1] = t.curFg
	t.data[t.dataOffset+2] = t.curBg

	if advanceCursor {
		t.dataOffset += 3
		t.cursorX++
		if t.cursorX > t.viewportWidth {
			t.lf(true)
		}
	}
}

// cr returns the cursor to column 1.
func (t *VT) cr() {
	t.cursorX = 1
	t.updateDataOffset()
}

// lf moves the cursor one line down (with an implied carriage return when
// withCR is set). At the bottom of the viewport it first slides the
// viewport further into the buffer; once the buffer itself is exhausted it
// scrolls the buffer contents up a line instead.
func (t *VT) lf(withCR bool) {
	if withCR {
		t.cursorX = 1
	}

	switch {
	case t.cursorY+1 <= t.viewportHeight:
		t.cursorY++
	default:
		if t.viewportY+t.viewportHeight < t.termHeight {
			t.viewportY++
		} else {
			t.scrollUp()
		}

		if t.state == StateActive {
			t.cons.Scroll(console.ScrollDirUp, 1)
			t.cons.Fill(1, t.cursorY, t.termWidth, 1, t.defaultFg, t.defaultBg)
		}
	}

	t.updateDataOffset()
}

// scrollUp drops the buffer's top visible line, shifting everything below
// it up one row and clearing the freed bottom line.
func (t *VT) scrollUp() {
	var (
		stride      = int(t.viewportWidth * 3)
		startOffset = int(t.viewportY) * stride
		endOffset   = int(t.viewportY+t.viewportHeight-1) * stride
	)

	for offset := startOffset; offset < endOffset; offset++ {
		t.data[offset] = t.data[offset+stride]
	}

	for offset := endOffset; offset < endOffset+stride; offset += 3 {
		t.data[offset+0] = ' '
		t.data[offset+1] = t.defaultFg
		t.data[offset+2] = t.defaultBg
	}
}

// updateDataOffset re-derives the buffer index of the cell under the
// cursor from the cursor and viewport positions.
func (t *VT) updateDataOffset() {
	t.dataOffset = uint((t.viewportY+(t.cursorY-1))*(t.viewportWidth*3) + ((t.cursorX - 1) * 3))
}

// DriverName returns the name of this driver.
func (t *VT) DriverName() string {
	return "vt"
}

// DriverVersion returns the version of this driver.
func (t *VT) DriverVersion() (uint16, uint16, uint16) {
	return 0, 0, 1
}

// DriverInit initializes this driver.
func (t *VT) DriverInit(_ io.Writer) *kernel.Error { return nil }

func probeForVT() device.Driver {
	return NewVT(DefaultTabWidth, DefaultScrollback)
}

func init() {
	// Probed in the same early tier as the console so log output reaches
	// the screen before the ACPI/APIC drivers start reporting.
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderEarly,
		Probe: probeForVT,
	})
}
