package tty

import (
	"orrery/device/video/console"
	"io"
)

const (
	// DefaultScrollback is the number of lines a terminal retains beyond
	// its visible viewport.
	DefaultScrollback = 80

	// DefaultTabWidth is the number of spaces a tab stop expands to.
	DefaultTabWidth = 4
)

// State tells a terminal whether its output should reach the console.
type State uint8

const (
	// StateInactive buffers writes without syncing them to the attached
	// console.
	StateInactive State = iota

	// StateActive buffers writes and mirrors them to the attached
	// console as they happen.
	StateActive
)

// Device is a terminal: a byte-oriented writer with a cursor, attachable
// to a console that renders its contents.
type Device interface {
	io.Writer
	io.ByteWriter

	// AttachTo connects the terminal to the console that will render it.
	AttachTo(console.Device)

	// State reports whether the terminal currently syncs to its console.
	State() State

	// SetState activates or deactivates console syncing. Activating a
	// terminal repaints its buffered contents.
	SetState(State)

	// CursorPosition returns the 1-based cursor coordinates (the
	// top-left cell is 1,1).
	CursorPosition() (uint32, uint32)

	// SetCursorPosition moves the cursor to the 1-based coordinates
	// (x,y), clipped to the terminal's viewport.
	SetCursorPosition(x, y uint32)
}
