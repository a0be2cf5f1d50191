package console

import (
	"orrery/device/video/console/font"
	"image/color"
)

// ScrollDir names a direction for Device.Scroll.
type ScrollDir uint8

const (
	ScrollDirUp ScrollDir = iota
	ScrollDirDown
)

// Dimension selects the unit Device.Dimensions reports in.
type Dimension uint8

const (
	// Characters measures the console in text cells, which depends on
	// the active font.
	Characters Dimension = iota

	// Pixels measures the console's framebuffer resolution.
	Pixels
)

// Device is a rectangular text console addressed in 1-based cell
// coordinates (the top-left cell is 1,1), with an indexed color palette.
type Device interface {
	// Dimensions returns the console's width and height in the requested
	// unit.
	Dimensions(Dimension) (uint32, uint32)

	// DefaultColors returns the console's default foreground and
	// background color indices.
	DefaultColors() (fg, bg uint8)

	// Fill floods the given cell rectangle with the background color.
	Fill(x, y, width, height uint32, fg, bg uint8)

	// Scroll shifts the console contents by the given number of lines.
	// The vacated region keeps its old contents; the caller clears or
	// overwrites it.
	Scroll(dir ScrollDir, lines uint32)

	// Write draws one character cell.
	Write(ch byte, fg, bg uint8, x, y uint32)

	// Palette returns the console's active color palette.
	Palette() color.Palette

	// SetPaletteColor redefines one palette entry; indices beyond the
	// supported palette are ignored.
	SetPaletteColor(uint8, color.RGBA)
}

// FontSetter is implemented by consoles that render through a loadable
// bitmap font.
type FontSetter interface {
	// SetFont selects the font used for subsequent drawing.
	SetFont(*font.Font)
}
