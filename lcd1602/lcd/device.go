// Package lcd defines the character display contract used by the renderer
// and its implementations: an HD44780 behind a PCF8574 I2C backpack, and a
// simulated display for hosts without the hardware.
//
// A Device is a write-only peripheral with a single cursor. Calls are
// synchronous, must be issued in program order, and a Device is not safe for
// concurrent use. Callers serialize access (see the display package).
package lcd

import "fmt"

// Display geometry. Only the 16x2 module is supported.
const (
	Cols = 16
	Rows = 2
)

// Glyph is a custom 5x8 character bitmap, one byte per row. Only the low
// five bits of each row are used by the controller.
type Glyph [8]byte

// Device is the set of primitive operations the renderer needs.
type Device interface {
	// Clear blanks the screen and homes the cursor to (0, 0).
	Clear() error
	// SetCursor moves the cursor. row is 0..Rows-1, col is 0..Cols-1.
	SetCursor(row, col int) error
	// Write prints text at the cursor and advances it. Text that does not
	// fit in the remaining columns is device defined; callers pre-truncate.
	Write(text string) error
	SetBacklight(on bool) error
	// DefineGlyph stores bitmap in CGRAM slot 0..7. The glyph is then
	// printed by writing rune(slot).
	DefineGlyph(slot int, bitmap Glyph) error
	// Close releases the bus. No call is valid afterwards.
	Close() error
}

// CheckCursor reports whether (row, col) addresses a cell of the grid.
func CheckCursor(row, col int) error {
	if row < 0 || row >= Rows || col < 0 || col >= Cols {
		return fmt.Errorf("%w: row %d col %d", ErrInvalidCoordinate, row, col)
	}
	return nil
}

func checkSlot(slot int) error {
	if slot < 0 || slot > 7 {
		return fmt.Errorf("%w: glyph slot %d", ErrInvalidCoordinate, slot)
	}
	return nil
}
