package lcd

// ProgressSlot is the CGRAM slot holding the progress bar block.
const ProgressSlot = 1

// ProgressBlock is a fully lit 5x8 cell, one unit of the progress bar.
var ProgressBlock = Glyph{0x1F, 0x1F, 0x1F, 0x1F, 0x1F, 0x1F, 0x1F, 0x1F}

// BackslashSlot holds a backslash, which the A00 ROM lacks.
const BackslashSlot = 2

// Backslash is a 5x8 backslash.
var Backslash = Glyph{0x00, 0x10, 0x08, 0x04, 0x02, 0x01, 0x00, 0x00}

// RegisterGlyphs uploads every custom glyph the screens use.
func RegisterGlyphs(dev Device) error {
	if err := RegisterProgressGlyph(dev); err != nil {
		return err
	}
	return dev.DefineGlyph(BackslashSlot, Backslash)
}

// RegisterProgressGlyph uploads ProgressBlock to ProgressSlot. Calling it
// again rewrites the same slot.
func RegisterProgressGlyph(dev Device) error {
	return dev.DefineGlyph(ProgressSlot, ProgressBlock)
}
