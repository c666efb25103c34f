package lcd

import (
	"fmt"
	"strings"
)

// Charmap selects the character ROM fitted to the HD44780. The same text
// needs different bytes on the two common ROMs.
type Charmap string

const (
	// CharmapA00 is the Japanese ROM found on most blue/green modules.
	CharmapA00 Charmap = "A00"
	// CharmapA02 is the European ROM. Its upper half follows Latin-1.
	CharmapA02 Charmap = "A02"
)

// a00 maps the few non-ASCII runes the A00 ROM can show.
var a00 = map[rune]byte{
	'°': 0xDF,
	'→': 0x7E,
	'←': 0x7F,
	'ä': 0xE1,
	'ß': 0xE2,
	'µ': 0xE4,
	'ö': 0xEF,
	'Ω': 0xF4,
	'ü': 0xF5,
	'÷': 0xFD,
}

// ParseCharmap accepts "A00" or "A02", case insensitive. An empty string
// selects A00.
func ParseCharmap(s string) (Charmap, error) {
	switch strings.ToUpper(s) {
	case "", string(CharmapA00):
		return CharmapA00, nil
	case string(CharmapA02):
		return CharmapA02, nil
	default:
		return "", fmt.Errorf("lcd: unknown charmap %q (want A00 or A02)", s)
	}
}

// Encode converts text to ROM bytes. Runes 0-7 address CGRAM glyphs and
// pass through. Newlines become spaces so the driver never moves the
// cursor on its own. On A00 a backslash prints the BackslashSlot glyph.
// Other runes the ROM lacks become '?'.
func (m Charmap) Encode(text string) []byte {
	out := make([]byte, 0, len(text))
	for _, r := range text {
		switch {
		case r == '\n' || r == '\r':
			out = append(out, ' ')
		case m == CharmapA00 && r == '\\':
			out = append(out, BackslashSlot)
		case r < 0x80:
			out = append(out, byte(r))
		case m == CharmapA02 && r >= 0xA0 && r <= 0xFF:
			out = append(out, byte(r))
		case m == CharmapA02 && r == '→':
			out = append(out, 0x10)
		case m == CharmapA02 && r == '←':
			out = append(out, 0x11)
		default:
			if b, ok := a00[r]; ok && m == CharmapA00 {
				out = append(out, b)
			} else {
				out = append(out, '?')
			}
		}
	}
	return out
}
