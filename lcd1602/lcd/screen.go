package lcd

import "sync"

// Screen is an in-memory copy of what a 16x2 display shows. It backs the
// simulated device and mirrors a real one so the contents can be reported
// without reading the hardware back. Screen is safe for concurrent use.
type Screen struct {
	mu        sync.Mutex
	cells     [Rows][Cols]rune
	row, col  int
	backlight bool
	closed    bool
	glyphs    [8]Glyph
}

// Snapshot is a copy of a Screen's visible state.
type Snapshot struct {
	Lines     [Rows]string
	Backlight bool
	Closed    bool
}

// NewScreen returns a blank screen with the backlight on, which is how the
// controller comes out of Configure.
func NewScreen() *Screen {
	s := &Screen{backlight: true}
	s.blank()
	return s
}

// Snapshot returns the current contents. Trailing blanks are kept so each
// line is exactly Cols runes.
func (s *Screen) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var snap Snapshot
	for r := range s.cells {
		snap.Lines[r] = string(s.cells[r][:])
	}
	snap.Backlight = s.backlight
	snap.Closed = s.closed
	return snap
}

// Glyph returns the bitmap stored in CGRAM slot.
func (s *Screen) Glyph(slot int) Glyph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.glyphs[slot&0x7]
}

// Text returns the lines with custom glyph references drawn as a full block.
func (snap Snapshot) Text() [Rows]string {
	var out [Rows]string
	for r, line := range snap.Lines {
		runes := []rune(line)
		for i, c := range runes {
			if c < 8 {
				runes[i] = '█'
			}
		}
		out[r] = string(runes)
	}
	return out
}

func (s *Screen) blank() {
	for r := range s.cells {
		for c := range s.cells[r] {
			s.cells[r][c] = ' '
		}
	}
}

func (s *Screen) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blank()
	s.row, s.col = 0, 0
}

func (s *Screen) setCursor(row, col int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.row, s.col = row, col
}

// write drops runes past the last column. The controller stores them in
// DDRAM that a 16 column module never shows.
func (s *Screen) write(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range text {
		if s.col < Cols {
			s.cells[s.row][s.col] = c
		}
		s.col++
	}
}

func (s *Screen) setBacklight(on bool) {
	s.mu.Lock()
	s.backlight = on
	s.mu.Unlock()
}

func (s *Screen) defineGlyph(slot int, g Glyph) {
	s.mu.Lock()
	s.glyphs[slot&0x7] = g
	s.mu.Unlock()
}

func (s *Screen) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Mirror returns a Device that forwards every call to dev and applies the
// successful ones to screen.
func Mirror(dev Device, screen *Screen) Device {
	return &mirror{dev: dev, screen: screen}
}

type mirror struct {
	dev    Device
	screen *Screen
}

func (m *mirror) Clear() error {
	if err := m.dev.Clear(); err != nil {
		return err
	}
	m.screen.clear()
	return nil
}

func (m *mirror) SetCursor(row, col int) error {
	if err := m.dev.SetCursor(row, col); err != nil {
		return err
	}
	m.screen.setCursor(row, col)
	return nil
}

func (m *mirror) Write(text string) error {
	if err := m.dev.Write(text); err != nil {
		return err
	}
	m.screen.write(text)
	return nil
}

func (m *mirror) SetBacklight(on bool) error {
	if err := m.dev.SetBacklight(on); err != nil {
		return err
	}
	m.screen.setBacklight(on)
	return nil
}

func (m *mirror) DefineGlyph(slot int, bitmap Glyph) error {
	if err := m.dev.DefineGlyph(slot, bitmap); err != nil {
		return err
	}
	m.screen.defineGlyph(slot, bitmap)
	return nil
}

// Close marks the screen closed even when the device reports an error: no
// further call is valid either way.
func (m *mirror) Close() error {
	err := m.dev.Close()
	m.screen.close()
	return err
}
