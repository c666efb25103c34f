package lcd

import (
	"io"
	"log/slog"
	"strconv"
)

// Simulated is a Device with no hardware behind it. Every call is applied to
// an in-memory Screen and logged at debug level.
type Simulated struct {
	screen *Screen
	logger *slog.Logger
}

// NewSimulated returns a simulated 16x2 display. A nil logger discards
// output.
func NewSimulated(logger *slog.Logger) *Simulated {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127),
		}))
	}
	return &Simulated{screen: NewScreen(), logger: logger}
}

// Screen returns the in-memory display.
func (s *Simulated) Screen() *Screen { return s.screen }

// Snapshot returns the current display contents.
func (s *Simulated) Snapshot() Snapshot { return s.screen.Snapshot() }

func (s *Simulated) Clear() error {
	if err := s.check("clear"); err != nil {
		return err
	}
	s.screen.clear()
	s.logger.Debug("lcd:clear")
	return nil
}

func (s *Simulated) SetCursor(row, col int) error {
	if err := s.check("set-cursor"); err != nil {
		return err
	}
	if err := CheckCursor(row, col); err != nil {
		return err
	}
	s.screen.setCursor(row, col)
	s.logger.Debug("lcd:set-cursor", slog.Int("row", row), slog.Int("col", col))
	return nil
}

func (s *Simulated) Write(text string) error {
	if err := s.check("write"); err != nil {
		return err
	}
	s.screen.write(text)
	s.logger.Debug("lcd:write", slog.String("text", strconv.Quote(text)))
	return nil
}

func (s *Simulated) SetBacklight(on bool) error {
	if err := s.check("backlight"); err != nil {
		return err
	}
	s.screen.setBacklight(on)
	s.logger.Debug("lcd:backlight", slog.Bool("on", on))
	return nil
}

func (s *Simulated) DefineGlyph(slot int, bitmap Glyph) error {
	if err := s.check("define-glyph"); err != nil {
		return err
	}
	if err := checkSlot(slot); err != nil {
		return err
	}
	s.screen.defineGlyph(slot, bitmap)
	s.logger.Debug("lcd:define-glyph", slog.Int("slot", slot))
	return nil
}

func (s *Simulated) Close() error {
	if err := s.check("close"); err != nil {
		return err
	}
	s.screen.close()
	s.logger.Debug("lcd:close")
	return nil
}

func (s *Simulated) check(op string) error {
	if s.screen.Snapshot().Closed {
		return &DeviceError{Op: op, Err: ErrClosed}
	}
	return nil
}
