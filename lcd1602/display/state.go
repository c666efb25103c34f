package display

import (
	"unicode/utf8"

	"github.com/harveysanders/printerlcd/lcd1602/layout"
	"github.com/harveysanders/printerlcd/lcd1602/lcd"
)

// State is what the router last showed. Transitions are not enforced; the
// state follows whichever event arrived last.
type State int32

const (
	StateIdle State = iota
	StateConnected
	StatePrinting
	StatePaused
	StateCancelling
	StateDisconnected
	StateShuttingDown
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateConnected:    "connected",
	StatePrinting:     "printing",
	StatePaused:       "paused",
	StateCancelling:   "cancelling",
	StateDisconnected: "disconnected",
	StateShuttingDown: "shutting-down",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// displayState owns the device. Only the router's Run goroutine touches it.
type displayState struct {
	dev       lcd.Device
	backlight bool
	row, col  int
	closed    bool
}

func (s *displayState) clear() error {
	if err := s.dev.Clear(); err != nil {
		return err
	}
	s.row, s.col = 0, 0
	return nil
}

// put writes one line. The position is validated before anything reaches
// the device and the text is cut to the row.
func (s *displayState) put(l layout.Line) error {
	if err := lcd.CheckCursor(l.Row, l.Col); err != nil {
		return err
	}
	text := layout.Fit(l.Col, l.Text)
	if err := s.dev.SetCursor(l.Row, l.Col); err != nil {
		return err
	}
	s.row, s.col = l.Row, l.Col
	if err := s.dev.Write(text); err != nil {
		return err
	}
	s.col = min(s.col+utf8.RuneCountInString(text), lcd.Cols-1)
	return nil
}

// draw clears the screen and writes lines in order.
func (s *displayState) draw(lines ...layout.Line) error {
	if err := s.clear(); err != nil {
		return err
	}
	for _, l := range lines {
		if err := s.put(l); err != nil {
			return err
		}
	}
	return nil
}

func (s *displayState) setBacklight(on bool) error {
	if err := s.dev.SetBacklight(on); err != nil {
		return err
	}
	s.backlight = on
	return nil
}

// close is terminal even when the device reports an error.
func (s *displayState) close() error {
	s.closed = true
	return s.dev.Close()
}
