package lcd

import (
	"errors"
	"testing"
)

func TestSimulatedWritesAtCursor(t *testing.T) {
	dev := NewSimulated(nil)
	if err := dev.SetCursor(1, 3); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	if err := dev.Write("0:02:05"); err != nil {
		t.Fatalf("write: %v", err)
	}
	snap := dev.Snapshot()
	if got, want := snap.Lines[1], "   0:02:05      "; got != want {
		t.Fatalf("line 1 = %q, want %q", got, want)
	}
	if got, want := snap.Lines[0], "                "; got != want {
		t.Fatalf("line 0 = %q, want %q", got, want)
	}
}

func TestSimulatedDropsPastLastColumn(t *testing.T) {
	dev := NewSimulated(nil)
	_ = dev.SetCursor(0, 10)
	_ = dev.Write("0123456789")
	if got, want := dev.Snapshot().Lines[0], "          012345"; got != want {
		t.Fatalf("line 0 = %q, want %q", got, want)
	}
}

func TestSimulatedRejectsInvalidCoordinates(t *testing.T) {
	dev := NewSimulated(nil)
	for _, tc := range []struct{ row, col int }{{-1, 0}, {2, 0}, {0, 16}, {1, -1}} {
		if err := dev.SetCursor(tc.row, tc.col); !errors.Is(err, ErrInvalidCoordinate) {
			t.Errorf("SetCursor(%d, %d) = %v, want ErrInvalidCoordinate", tc.row, tc.col, err)
		}
	}
	if err := dev.DefineGlyph(8, ProgressBlock); !errors.Is(err, ErrInvalidCoordinate) {
		t.Errorf("DefineGlyph(8) = %v, want ErrInvalidCoordinate", err)
	}
}

func TestSimulatedClosed(t *testing.T) {
	dev := NewSimulated(nil)
	if err := dev.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	err := dev.Write("x")
	if !errors.Is(err, ErrClosed) || !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("write after close = %v, want ErrClosed and ErrDeviceUnavailable", err)
	}
	if !dev.Snapshot().Closed {
		t.Fatal("snapshot not marked closed")
	}
}

func TestSnapshotTextDrawsGlyphs(t *testing.T) {
	dev := NewSimulated(nil)
	if err := RegisterProgressGlyph(dev); err != nil {
		t.Fatalf("register: %v", err)
	}
	_ = dev.SetCursor(1, 0)
	_ = dev.Write("\x01\x01\x01")
	if got, want := dev.Snapshot().Text()[1], "███             "; got != want {
		t.Fatalf("text = %q, want %q", got, want)
	}
	if got := dev.Screen().Glyph(ProgressSlot); got != ProgressBlock {
		t.Fatalf("glyph = %v, want %v", got, ProgressBlock)
	}
}

type failingDevice struct {
	Simulated
	err error
}

func (f *failingDevice) Write(string) error { return f.err }

func TestMirrorSkipsFailedCalls(t *testing.T) {
	inner := &failingDevice{Simulated: *NewSimulated(nil), err: &DeviceError{Op: "write", Err: errors.New("nack")}}
	screen := NewScreen()
	dev := Mirror(inner, screen)

	if err := dev.SetCursor(0, 2); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	if err := dev.Write("lost"); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("write = %v, want ErrDeviceUnavailable", err)
	}
	if got, want := screen.Snapshot().Lines[0], "                "; got != want {
		t.Fatalf("mirror applied failed write: %q", got)
	}
	if err := dev.SetBacklight(false); err != nil {
		t.Fatalf("backlight: %v", err)
	}
	if screen.Snapshot().Backlight {
		t.Fatal("mirror backlight still on")
	}
}
