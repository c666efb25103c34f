package lcd

import "time"

// WithTimeout bounds every call on dev to d. A call that overruns returns a
// DeviceError wrapping ErrTimeout; the call itself cannot be interrupted, so
// until it returns every further call fails with ErrBusy rather than
// touching the bus concurrently. d <= 0 returns dev unchanged.
func WithTimeout(dev Device, d time.Duration) Device {
	if d <= 0 {
		return dev
	}
	return &timeoutDevice{
		dev:     dev,
		timeout: d,
		busy:    make(chan struct{}, 1),
	}
}

type timeoutDevice struct {
	dev     Device
	timeout time.Duration
	busy    chan struct{}
}

func (t *timeoutDevice) do(op string, fn func() error) error {
	select {
	case t.busy <- struct{}{}:
	default:
		return &DeviceError{Op: op, Err: ErrBusy}
	}

	res := make(chan error, 1)
	go func() {
		err := fn()
		<-t.busy
		res <- err
	}()

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()
	select {
	case err := <-res:
		return err
	case <-timer.C:
		return &DeviceError{Op: op, Err: ErrTimeout}
	}
}

func (t *timeoutDevice) Clear() error {
	return t.do("clear", t.dev.Clear)
}

func (t *timeoutDevice) SetCursor(row, col int) error {
	return t.do("set-cursor", func() error { return t.dev.SetCursor(row, col) })
}

func (t *timeoutDevice) Write(text string) error {
	return t.do("write", func() error { return t.dev.Write(text) })
}

func (t *timeoutDevice) SetBacklight(on bool) error {
	return t.do("backlight", func() error { return t.dev.SetBacklight(on) })
}

func (t *timeoutDevice) DefineGlyph(slot int, bitmap Glyph) error {
	return t.do("define-glyph", func() error { return t.dev.DefineGlyph(slot, bitmap) })
}

func (t *timeoutDevice) Close() error {
	return t.do("close", t.dev.Close)
}
