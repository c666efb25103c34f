package lcd

import "errors"

var (
	// ErrDeviceUnavailable matches every *DeviceError.
	ErrDeviceUnavailable = errors.New("lcd: device unavailable")
	// ErrInvalidCoordinate is returned for cursor positions or glyph slots
	// outside the device. Nothing is sent to the hardware.
	ErrInvalidCoordinate = errors.New("lcd: invalid coordinate")
	ErrClosed            = errors.New("lcd: device closed")
	ErrTimeout           = errors.New("lcd: operation timed out")
	// ErrBusy is returned while a timed out call is still holding the bus.
	ErrBusy = errors.New("lcd: bus busy")
)

// DeviceError reports a failed device operation.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return "lcd: " + e.Op + ": " + e.Err.Error()
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Is makes every DeviceError match ErrDeviceUnavailable.
func (e *DeviceError) Is(target error) bool {
	return target == ErrDeviceUnavailable
}
