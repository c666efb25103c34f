package lcd

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers/hd44780i2c"
)

// ProbeAddrs are the usual PCF8574 and PCF8574A backpack addresses, in the
// order they are tried when no address is configured.
var ProbeAddrs = []uint16{0x27, 0x3F}

// HD44780Config selects the bus and controller settings.
type HD44780Config struct {
	// Bus is a periph I2C bus name such as "1" or "/dev/i2c-1". Empty opens
	// the default bus.
	Bus string
	// Addr is the backpack address. Zero probes ProbeAddrs.
	Addr    uint16
	Charmap Charmap
}

// HD44780 drives a 16x2 HD44780 through a PCF8574 I2C backpack.
type HD44780 struct {
	bus     i2c.BusCloser
	latch   *latchBus
	dev     hd44780i2c.Device
	addr    uint16
	charmap Charmap
	closed  bool
}

// OpenHD44780 initializes the host drivers, opens the bus, finds the
// backpack and configures the controller for 16x2 with the backlight on.
func OpenHD44780(cfg HD44780Config) (*HD44780, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("lcd: host init: %w", err)
	}
	bus, err := i2creg.Open(cfg.Bus)
	if err != nil {
		return nil, &DeviceError{Op: "open", Err: err}
	}
	d, err := newHD44780(bus, cfg)
	if err != nil {
		bus.Close()
		return nil, err
	}
	return d, nil
}

func newHD44780(bus i2c.BusCloser, cfg HD44780Config) (*HD44780, error) {
	addr := cfg.Addr
	if addr == 0 {
		found, err := Probe(bus, ProbeAddrs)
		if err != nil {
			return nil, err
		}
		addr = found
	}
	if cfg.Charmap == "" {
		cfg.Charmap = CharmapA00
	}

	latch := &latchBus{bus: bus}
	d := &HD44780{
		bus:     bus,
		latch:   latch,
		dev:     hd44780i2c.New(latch, uint8(addr)),
		addr:    addr,
		charmap: cfg.Charmap,
	}
	if err := d.dev.Configure(hd44780i2c.Config{
		Width:  Cols,
		Height: Rows,
	}); err != nil {
		return nil, &DeviceError{Op: "configure", Err: err}
	}
	if err := d.result("configure"); err != nil {
		return nil, err
	}
	return d, nil
}

// Probe returns the first address in addrs that acknowledges a one byte
// read. An error is returned if none answer.
func Probe(bus i2c.Bus, addrs []uint16) (uint16, error) {
	buf := make([]byte, 1)
	for _, a := range addrs {
		if err := bus.Tx(a, nil, buf); err == nil {
			return a, nil
		}
	}
	return 0, &DeviceError{
		Op:  "probe",
		Err: fmt.Errorf("LCD not found on addresses: %#x", addrs),
	}
}

// Addr returns the backpack address in use.
func (d *HD44780) Addr() uint16 { return d.addr }

func (d *HD44780) Clear() error {
	if err := d.check("clear"); err != nil {
		return err
	}
	d.dev.ClearDisplay()
	return d.result("clear")
}

func (d *HD44780) SetCursor(row, col int) error {
	if err := d.check("set-cursor"); err != nil {
		return err
	}
	if err := CheckCursor(row, col); err != nil {
		return err
	}
	d.dev.SetCursor(uint8(col), uint8(row))
	return d.result("set-cursor")
}

func (d *HD44780) Write(text string) error {
	if err := d.check("write"); err != nil {
		return err
	}
	d.dev.Print(d.charmap.Encode(text))
	return d.result("write")
}

func (d *HD44780) SetBacklight(on bool) error {
	if err := d.check("backlight"); err != nil {
		return err
	}
	d.dev.BacklightOn(on)
	return d.result("backlight")
}

func (d *HD44780) DefineGlyph(slot int, bitmap Glyph) error {
	if err := d.check("define-glyph"); err != nil {
		return err
	}
	if err := checkSlot(slot); err != nil {
		return err
	}
	d.dev.CreateCharacter(uint8(slot), bitmap[:])
	return d.result("define-glyph")
}

func (d *HD44780) Close() error {
	if err := d.check("close"); err != nil {
		return err
	}
	d.closed = true
	if err := d.bus.Close(); err != nil {
		return &DeviceError{Op: "close", Err: err}
	}
	return nil
}

func (d *HD44780) check(op string) error {
	if d.closed {
		return &DeviceError{Op: op, Err: ErrClosed}
	}
	return nil
}

// result reports the first bus error latched while the driver ran op.
func (d *HD44780) result(op string) error {
	if err := d.latch.take(); err != nil {
		return &DeviceError{Op: op, Err: err}
	}
	return nil
}

// latchBus adapts a periph bus to the tinygo driver and keeps the first
// transfer error. The driver ignores Tx errors, so this is the only place
// a failed transfer can be seen.
type latchBus struct {
	bus i2c.Bus
	err error
}

func (b *latchBus) Tx(addr uint16, w, r []byte) error {
	err := b.bus.Tx(addr, w, r)
	if err != nil && b.err == nil {
		b.err = err
	}
	return err
}

func (b *latchBus) take() error {
	err := b.err
	b.err = nil
	return err
}
