// Package pca9557 implements a driver for the PCA9557 8-bit I2C IO expander.
//
// The device presents its pins through core.BitPort, the same bit interface
// used for native GPIO.
package pca9557

import (
	"errors"
	"sync"

	"tinygo.org/x/drivers"

	"pinmux/core"
)

type register uint8

const (
	rInput    = register(0x00) // Input port, read only
	rOutput   = register(0x01) // Output port latch
	rPolarity = register(0x02) // 1 = input bit inverted. Resets to 0xF0.
	rConfig   = register(0x03) // 1 = input, 0 = output. Resets to 0xFF.
)

const (
	// hwAddress holds the fixed address bits; A2..A0 select the low three
	hwAddress     = uint8(0b001_1000)
	hwAddressMask = uint8(0b111_1000)

	// DefaultAddress is the address with A2..A0 tied low
	DefaultAddress = hwAddress
)

// PinCount is the number of IO pins on the chip
const PinCount = 8

var (
	ErrInvalidHWAddress = errors.New("pca9557: invalid hardware address")
	ErrInvalidPin       = errors.New("pca9557: pin out of range")
)

// Device is a PCA9557 on an I2C bus
type Device struct {
	bus  drivers.I2C
	addr uint8

	mu sync.Mutex
}

// New returns a device at address on bus and clears the input polarity
// inversion the chip powers up with.
func New(bus drivers.I2C, address uint8) (*Device, error) {
	if address&hwAddressMask != hwAddress {
		return nil, ErrInvalidHWAddress
	}
	d := &Device{bus: bus, addr: address}
	if err := d.write(rPolarity, 0x00); err != nil {
		return nil, &InitError{Address: address, Err: err}
	}
	return d, nil
}

// InitError reports a bus failure while setting up the chip
type InitError struct {
	Address uint8
	Err     error
}

func (e *InitError) Error() string {
	return "cannot initialize pca9557 at " + hex(e.Address) + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error { return e.Err }

func hex(x uint8) string {
	digits := "0123456789abcdef"
	return "0x" + digits[x>>4:x>>4+1] + digits[x&0xf:x&0xf+1]
}

// Address returns the device's I2C address
func (d *Device) Address() uint8 {
	return d.addr
}

// ConfigureOutput makes pin an output
func (d *Device) ConfigureOutput(pin core.Pin) error {
	return d.update(rConfig, pin, false)
}

// ConfigureInput makes pin an input. The chip has no bias resistors, so pull
// is ignored.
func (d *Device) ConfigureInput(pin core.Pin, pull core.Pull) error {
	return d.update(rConfig, pin, true)
}

// Set writes the output latch bit for pin
func (d *Device) Set(pin core.Pin, on bool) error {
	return d.update(rOutput, pin, on)
}

// Get reads the input port bit for pin
func (d *Device) Get(pin core.Pin) (bool, error) {
	if pin >= PinCount {
		return false, ErrInvalidPin
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.read(rInput)
	if err != nil {
		return false, err
	}
	return v&(1<<pin) != 0, nil
}

// Pins reads all eight input bits at once
func (d *Device) Pins() (uint8, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.read(rInput)
}

// update sets or clears one bit of reg with a read-modify-write
func (d *Device) update(reg register, pin core.Pin, set bool) error {
	if pin >= PinCount {
		return ErrInvalidPin
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	v, err := d.read(reg)
	if err != nil {
		return err
	}
	if set {
		v |= 1 << pin
	} else {
		v &^= 1 << pin
	}
	return d.write(reg, v)
}

func (d *Device) read(reg register) (uint8, error) {
	var buf [1]byte
	if err := d.bus.Tx(uint16(d.addr), []byte{byte(reg)}, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (d *Device) write(reg register, v uint8) error {
	return d.bus.Tx(uint16(d.addr), []byte{byte(reg), v}, nil)
}

var _ core.BitPort = (*Device)(nil)
