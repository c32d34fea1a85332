// Package linux implements the PWM, pin interrupt and GPIO capabilities on
// Linux single board computers through periph.io.
//
// Timers are virtual: the kernel exposes PWM per pin, so a timer is only a
// frequency shared by the channels routed to it. Pin interrupts are delivered
// by one goroutine per pin blocked in WaitForEdge.
package linux

import (
	"errors"
	"fmt"
	"strconv"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"pinmux/core"
)

var (
	ErrUnknownPin       = errors.New("linux: no such gpio")
	ErrNotConfigured    = errors.New("linux: not configured")
	ErrPinBusy          = errors.New("linux: pin already routed to another channel")
	ErrAlreadyInstalled = errors.New("linux: interrupt service already installed")
)

// Resolver maps a core pin number to a periph pin. It returns nil for pins
// that do not exist.
type Resolver func(pin core.Pin) gpio.PinIO

// ByNumber resolves pins through the periph registry as "GPIO<n>"
func ByNumber(pin core.Pin) gpio.PinIO {
	return gpioreg.ByName("GPIO" + strconv.Itoa(int(pin)))
}

// Init loads the periph host drivers. Safe to call more than once.
func Init() error {
	_, err := host.Init()
	return err
}

func resolve(r Resolver, pin core.Pin) (gpio.PinIO, error) {
	if r == nil {
		r = ByNumber
	}
	p := r(pin)
	if p == nil || p == gpio.INVALID {
		return nil, fmt.Errorf("gpio %d: %w", pin, ErrUnknownPin)
	}
	return p, nil
}

func levelOf(on bool) gpio.Level {
	if on {
		return gpio.High
	}
	return gpio.Low
}
