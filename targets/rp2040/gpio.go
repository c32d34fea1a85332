//go:build rp2040

package main

import (
	"machine"

	"pinmux/core"
)

// Port is a core.BitPort over the RP2040's own GPIO bank
type Port struct{}

func (Port) ConfigureOutput(pin core.Pin) error {
	if pin >= numGPIO {
		return errPinRange
	}
	machine.Pin(pin).Configure(machine.PinConfig{Mode: machine.PinOutput})
	return nil
}

func (Port) ConfigureInput(pin core.Pin, pull core.Pull) error {
	if pin >= numGPIO {
		return errPinRange
	}
	var mode machine.PinMode
	switch pull {
	case core.PullUp:
		mode = machine.PinInputPullup
	case core.PullDown:
		mode = machine.PinInputPulldown
	default:
		mode = machine.PinInput
	}
	machine.Pin(pin).Configure(machine.PinConfig{Mode: mode})
	return nil
}

func (Port) Set(pin core.Pin, on bool) error {
	if pin >= numGPIO {
		return errPinRange
	}
	machine.Pin(pin).Set(on)
	return nil
}

func (Port) Get(pin core.Pin) (bool, error) {
	if pin >= numGPIO {
		return false, errPinRange
	}
	return machine.Pin(pin).Get(), nil
}

var _ core.BitPort = Port{}
