//go:build rp2040

package main

import (
	"errors"
	"machine"

	"pinmux/core"
)

var errAlreadyInstalled = errors.New("interrupt service already installed")

// RP2040Interrupts implements core.InterruptDriver with the GPIO bank's
// per-pin edge and level interrupts
type RP2040Interrupts struct {
	installed bool
	changes   [numGPIO]machine.PinChange
	attached  [numGPIO]bool
}

func NewRP2040Interrupts() *RP2040Interrupts {
	return &RP2040Interrupts{}
}

// InstallInterruptService only records that dispatch is ready. TinyGo owns
// the IO_IRQ_BANK0 vector and fans out to the per-pin callbacks.
func (r *RP2040Interrupts) InstallInterruptService(flags uint32) error {
	if r.installed {
		return errAlreadyInstalled
	}
	r.installed = true
	return nil
}

func (r *RP2040Interrupts) ConfigureInterruptPin(pin core.Pin, cfg core.PinConfig) error {
	if pin >= numGPIO {
		return errPinRange
	}
	change, ok := toPinChange(cfg.Edge)
	if !ok {
		return core.ErrInvalidArgument
	}

	mode := machine.PinInput
	switch {
	case cfg.PullUp && !cfg.PullDown:
		mode = machine.PinInputPullup
	case cfg.PullDown && !cfg.PullUp:
		mode = machine.PinInputPulldown
	}
	machine.Pin(pin).Configure(machine.PinConfig{Mode: mode})

	if err := r.detach(pin); err != nil {
		return err
	}
	r.changes[pin] = change
	return nil
}

// AttachPinInterrupt replaces any callback already on the pin. The
// callback runs in interrupt context.
func (r *RP2040Interrupts) AttachPinInterrupt(pin core.Pin, isr core.ISR, arg uintptr) error {
	if pin >= numGPIO {
		return errPinRange
	}
	if !r.installed {
		return errNotConfigured
	}
	if err := r.detach(pin); err != nil {
		return err
	}
	if r.changes[pin] == 0 {
		// EdgeDisable: configured but silent
		return nil
	}
	if err := machine.Pin(pin).SetInterrupt(r.changes[pin], func(machine.Pin) { isr(arg) }); err != nil {
		return err
	}
	r.attached[pin] = true
	return nil
}

// detach clears the callback. TinyGo refuses a new callback while one is set.
func (r *RP2040Interrupts) detach(pin core.Pin) error {
	if !r.attached[pin] {
		return nil
	}
	if err := machine.Pin(pin).SetInterrupt(r.changes[pin], nil); err != nil {
		return err
	}
	r.attached[pin] = false
	return nil
}

func toPinChange(e core.Edge) (machine.PinChange, bool) {
	switch e {
	case core.EdgeDisable:
		return 0, true
	case core.EdgeRising:
		return machine.PinRising, true
	case core.EdgeFalling:
		return machine.PinFalling, true
	case core.EdgeAny:
		return machine.PinToggle, true
	case core.LevelLow:
		return machine.PinLevelLow, true
	case core.LevelHigh:
		return machine.PinLevelHigh, true
	}
	return 0, false
}

var _ core.InterruptDriver = (*RP2040Interrupts)(nil)
