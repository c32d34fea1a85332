//go:build rp2040

package main

import (
	"machine"
	"time"

	"pinmux/core"
	"pinmux/drivers/pca9557"
	"pinmux/protocol"
)

func main() {
	// Disable watchdog on boot to clear any previous state
	err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})
	if err != nil {
		return
	}

	usb := InitUSB()
	link := protocol.NewLink(usb)

	bank := core.NewPWMBank(NewRP2040PWMDriver(), nil)
	irq := core.NewDispatcher(NewRP2040Interrupts(), nil)
	ctrl := core.NewController(bank, irq, link, nil)

	status, _ := core.NewOutputBit(Port{}, core.Pin(machine.LED), "status", nil)
	active := openExpander()

	for {
		// Recover from panics in the main loop to prevent a firmware crash
		func() {
			defer func() {
				if r := recover(); r != nil {
					link.Reset()
				}
			}()

			// Read errors are retried on the next pass; frame faults are in link.Stats()
			n, _ := link.Poll(ctrl.Handle)
			if n == 0 {
				return
			}
			if status != nil {
				_ = status.Toggle()
			}
			if active != nil {
				_ = active.Set(bank.Stats().Outputs > 0)
			}
		}()

		// Yield so the dispatcher worker gets to run
		time.Sleep(100 * time.Microsecond)
	}
}

// openExpander looks for a PCA9557 on I2C0 (SDA=GP4, SCL=GP5). When one
// answers, its pin 0 shows whether any PWM output is open.
func openExpander() *core.OutputBit {
	err := machine.I2C0.Configure(machine.I2CConfig{Frequency: 400 * machine.KHz})
	if err != nil {
		return nil
	}
	dev, err := pca9557.New(machine.I2C0, pca9557.DefaultAddress)
	if err != nil {
		return nil
	}
	bit, err := core.NewOutputBit(dev, 0, "pwm_active", nil)
	if err != nil {
		return nil
	}
	return bit
}
