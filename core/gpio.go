// Named digital bits on top of a BitPort
package core

import "log/slog"

// OutputBit is a single output pin on a BitPort
type OutputBit struct {
	port BitPort
	pin  Pin
	name string
	log  *slog.Logger
}

// NewOutputBit configures pin as an output and drives it low
func NewOutputBit(port BitPort, pin Pin, name string, log *slog.Logger) (*OutputBit, error) {
	if err := port.ConfigureOutput(pin); err != nil {
		return nil, err
	}
	b := &OutputBit{port: port, pin: pin, name: name, log: orDiscard(log)}
	if err := b.Off(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *OutputBit) Pin() Pin     { return b.pin }
func (b *OutputBit) Name() string { return b.name }

func (b *OutputBit) On() error  { return b.Set(true) }
func (b *OutputBit) Off() error { return b.Set(false) }

// Set drives the bit
func (b *OutputBit) Set(on bool) error {
	if err := b.port.Set(b.pin, on); err != nil {
		b.log.Warn("output bit write failed", "bit", b.name, "pin", b.pin, "err", err)
		return err
	}
	return nil
}

// Toggle inverts the current level
func (b *OutputBit) Toggle() error {
	on, err := b.Get()
	if err != nil {
		return err
	}
	return b.Set(!on)
}

// Get reads the level back from the port
func (b *OutputBit) Get() (bool, error) {
	return b.port.Get(b.pin)
}

// InputBit is a single input pin on a BitPort
type InputBit struct {
	port BitPort
	pin  Pin
	name string
}

// NewInputBit configures pin as an input with the given bias
func NewInputBit(port BitPort, pin Pin, pull Pull, name string) (*InputBit, error) {
	if err := port.ConfigureInput(pin, pull); err != nil {
		return nil, err
	}
	return &InputBit{port: port, pin: pin, name: name}, nil
}

func (b *InputBit) Pin() Pin     { return b.pin }
func (b *InputBit) Name() string { return b.name }

// Get reads the input level
func (b *InputBit) Get() (bool, error) {
	return b.port.Get(b.pin)
}
