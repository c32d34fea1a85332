package linux

import (
	"periph.io/x/conn/v3/gpio"

	"pinmux/core"
)

// Port exposes periph pins as a core.BitPort
type Port struct {
	resolve Resolver
}

// NewPort returns a bit port. A nil resolver uses ByNumber.
func NewPort(resolve Resolver) *Port {
	return &Port{resolve: resolve}
}

func (p *Port) ConfigureOutput(pin core.Pin) error {
	io, err := resolve(p.resolve, pin)
	if err != nil {
		return err
	}
	return io.Out(gpio.Low)
}

func (p *Port) ConfigureInput(pin core.Pin, pull core.Pull) error {
	io, err := resolve(p.resolve, pin)
	if err != nil {
		return err
	}
	gp := gpio.Float
	switch pull {
	case core.PullUp:
		gp = gpio.PullUp
	case core.PullDown:
		gp = gpio.PullDown
	}
	return io.In(gp, gpio.NoEdge)
}

func (p *Port) Set(pin core.Pin, on bool) error {
	io, err := resolve(p.resolve, pin)
	if err != nil {
		return err
	}
	return io.Out(levelOf(on))
}

func (p *Port) Get(pin core.Pin) (bool, error) {
	io, err := resolve(p.resolve, pin)
	if err != nil {
		return false, err
	}
	return io.Read() == gpio.High, nil
}

var _ core.BitPort = (*Port)(nil)
