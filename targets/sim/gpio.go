package sim

import (
	"sync"

	"pinmux/core"
)

type portPin struct {
	output bool
	pull   core.Pull
	level  bool
	driven bool // Input level set from outside
}

// Port is an in-memory core.BitPort. Unconfigured pins return ErrNotConfigured.
type Port struct {
	mu   sync.Mutex
	pins map[core.Pin]*portPin
}

// NewPort returns a port with no pins configured
func NewPort() *Port {
	return &Port{pins: make(map[core.Pin]*portPin)}
}

func (p *Port) ConfigureOutput(pin core.Pin) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pins[pin] = &portPin{output: true}
	return nil
}

func (p *Port) ConfigureInput(pin core.Pin, pull core.Pull) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pins[pin] = &portPin{pull: pull, level: pull == core.PullUp}
	return nil
}

func (p *Port) Set(pin core.Pin, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, ok := p.pins[pin]
	if !ok || !pp.output {
		return ErrNotConfigured
	}
	pp.level = on
	return nil
}

func (p *Port) Get(pin core.Pin) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, ok := p.pins[pin]
	if !ok {
		return false, ErrNotConfigured
	}
	return pp.level, nil
}

// Drive sets the externally applied level of an input pin
func (p *Port) Drive(pin core.Pin, high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, ok := p.pins[pin]
	if !ok || pp.output {
		return ErrNotConfigured
	}
	pp.level = high
	pp.driven = true
	return nil
}

// Release stops driving an input pin so it falls back to its bias
func (p *Port) Release(pin core.Pin) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pp, ok := p.pins[pin]; ok && !pp.output {
		pp.driven = false
		pp.level = pp.pull == core.PullUp
	}
}
