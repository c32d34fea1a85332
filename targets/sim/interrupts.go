package sim

import (
	"sync"

	"pinmux/core"
)

// Operation names for FailNext
const (
	OpInstallService = "install_service"
	OpConfigurePin   = "configure_pin"
	OpAttach         = "attach"
)

type attachment struct {
	isr core.ISR
	arg uintptr
}

// Interrupts simulates a GPIO interrupt controller. Pins are kept in
// input/output mode so tests can raise interrupts by writing a level.
// It implements core.InterruptDriver.
type Interrupts struct {
	faults

	mu        sync.Mutex
	installs  int
	installed bool
	flags     uint32
	pins      map[core.Pin]core.PinConfig
	attached  map[core.Pin]attachment
	levels    map[core.Pin]bool
}

// NewInterrupts returns a controller with no service installed
func NewInterrupts() *Interrupts {
	return &Interrupts{
		pins:     make(map[core.Pin]core.PinConfig),
		attached: make(map[core.Pin]attachment),
		levels:   make(map[core.Pin]bool),
	}
}

// InstallInterruptService fails when called a second time, like the
// hardware service it models
func (s *Interrupts) InstallInterruptService(flags uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installs++
	if err := s.take(OpInstallService); err != nil {
		return err
	}
	if s.installed {
		return ErrAlreadyInstalled
	}
	s.installed = true
	s.flags = flags
	return nil
}

func (s *Interrupts) ConfigureInterruptPin(pin core.Pin, cfg core.PinConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.take(OpConfigurePin); err != nil {
		return err
	}
	s.pins[pin] = cfg
	// Idle level follows the bias
	s.levels[pin] = cfg.PullUp && !cfg.PullDown
	return nil
}

func (s *Interrupts) AttachPinInterrupt(pin core.Pin, isr core.ISR, arg uintptr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.take(OpAttach); err != nil {
		return err
	}
	if !s.installed {
		return ErrNotConfigured
	}
	if _, ok := s.pins[pin]; !ok {
		return ErrNotConfigured
	}
	s.attached[pin] = attachment{isr: isr, arg: arg}
	return nil
}

// Trigger fires the interrupt attached to pin regardless of its trigger
// type. It returns false when nothing is attached. The ISR runs on the
// calling goroutine.
func (s *Interrupts) Trigger(pin core.Pin) bool {
	s.mu.Lock()
	a, ok := s.attached[pin]
	s.mu.Unlock()
	if !ok {
		return false
	}
	a.isr(a.arg)
	return true
}

// SetLevel drives pin and fires its interrupt if the change matches the
// configured trigger. It reports whether an interrupt fired.
func (s *Interrupts) SetLevel(pin core.Pin, high bool) bool {
	s.mu.Lock()
	prev := s.levels[pin]
	s.levels[pin] = high
	cfg, configured := s.pins[pin]
	a, attached := s.attached[pin]
	s.mu.Unlock()

	if !configured || !attached || !fires(cfg.Edge, prev, high) {
		return false
	}
	a.isr(a.arg)
	return true
}

func fires(edge core.Edge, prev, next bool) bool {
	switch edge {
	case core.EdgeRising:
		return !prev && next
	case core.EdgeFalling:
		return prev && !next
	case core.EdgeAny:
		return prev != next
	case core.LevelHigh:
		return next
	case core.LevelLow:
		return !next
	default:
		return false
	}
}

// Level returns the current level of pin
func (s *Interrupts) Level(pin core.Pin) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[pin]
}

// Installs returns how many times InstallInterruptService was called
func (s *Interrupts) Installs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.installs
}

// Flags returns the flags the service was installed with
func (s *Interrupts) Flags() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

// PinConfig returns the configuration applied to pin
func (s *Interrupts) PinConfig(pin core.Pin) (core.PinConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.pins[pin]
	return cfg, ok
}

// Attached reports whether an ISR is attached to pin
func (s *Interrupts) Attached(pin core.Pin) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.attached[pin]
	return ok
}
