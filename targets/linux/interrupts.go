package linux

import (
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"

	"pinmux/core"
)

// DefaultEdgePoll bounds how long a watcher waits for an edge before it
// checks for shutdown
const DefaultEdgePoll = 100 * time.Millisecond

type watcher struct {
	io   gpio.PinIO
	stop chan struct{}
	done chan struct{}
}

// Interrupts delivers pin edges to an ISR from per pin goroutines
type Interrupts struct {
	resolve Resolver
	log     *slog.Logger
	poll    time.Duration

	mu         sync.Mutex
	installed  bool
	configured map[core.Pin]gpio.PinIO
	watchers   map[core.Pin]*watcher
}

// NewInterrupts returns an interrupt backend. A nil resolver uses ByNumber.
func NewInterrupts(resolve Resolver, log *slog.Logger) *Interrupts {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Interrupts{
		resolve:    resolve,
		log:        log.With("backend", "linux-irq"),
		poll:       DefaultEdgePoll,
		configured: make(map[core.Pin]gpio.PinIO),
		watchers:   make(map[core.Pin]*watcher),
	}
}

// SetEdgePoll changes the watcher wake-up period. Watchers already running
// keep the old value.
func (i *Interrupts) SetEdgePoll(d time.Duration) {
	i.mu.Lock()
	i.poll = d
	i.mu.Unlock()
}

// InstallInterruptService has nothing to set up on Linux beyond recording
// that it ran; flags only matter on bare metal.
func (i *Interrupts) InstallInterruptService(flags uint32) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.installed {
		return ErrAlreadyInstalled
	}
	i.installed = true
	return nil
}

func pullOf(cfg core.PinConfig) gpio.Pull {
	switch {
	case cfg.PullUp && cfg.PullDown:
		return gpio.PullNoChange
	case cfg.PullUp:
		return gpio.PullUp
	case cfg.PullDown:
		return gpio.PullDown
	}
	return gpio.Float
}

// ConfigureInterruptPin sets the pin up for edge detection. The kernel gpio
// interface has no level triggers, so LevelLow and LevelHigh are rejected.
func (i *Interrupts) ConfigureInterruptPin(pin core.Pin, cfg core.PinConfig) error {
	var edge gpio.Edge
	switch cfg.Edge {
	case core.EdgeDisable:
		edge = gpio.NoEdge
	case core.EdgeRising:
		edge = gpio.RisingEdge
	case core.EdgeFalling:
		edge = gpio.FallingEdge
	case core.EdgeAny:
		edge = gpio.BothEdges
	default:
		return core.ErrInvalidArgument
	}
	io, err := resolve(i.resolve, pin)
	if err != nil {
		return err
	}

	// A running watcher would race the reconfiguration
	i.stopWatcher(pin)

	if err := io.In(pullOf(cfg), edge); err != nil {
		return err
	}
	i.mu.Lock()
	i.configured[pin] = io
	i.mu.Unlock()
	return nil
}

// AttachPinInterrupt starts a goroutine that calls isr(arg) on every edge.
// Attaching again replaces the previous watcher.
func (i *Interrupts) AttachPinInterrupt(pin core.Pin, isr core.ISR, arg uintptr) error {
	i.mu.Lock()
	if !i.installed {
		i.mu.Unlock()
		return ErrNotConfigured
	}
	io, ok := i.configured[pin]
	poll := i.poll
	i.mu.Unlock()
	if !ok {
		return ErrNotConfigured
	}

	i.stopWatcher(pin)
	w := &watcher{io: io, stop: make(chan struct{}), done: make(chan struct{})}
	i.mu.Lock()
	i.watchers[pin] = w
	i.mu.Unlock()

	go func() {
		defer close(w.done)
		for {
			select {
			case <-w.stop:
				return
			default:
			}
			if io.WaitForEdge(poll) {
				isr(arg)
			}
		}
	}()
	i.log.Debug("edge watcher started", "pin", io.Name())
	return nil
}

func (i *Interrupts) stopWatcher(pin core.Pin) {
	i.mu.Lock()
	w, ok := i.watchers[pin]
	delete(i.watchers, pin)
	i.mu.Unlock()
	if ok {
		close(w.stop)
		<-w.done
	}
}

// Close stops every watcher and waits for them to exit
func (i *Interrupts) Close() error {
	i.mu.Lock()
	pins := make([]core.Pin, 0, len(i.watchers))
	for pin := range i.watchers {
		pins = append(pins, pin)
	}
	i.mu.Unlock()

	for _, pin := range pins {
		i.stopWatcher(pin)
	}
	return nil
}

var _ core.InterruptDriver = (*Interrupts)(nil)
