// Pin interrupt dispatch
// Interrupts are queued by a minimal ISR and delivered to handlers by a
// single worker task.
package core

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// PinHandler receives interrupt events for a bound pin. Handlers run on the
// dispatcher's worker, one at a time, never in interrupt context.
type PinHandler interface {
	HandlePin(pin Pin)
}

// PinHandlerFunc adapts a function to PinHandler
type PinHandlerFunc func(pin Pin)

func (f PinHandlerFunc) HandlePin(pin Pin) { f(pin) }

// DispatcherState is the lifecycle state of a Dispatcher
type DispatcherState uint32

const (
	StateUninitialized DispatcherState = iota
	StateInitializing
	StateRunning
	StateFailed // Interrupt service could not be installed
)

func (s DispatcherState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	default:
		return "state(" + itoa(int(s)) + ")"
	}
}

const (
	MaxPins           = 64 // Size of the pin to handler table
	DefaultQueueDepth = 10
)

// Event is what the ISR hands to the worker
type Event struct {
	Pin Pin
}

// DispatcherStats is a point-in-time view of the dispatcher counters
type DispatcherStats struct {
	State     DispatcherState
	Delivered uint64 // Handler calls that returned normally
	Dropped   uint64 // Events lost because the queue was full
	Panics    uint64 // Handler calls that panicked
	Unbound   uint64 // Events for pins with no handler
	Pending   int    // Events waiting in the queue
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithQueueDepth sets the event queue capacity (default 10)
func WithQueueDepth(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n < 1 {
			n = 1
		}
		d.depth = n
	}
}

// WithSpawner sets how the worker task is started. The default is a goroutine.
func WithSpawner(spawn func(func())) DispatcherOption {
	return func(d *Dispatcher) {
		d.spawn = spawn
	}
}

// WithInterruptFlags sets the flags passed to InstallInterruptService
func WithInterruptFlags(flags uint32) DispatcherOption {
	return func(d *Dispatcher) {
		d.flags = flags
	}
}

type binding struct {
	handler PinHandler
	cfg     PinConfig
}

// Dispatcher turns pin interrupts into handler calls. The interrupt service,
// event queue and worker are created lazily by the first Bind and then live
// for the rest of the process; there is no unbind and no stop.
type Dispatcher struct {
	hw    InterruptDriver
	log   *slog.Logger
	depth int
	spawn func(func())
	flags uint32

	state   atomic.Uint32
	ready   chan struct{} // Closed once initialization has finished
	initErr error
	queue   chan Event

	bindMu sync.Mutex
	slots  [MaxPins]atomic.Pointer[binding]

	delivered atomic.Uint64
	dropped   atomic.Uint64
	panics    atomic.Uint64
	unbound   atomic.Uint64
	trace     TraceRing

	// Worker only
	dropReports   *rate.Limiter
	reportedDrops uint64
}

// NewDispatcher creates a dispatcher on top of a platform interrupt driver.
// Nothing touches the hardware until the first Bind.
func NewDispatcher(hw InterruptDriver, log *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		hw:          hw,
		log:         orDiscard(log).With("component", "irq"),
		depth:       DefaultQueueDepth,
		spawn:       func(f func()) { go f() },
		flags:       InterruptFlagLowMed,
		ready:       make(chan struct{}),
		dropReports: rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Bind routes interrupts on pin to h. The pin is configured as an interrupt
// input per cfg. Binding a pin again replaces its handler.
func (d *Dispatcher) Bind(pin Pin, h PinHandler, cfg PinConfig) error {
	if h == nil || pin >= MaxPins {
		return ErrInvalidArgument
	}
	if err := d.ensureRunning(); err != nil {
		return err
	}

	d.bindMu.Lock()
	defer d.bindMu.Unlock()

	if err := d.hw.ConfigureInterruptPin(pin, cfg); err != nil {
		return hwErr("configure interrupt pin "+itoa(int(pin)), err)
	}

	b := &binding{handler: h, cfg: cfg}
	prev := d.slots[pin].Swap(b)
	if prev != nil {
		d.log.Debug("replacing pin handler", "pin", pin)
	}

	if err := d.hw.AttachPinInterrupt(pin, d.isr, uintptr(pin)); err != nil {
		d.slots[pin].CompareAndSwap(b, prev)
		return hwErr("attach interrupt on pin "+itoa(int(pin)), err)
	}

	d.log.Info("pin interrupt bound",
		"pin", pin, "edge", cfg.Edge, "pull_up", cfg.PullUp, "pull_down", cfg.PullDown)
	return nil
}

// BindFunc is Bind for a plain function
func (d *Dispatcher) BindFunc(pin Pin, fn func(Pin), cfg PinConfig) error {
	if fn == nil {
		return ErrInvalidArgument
	}
	return d.Bind(pin, PinHandlerFunc(fn), cfg)
}

// Binding reports the configuration a pin was last bound with
func (d *Dispatcher) Binding(pin Pin) (PinConfig, bool) {
	if pin >= MaxPins {
		return PinConfig{}, false
	}
	b := d.slots[pin].Load()
	if b == nil {
		return PinConfig{}, false
	}
	return b.cfg, true
}

// State returns the lifecycle state
func (d *Dispatcher) State() DispatcherState {
	return DispatcherState(d.state.Load())
}

// Stats returns the current counters
func (d *Dispatcher) Stats() DispatcherStats {
	s := DispatcherStats{
		State:     d.State(),
		Delivered: d.delivered.Load(),
		Dropped:   d.dropped.Load(),
		Panics:    d.panics.Load(),
		Unbound:   d.unbound.Load(),
	}
	if s.State == StateRunning {
		s.Pending = len(d.queue)
	}
	return s
}

// Trace returns the recent interrupt path events, oldest first
func (d *Dispatcher) Trace() []TraceEvent {
	return d.trace.Snapshot()
}

// ensureRunning performs the one-time initialization. Exactly one caller wins
// the state transition; everybody else waits for it to finish.
func (d *Dispatcher) ensureRunning() error {
	if d.state.CompareAndSwap(uint32(StateUninitialized), uint32(StateInitializing)) {
		d.initialize()
	}
	<-d.ready
	return d.initErr
}

func (d *Dispatcher) initialize() {
	defer close(d.ready)

	if err := d.hw.InstallInterruptService(d.flags); err != nil {
		d.initErr = hwErr("install interrupt service", err)
		d.state.Store(uint32(StateFailed))
		d.log.Error("interrupt service install failed", "err", err)
		return
	}

	d.queue = make(chan Event, d.depth)
	d.spawn(d.worker)
	d.state.Store(uint32(StateRunning))
	d.log.Debug("dispatcher running", "queue_depth", d.depth, "flags", d.flags)
}

// isr runs in interrupt context. It must not block, allocate or log.
func (d *Dispatcher) isr(arg uintptr) {
	pin := Pin(arg)
	select {
	case d.queue <- Event{Pin: pin}:
		d.trace.Record(TraceQueued, pin)
	default:
		d.dropped.Add(1)
		d.trace.Record(TraceDropped, pin)
	}
}

// worker delivers events in queue order for the life of the process
func (d *Dispatcher) worker() {
	for evt := range d.queue {
		d.deliver(evt)
		d.reportDrops()
	}
}

func (d *Dispatcher) deliver(evt Event) {
	var b *binding
	if evt.Pin < MaxPins {
		b = d.slots[evt.Pin].Load()
	}
	if b == nil {
		d.unbound.Add(1)
		d.trace.Record(TraceUnbound, evt.Pin)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.trace.Record(TracePanic, evt.Pin)
			d.log.Error("pin handler panicked", "pin", evt.Pin, "panic", r)
		}
	}()
	b.handler.HandlePin(evt.Pin)
	d.delivered.Add(1)
}

func (d *Dispatcher) reportDrops() {
	total := d.dropped.Load()
	if total == d.reportedDrops || !d.dropReports.Allow() {
		return
	}
	d.log.Warn("interrupt events dropped, queue full",
		"dropped", total-d.reportedDrops, "total", total, "queue_depth", d.depth)
	d.reportedDrops = total
}
