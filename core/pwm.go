// PWM output support
// Binds exclusive output channels to shared hardware timers
package core

import (
	"errors"
	"log/slog"
	"math"
	"sync"
)

// OpenOption adjusts how PWMBank.Open picks resources
type OpenOption func(*openConfig)

type openConfig struct {
	channel    ChannelID
	hasChannel bool
	timer      TimerID
	hasTimer   bool
	freqHz     uint32
}

// WithChannel requests a specific output channel instead of the lowest free one
func WithChannel(id ChannelID) OpenOption {
	return func(c *openConfig) {
		c.channel = id
		c.hasChannel = true
	}
}

// WithTimer binds the output to a specific timer, sharing it if it is already
// live. A shared timer keeps its current frequency.
func WithTimer(id TimerID) OpenOption {
	return func(c *openConfig) {
		c.timer = id
		c.hasTimer = true
	}
}

// WithFrequency sets the frequency used when a new timer is created
func WithFrequency(hz uint32) OpenOption {
	return func(c *openConfig) {
		c.freqHz = hz
	}
}

// PWMStats summarises resource usage of a bank
type PWMStats struct {
	Timers   int // Live timers
	Channels int // Channels in use
	Outputs  int // Open outputs
}

// PWMBank owns the timer pool and channel set of one PWM peripheral and
// hands out outputs that use them.
type PWMBank struct {
	hw       PWMDriver
	log      *slog.Logger
	timers   *timerPool
	channels *channelSet

	mu      sync.Mutex
	outputs map[*PWMOutput]struct{}
	pins    map[Pin]struct{} // Held by an open output or an Open in progress
}

// NewPWMBank creates a bank on top of a platform driver. log may be nil.
func NewPWMBank(hw PWMDriver, log *slog.Logger) *PWMBank {
	log = orDiscard(log).With("component", "pwm")
	return &PWMBank{
		hw:       hw,
		log:      log,
		timers:   newTimerPool(hw, log),
		channels: newChannelSet(log),
		outputs:  make(map[*PWMOutput]struct{}),
		pins:     make(map[Pin]struct{}),
	}
}

// Open configures a PWM output on pin with duty 0. Either every resource is
// acquired and committed, or nothing is left behind. A pin already driven by
// an open output is refused with ErrPinInUse before anything is acquired.
func (b *PWMBank) Open(pin Pin, opts ...OpenOption) (*PWMOutput, error) {
	cfg := openConfig{freqHz: DefaultFrequency}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := b.holdPin(pin); err != nil {
		b.log.Debug("pin already driven", "pin", pin)
		return nil, err
	}
	out, err := b.open(pin, cfg)
	if err != nil {
		b.dropPin(pin)
		return nil, err
	}
	return out, nil
}

func (b *PWMBank) open(pin Pin, cfg openConfig) (*PWMOutput, error) {
	var (
		ch  ChannelID
		err error
	)
	if cfg.hasChannel {
		ch, err = b.channels.claim(cfg.channel)
	} else {
		ch, err = b.channels.allocate()
	}
	if err != nil {
		b.log.Debug("no channel for output", "pin", pin, "err", err)
		return nil, err
	}

	var th *TimerHandle
	if cfg.hasTimer {
		th, err = b.timers.acquireSpecific(cfg.timer, cfg.freqHz)
	} else {
		th, err = b.timers.acquireAvailable(cfg.freqHz)
	}
	if err != nil {
		b.channels.free(ch)
		b.log.Debug("no timer for output", "pin", pin, "channel", ch, "err", err)
		return nil, err
	}

	if err := b.hw.ConfigureChannel(ch, th.ID(), pin, 0); err != nil {
		// Undo in reverse order. The driver may have reserved the pin before
		// failing; the pin is held by this Open, so the revoke cannot touch
		// another output.
		_ = th.Release()
		_ = b.hw.RevokePinReservation(pin)
		b.channels.free(ch)
		return nil, hwErr("configure channel "+itoa(int(ch)), err)
	}

	out := &PWMOutput{bank: b, pin: pin, channel: ch, timer: th}
	b.mu.Lock()
	b.outputs[out] = struct{}{}
	b.mu.Unlock()

	b.log.Info("pwm output opened",
		"pin", pin, "channel", ch, "timer", th.ID(), "freq_hz", th.Frequency())
	return out, nil
}

// Stats reports live timers, channels in use and open outputs
func (b *PWMBank) Stats() PWMStats {
	b.mu.Lock()
	n := len(b.outputs)
	b.mu.Unlock()
	return PWMStats{
		Timers:   b.timers.live(),
		Channels: b.channels.count(),
		Outputs:  n,
	}
}

// CloseAll closes every open output. Used on shutdown.
func (b *PWMBank) CloseAll() error {
	b.mu.Lock()
	outs := make([]*PWMOutput, 0, len(b.outputs))
	for o := range b.outputs {
		outs = append(outs, o)
	}
	b.mu.Unlock()

	var errs []error
	for _, o := range outs {
		errs = append(errs, o.Close())
	}
	return errors.Join(errs...)
}

// reapplyDuty writes the stored duty of every open output on timer t back to
// hardware. Outputs are snapshotted first so no output lock is taken while
// the bank lock is held.
func (b *PWMBank) reapplyDuty(t *pwmTimer) error {
	b.mu.Lock()
	var siblings []*PWMOutput
	for o := range b.outputs {
		if o.timer.timer == t {
			siblings = append(siblings, o)
		}
	}
	b.mu.Unlock()

	var errs []error
	for _, o := range siblings {
		o.mu.Lock()
		if !o.closed {
			errs = append(errs, o.applyLocked(o.duty))
		}
		o.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (b *PWMBank) holdPin(pin Pin) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, held := b.pins[pin]; held {
		return ErrPinInUse
	}
	b.pins[pin] = struct{}{}
	return nil
}

func (b *PWMBank) dropPin(pin Pin) {
	b.mu.Lock()
	delete(b.pins, pin)
	b.mu.Unlock()
}

func (b *PWMBank) forget(o *PWMOutput) {
	b.mu.Lock()
	delete(b.outputs, o)
	b.mu.Unlock()
}

// PWMOutput is one pin driven by one exclusive channel on a shared timer
type PWMOutput struct {
	bank    *PWMBank
	pin     Pin
	channel ChannelID
	timer   *TimerHandle

	mu     sync.Mutex
	duty   uint32
	closed bool
}

func (o *PWMOutput) Pin() Pin             { return o.pin }
func (o *PWMOutput) Channel() ChannelID   { return o.channel }
func (o *PWMOutput) Timer() TimerID       { return o.timer.ID() }
func (o *PWMOutput) Frequency() uint32    { return o.timer.Frequency() }
func (o *PWMOutput) TimerRefs() int       { return o.timer.Refs() }
func (o *PWMOutput) Handle() *TimerHandle { return o.timer }

// Duty returns the last committed duty value (0 to MaxDuty)
func (o *PWMOutput) Duty() uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.duty
}

// DutyPercent returns the committed duty as a percentage
func (o *PWMOutput) DutyPercent() float64 {
	return float64(o.Duty()) * 100 / MaxDuty
}

// SetDuty sets the duty cycle as a percentage in [0, 100]. Values outside the
// range are clamped with a warning.
func (o *PWMOutput) SetDuty(percent float64) error {
	if math.IsNaN(percent) {
		return ErrInvalidArgument
	}
	if percent < 0 {
		o.bank.log.Warn("duty percentage out of range, clamped",
			"pin", o.pin, "channel", o.channel, "requested", percent, "applied", 0)
		percent = 0
	}
	scaled := math.Round(percent * MaxDuty / 100)
	if scaled > math.MaxUint32 {
		scaled = math.MaxUint32
	}
	return o.SetDutyValue(uint32(scaled))
}

// SetDutyValue sets the raw duty value. Values above MaxDuty are clamped
// with a warning.
func (o *PWMOutput) SetDutyValue(value uint32) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}
	if value > MaxDuty {
		o.bank.log.Warn("duty value out of range, clamped",
			"pin", o.pin, "channel", o.channel, "requested", value, "applied", MaxDuty)
		value = MaxDuty
	}
	return o.applyLocked(value)
}

func (o *PWMOutput) applyLocked(value uint32) error {
	hw := o.bank.hw
	if err := hw.SetDutyRegister(o.channel, value); err != nil {
		return hwErr("set duty on channel "+itoa(int(o.channel)), err)
	}
	if err := hw.CommitDuty(o.channel); err != nil {
		return hwErr("commit duty on channel "+itoa(int(o.channel)), err)
	}
	o.duty = value
	return nil
}

// SetFrequency changes the frequency of the output's timer. Every output on
// the timer has its duty re-applied so the visible duty does not move.
func (o *PWMOutput) SetFrequency(freqHz uint32) error {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if err := o.timer.SetFrequency(freqHz); err != nil {
		return err
	}
	o.bank.log.Debug("timer frequency changed",
		"timer", o.timer.ID(), "freq_hz", freqHz, "pin", o.pin)
	return o.bank.reapplyDuty(o.timer.timer)
}

// Close releases the timer reference, revokes the pin reservation and frees
// the channel. Closing twice is a no-op.
func (o *PWMOutput) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.bank.forget(o)
	err := errors.Join(
		o.timer.Release(),
		hwErr("revoke pin "+itoa(int(o.pin)), o.bank.hw.RevokePinReservation(o.pin)),
	)
	o.bank.channels.free(o.channel)
	o.bank.dropPin(o.pin)

	o.bank.log.Info("pwm output closed", "pin", o.pin, "channel", o.channel)
	return err
}
