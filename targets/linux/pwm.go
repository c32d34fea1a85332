package linux

import (
	"log/slog"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"pinmux/core"
)

type timerState struct {
	configured bool
	running    bool
	freqHz     uint32
}

type channelState struct {
	configured bool
	pin        core.Pin
	io         gpio.PinIO
	timer      core.TimerID
	staged     uint32
}

// PWM drives core PWM channels with periph's per pin PWM output
type PWM struct {
	resolve Resolver
	log     *slog.Logger

	mu       sync.Mutex
	timers   [core.MaxTimers]timerState
	channels [core.MaxChannels]channelState
	reserved map[core.Pin]core.ChannelID
}

// NewPWM returns a PWM backend. A nil resolver uses ByNumber.
func NewPWM(resolve Resolver, log *slog.Logger) *PWM {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &PWM{
		resolve:  resolve,
		log:      log.With("backend", "linux-pwm"),
		reserved: make(map[core.Pin]core.ChannelID),
	}
}

// dutyOf scales a core duty value to periph's 24 bit duty
func dutyOf(value uint32) gpio.Duty {
	return gpio.Duty(uint64(value) * uint64(gpio.DutyMax) / core.MaxDuty)
}

func frequencyOf(hz uint32) physic.Frequency {
	return physic.Frequency(hz) * physic.Hertz
}

func (p *PWM) ConfigureTimer(id core.TimerID, freqHz uint32, resolutionBits uint8, clk core.ClockSource) error {
	if id >= core.MaxTimers || freqHz == 0 {
		return core.ErrInvalidArgument
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timers[id] = timerState{configured: true, running: true, freqHz: freqHz}
	return nil
}

// PauseTimer drives every channel on the timer low
func (p *PWM) PauseTimer(id core.TimerID) error {
	if id >= core.MaxTimers {
		return core.ErrInvalidArgument
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.timers[id].configured {
		return ErrNotConfigured
	}
	p.timers[id].running = false
	var firstErr error
	for i := range p.channels {
		c := &p.channels[i]
		if c.configured && c.timer == id {
			if err := c.io.Out(gpio.Low); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (p *PWM) DeconfigureTimer(id core.TimerID) error {
	if id >= core.MaxTimers {
		return core.ErrInvalidArgument
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.timers[id].configured {
		return ErrNotConfigured
	}
	p.timers[id] = timerState{}
	return nil
}

func (p *PWM) ConfigureChannel(ch core.ChannelID, timer core.TimerID, pin core.Pin, initialDuty uint32) error {
	if ch >= core.MaxChannels || timer >= core.MaxTimers || initialDuty > core.MaxDuty {
		return core.ErrInvalidArgument
	}
	io, err := resolve(p.resolve, pin)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.timers[timer]
	if !t.configured {
		return ErrNotConfigured
	}
	if owner, ok := p.reserved[pin]; ok && owner != ch {
		return ErrPinBusy
	}

	// The pin is reserved before it is driven so a failed PWM call still
	// leaves a reservation for the caller to revoke.
	p.reserved[pin] = ch
	p.channels[ch] = channelState{configured: true, pin: pin, io: io, timer: timer, staged: initialDuty}
	if err := io.PWM(dutyOf(initialDuty), frequencyOf(t.freqHz)); err != nil {
		return err
	}
	p.log.Debug("channel routed", "channel", ch, "timer", timer, "pin", io.Name())
	return nil
}

func (p *PWM) SetDutyRegister(ch core.ChannelID, value uint32) error {
	if ch >= core.MaxChannels || value > core.MaxDuty {
		return core.ErrInvalidArgument
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.channels[ch].configured {
		return ErrNotConfigured
	}
	p.channels[ch].staged = value
	return nil
}

// CommitDuty outputs the staged duty at the channel's timer frequency. A
// paused timer keeps the pin low.
func (p *PWM) CommitDuty(ch core.ChannelID) error {
	if ch >= core.MaxChannels {
		return core.ErrInvalidArgument
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.channels[ch]
	if !c.configured {
		return ErrNotConfigured
	}
	t := p.timers[c.timer]
	if !t.configured {
		return ErrNotConfigured
	}
	if !t.running {
		return c.io.Out(gpio.Low)
	}
	return c.io.PWM(dutyOf(c.staged), frequencyOf(t.freqHz))
}

// RevokePinReservation stops the pin's output and frees it for other uses
func (p *PWM) RevokePinReservation(pin core.Pin) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.reserved[pin]
	if !ok {
		return nil
	}
	delete(p.reserved, pin)

	c := p.channels[ch]
	p.channels[ch] = channelState{}
	if c.io == nil {
		return nil
	}
	if err := c.io.Out(gpio.Low); err != nil {
		return err
	}
	return c.io.Halt()
}

// Reserved reports whether pin is routed to a channel
func (p *PWM) Reserved(pin core.Pin) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.reserved[pin]
	return ok
}

var _ core.PWMDriver = (*PWM)(nil)
