package sim

import (
	"sort"
	"sync"

	"pinmux/core"
)

// Operation names for FailNext and Calls
const (
	OpConfigureTimer   = "configure_timer"
	OpPauseTimer       = "pause_timer"
	OpDeconfigureTimer = "deconfigure_timer"
	OpConfigureChannel = "configure_channel"
	OpSetDuty          = "set_duty"
	OpCommitDuty       = "commit_duty"
	OpRevokePin        = "revoke_pin"
)

// TimerState is the simulated register state of one timer
type TimerState struct {
	Configured     bool
	Paused         bool
	FreqHz         uint32
	ResolutionBits uint8
	Clock          core.ClockSource
}

// ChannelState is the simulated register state of one channel
type ChannelState struct {
	Configured bool
	Timer      core.TimerID
	Pin        core.Pin
	Staged     uint32 // Written by SetDutyRegister
	Duty       uint32 // Visible after CommitDuty
}

// PWM simulates a PWM peripheral with core.MaxTimers timers and
// core.MaxChannels channels. It implements core.PWMDriver.
type PWM struct {
	faults

	mu       sync.Mutex
	timers   [core.MaxTimers]TimerState
	channels [core.MaxChannels]ChannelState
	reserved map[core.Pin]core.ChannelID
	calls    []string
}

// NewPWM returns a peripheral with everything deconfigured
func NewPWM() *PWM {
	return &PWM{reserved: make(map[core.Pin]core.ChannelID)}
}

func (p *PWM) begin(op string) error {
	p.calls = append(p.calls, op)
	return p.take(op)
}

func (p *PWM) ConfigureTimer(id core.TimerID, freqHz uint32, resolutionBits uint8, clk core.ClockSource) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(OpConfigureTimer); err != nil {
		return err
	}
	if int(id) >= len(p.timers) || freqHz == 0 {
		return ErrOutOfRange
	}
	p.timers[id] = TimerState{
		Configured:     true,
		FreqHz:         freqHz,
		ResolutionBits: resolutionBits,
		Clock:          clk,
	}
	return nil
}

func (p *PWM) PauseTimer(id core.TimerID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(OpPauseTimer); err != nil {
		return err
	}
	if int(id) >= len(p.timers) || !p.timers[id].Configured {
		return ErrNotConfigured
	}
	p.timers[id].Paused = true
	return nil
}

func (p *PWM) DeconfigureTimer(id core.TimerID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(OpDeconfigureTimer); err != nil {
		return err
	}
	if int(id) >= len(p.timers) || !p.timers[id].Configured {
		return ErrNotConfigured
	}
	p.timers[id] = TimerState{}
	return nil
}

func (p *PWM) ConfigureChannel(ch core.ChannelID, timer core.TimerID, pin core.Pin, initialDuty uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(OpConfigureChannel); err != nil {
		return err
	}
	if int(ch) >= len(p.channels) || int(timer) >= len(p.timers) || initialDuty > core.MaxDuty {
		return ErrOutOfRange
	}
	if !p.timers[timer].Configured {
		return ErrNotConfigured
	}
	if owner, ok := p.reserved[pin]; ok && owner != ch {
		return ErrPinBusy
	}
	p.channels[ch] = ChannelState{
		Configured: true,
		Timer:      timer,
		Pin:        pin,
		Staged:     initialDuty,
		Duty:       initialDuty,
	}
	p.reserved[pin] = ch
	return nil
}

func (p *PWM) SetDutyRegister(ch core.ChannelID, value uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(OpSetDuty); err != nil {
		return err
	}
	if int(ch) >= len(p.channels) || value > core.MaxDuty {
		return ErrOutOfRange
	}
	if !p.channels[ch].Configured {
		return ErrNotConfigured
	}
	p.channels[ch].Staged = value
	return nil
}

func (p *PWM) CommitDuty(ch core.ChannelID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(OpCommitDuty); err != nil {
		return err
	}
	if int(ch) >= len(p.channels) || !p.channels[ch].Configured {
		return ErrNotConfigured
	}
	p.channels[ch].Duty = p.channels[ch].Staged
	return nil
}

// RevokePinReservation frees the pin and detaches the channel that holds it
func (p *PWM) RevokePinReservation(pin core.Pin) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(OpRevokePin); err != nil {
		return err
	}
	ch, ok := p.reserved[pin]
	if !ok {
		return nil
	}
	delete(p.reserved, pin)
	if p.channels[ch].Pin == pin {
		p.channels[ch] = ChannelState{}
	}
	return nil
}

// Timer returns the state of a timer
func (p *PWM) Timer(id core.TimerID) TimerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timers[id]
}

// Channel returns the state of a channel
func (p *PWM) Channel(id core.ChannelID) ChannelState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channels[id]
}

// ConfiguredTimers returns how many timers are configured
func (p *PWM) ConfiguredTimers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.timers {
		if t.Configured {
			n++
		}
	}
	return n
}

// ReservedPins returns the pins currently reserved by channel configuration
func (p *PWM) ReservedPins() []core.Pin {
	p.mu.Lock()
	defer p.mu.Unlock()
	pins := make([]core.Pin, 0, len(p.reserved))
	for pin := range p.reserved {
		pins = append(pins, pin)
	}
	sort.Slice(pins, func(i, j int) bool { return pins[i] < pins[j] })
	return pins
}

// Calls returns the operations performed so far, in order
func (p *PWM) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// ResetCalls clears the call log
func (p *PWM) ResetCalls() {
	p.mu.Lock()
	p.calls = nil
	p.mu.Unlock()
}
