//go:build rp2040

package main

import (
	"errors"
	"machine"

	"pinmux/core"
)

// pwmPeripheral is an interface for PWM hardware peripherals
// This abstracts over TinyGo's unexported *pwmGroup type
type pwmPeripheral interface {
	Configure(config machine.PWMConfig) error
	Channel(pin machine.Pin) (uint8, error)
	SetPeriod(period uint64) error
	Top() uint32
	Set(channel uint8, value uint32)
	Enable(enable bool)
}

const (
	numSlices = 8
	numGPIO   = 30
	noTimer   = -1
)

var (
	errTimerRange    = errors.New("timer id out of range")
	errChannelRange  = errors.New("channel id out of range")
	errPinRange      = errors.New("pin is not a gpio")
	errNotConfigured = errors.New("timer not configured")
	errSliceBusy     = errors.New("pwm slice driven by another timer")
	errPinReserved   = errors.New("pin reserved by another channel")
)

type timerState struct {
	configured bool
	running    bool
	periodNs   uint64
}

type channelState struct {
	configured bool
	pin        machine.Pin
	slice      uint8
	hw         uint8 // A or B output of the slice
	timer      core.TimerID
	staged     uint32
}

// RP2040PWMDriver implements core.PWMDriver on the RP2040's 8 PWM slices.
// Timers are logical: a slice takes the period of the first timer routed to
// it and only channels of that timer may use the slice until it is idle.
type RP2040PWMDriver struct {
	timers   [core.MaxTimers]timerState
	channels [core.MaxChannels]channelState

	// Slice number is fixed by the pin: (N >> 1) & 0x7, even=A, odd=B
	sliceOwner [numSlices]int8
	sliceUsers [numSlices]uint8

	reserved map[core.Pin]core.ChannelID
}

// NewRP2040PWMDriver creates a new RP2040 PWM driver
func NewRP2040PWMDriver() *RP2040PWMDriver {
	d := &RP2040PWMDriver{reserved: make(map[core.Pin]core.ChannelID)}
	for i := range d.sliceOwner {
		d.sliceOwner[i] = noTimer
	}
	return d
}

func (d *RP2040PWMDriver) ConfigureTimer(id core.TimerID, freqHz uint32, resolutionBits uint8, clk core.ClockSource) error {
	if id >= core.MaxTimers {
		return errTimerRange
	}
	if freqHz == 0 {
		return core.ErrInvalidArgument
	}
	t := &d.timers[id]
	t.configured = true
	t.running = true
	t.periodNs = 1000000000 / uint64(freqHz)

	// Reconfigure in place. The bank re-applies duty afterwards since
	// Top() moves with the period.
	for s := uint8(0); s < numSlices; s++ {
		if d.sliceOwner[s] != int8(id) {
			continue
		}
		pwm := getPWMPeripheral(s)
		if err := pwm.SetPeriod(t.periodNs); err != nil {
			return err
		}
		pwm.Enable(true)
	}
	return nil
}

// PauseTimer drives every channel on the timer low and stops its slices
func (d *RP2040PWMDriver) PauseTimer(id core.TimerID) error {
	if id >= core.MaxTimers {
		return errTimerRange
	}
	d.timers[id].running = false
	for i := range d.channels {
		c := &d.channels[i]
		if c.configured && c.timer == id {
			getPWMPeripheral(c.slice).Set(c.hw, 0)
		}
	}
	for s := uint8(0); s < numSlices; s++ {
		if d.sliceOwner[s] == int8(id) {
			getPWMPeripheral(s).Enable(false)
		}
	}
	return nil
}

func (d *RP2040PWMDriver) DeconfigureTimer(id core.TimerID) error {
	if id >= core.MaxTimers {
		return errTimerRange
	}
	d.timers[id] = timerState{}
	return nil
}

// ConfigureChannel reserves the pin before touching the slice, so a failure
// part way leaves a reservation for RevokePinReservation to undo.
func (d *RP2040PWMDriver) ConfigureChannel(ch core.ChannelID, timer core.TimerID, pin core.Pin, initialDuty uint32) error {
	if ch >= core.MaxChannels {
		return errChannelRange
	}
	if timer >= core.MaxTimers {
		return errTimerRange
	}
	if pin >= numGPIO {
		return errPinRange
	}
	t := &d.timers[timer]
	if !t.configured {
		return errNotConfigured
	}
	if owner, ok := d.reserved[pin]; ok && owner != ch {
		return errPinReserved
	}

	slice := uint8(pin>>1) & 0x7
	owner := d.sliceOwner[slice]
	if owner != noTimer && owner != int8(timer) {
		return errSliceBusy
	}
	d.reserved[pin] = ch

	pwm := getPWMPeripheral(slice)
	if owner == noTimer {
		if err := pwm.Configure(machine.PWMConfig{Period: t.periodNs}); err != nil {
			return err
		}
	}
	hw, err := pwm.Channel(machine.Pin(pin))
	if err != nil {
		return err
	}

	d.sliceOwner[slice] = int8(timer)
	d.sliceUsers[slice]++
	d.channels[ch] = channelState{
		configured: true,
		pin:        machine.Pin(pin),
		slice:      slice,
		hw:         hw,
		timer:      timer,
		staged:     initialDuty,
	}
	pwm.Enable(t.running)
	return d.CommitDuty(ch)
}

func (d *RP2040PWMDriver) SetDutyRegister(ch core.ChannelID, value uint32) error {
	if ch >= core.MaxChannels {
		return errChannelRange
	}
	if !d.channels[ch].configured {
		return errNotConfigured
	}
	d.channels[ch].staged = value
	return nil
}

// CommitDuty scales the staged value to the slice's counter top
func (d *RP2040PWMDriver) CommitDuty(ch core.ChannelID) error {
	if ch >= core.MaxChannels {
		return errChannelRange
	}
	c := &d.channels[ch]
	if !c.configured {
		return errNotConfigured
	}
	pwm := getPWMPeripheral(c.slice)
	if !d.timers[c.timer].running {
		pwm.Set(c.hw, 0)
		return nil
	}
	top := uint64(pwm.Top())
	pwm.Set(c.hw, uint32(uint64(c.staged)*top/core.MaxDuty))
	return nil
}

// RevokePinReservation returns the pin to a low GPIO output
func (d *RP2040PWMDriver) RevokePinReservation(pin core.Pin) error {
	ch, ok := d.reserved[pin]
	if !ok {
		return nil
	}
	delete(d.reserved, pin)

	c := &d.channels[ch]
	if c.configured {
		pwm := getPWMPeripheral(c.slice)
		pwm.Set(c.hw, 0)
		d.sliceUsers[c.slice]--
		if d.sliceUsers[c.slice] == 0 {
			pwm.Enable(false)
			d.sliceOwner[c.slice] = noTimer
		}
	}
	d.channels[ch] = channelState{}

	p := machine.Pin(pin)
	p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.Low()
	return nil
}

// getPWMPeripheral returns the PWM peripheral for a given slice number
func getPWMPeripheral(slice uint8) pwmPeripheral {
	switch slice {
	case 0:
		return machine.PWM0
	case 1:
		return machine.PWM1
	case 2:
		return machine.PWM2
	case 3:
		return machine.PWM3
	case 4:
		return machine.PWM4
	case 5:
		return machine.PWM5
	case 6:
		return machine.PWM6
	default:
		return machine.PWM7
	}
}

var _ core.PWMDriver = (*RP2040PWMDriver)(nil)
