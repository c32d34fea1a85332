package core

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// pwmTimer is a live hardware timer shared by one or more PWM outputs.
// All fields are guarded by the owning pool's mutex.
type pwmTimer struct {
	id     TimerID
	freqHz uint32
	refs   int
}

// TimerHandle is one holder's reference to a shared timer. The timer is torn
// down when the last handle is released.
type TimerHandle struct {
	pool     *timerPool
	timer    *pwmTimer
	released atomic.Bool
}

// ID returns the hardware timer number
func (h *TimerHandle) ID() TimerID {
	return h.timer.id
}

// Frequency returns the frequency currently committed to the timer
func (h *TimerHandle) Frequency() uint32 {
	h.pool.mu.Lock()
	defer h.pool.mu.Unlock()
	return h.timer.freqHz
}

// Refs returns the number of live handles on the timer
func (h *TimerHandle) Refs() int {
	h.pool.mu.Lock()
	defer h.pool.mu.Unlock()
	return h.timer.refs
}

// SetFrequency reconfigures the timer in place. Every output bound to the
// timer sees the new frequency; duty registers are not touched here.
func (h *TimerHandle) SetFrequency(freqHz uint32) error {
	if h.released.Load() {
		return ErrClosed
	}
	return h.pool.setFrequency(h.timer, freqHz)
}

// Release drops this handle's reference. Releasing a handle twice is a no-op.
func (h *TimerHandle) Release() error {
	if !h.released.CompareAndSwap(false, true) {
		return nil
	}
	return h.pool.release(h.timer)
}

// timerPool owns the fixed set of PWM timers and their reference counts
type timerPool struct {
	mu     sync.Mutex
	hw     PWMDriver
	log    *slog.Logger
	timers [MaxTimers]*pwmTimer
}

func newTimerPool(hw PWMDriver, log *slog.Logger) *timerPool {
	return &timerPool{hw: hw, log: orDiscard(log)}
}

// acquireAvailable creates the lowest numbered timer that is not live.
// It never shares an existing timer.
func (p *timerPool) acquireAvailable(freqHz uint32) (*TimerHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.timers {
		if p.timers[i] != nil {
			continue
		}
		id := TimerID(i)
		p.log.Debug("timer available", "timer", id)
		t, err := p.createLocked(id, freqHz)
		if err != nil {
			return nil, err
		}
		return p.handle(t), nil
	}
	return nil, ErrResourceExhausted
}

// acquireSpecific returns a handle on timer id, creating it if needed.
// An existing timer keeps its frequency; freqHz only applies on creation.
func (p *timerPool) acquireSpecific(id TimerID, freqHz uint32) (*TimerHandle, error) {
	id = p.clamp(id)

	p.mu.Lock()
	defer p.mu.Unlock()

	if t := p.timers[id]; t != nil {
		t.refs++
		p.log.Debug("sharing timer", "timer", id, "refs", t.refs)
		return p.handle(t), nil
	}
	t, err := p.createLocked(id, freqHz)
	if err != nil {
		return nil, err
	}
	return p.handle(t), nil
}

func (p *timerPool) clamp(id TimerID) TimerID {
	if id < MaxTimers {
		return id
	}
	clamped := TimerID(MaxTimers - 1)
	p.log.Warn("timer id out of range, clamped",
		"requested", id, "applied", clamped, "max", MaxTimers-1)
	return clamped
}

// createLocked commits the hardware configuration and records the timer.
// Nothing is recorded when the hardware rejects the configuration.
func (p *timerPool) createLocked(id TimerID, freqHz uint32) (*pwmTimer, error) {
	if freqHz == 0 {
		freqHz = DefaultFrequency
	}
	if err := p.hw.ConfigureTimer(id, freqHz, DutyResolutionBits, ClockAuto); err != nil {
		return nil, hwErr("configure timer "+itoa(int(id)), err)
	}
	t := &pwmTimer{id: id, freqHz: freqHz, refs: 1}
	p.timers[id] = t
	p.log.Debug("timer created", "timer", id, "freq_hz", freqHz)
	return t, nil
}

func (p *timerPool) handle(t *pwmTimer) *TimerHandle {
	return &TimerHandle{pool: p, timer: t}
}

func (p *timerPool) release(t *pwmTimer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	t.refs--
	if t.refs > 0 {
		p.log.Debug("timer still referenced", "timer", t.id, "refs", t.refs)
		return nil
	}

	// The entry goes away even if teardown fails so the id can be reused.
	p.timers[t.id] = nil
	p.log.Debug("tearing down timer", "timer", t.id)
	return errors.Join(
		hwErr("pause timer "+itoa(int(t.id)), p.hw.PauseTimer(t.id)),
		hwErr("deconfigure timer "+itoa(int(t.id)), p.hw.DeconfigureTimer(t.id)),
	)
}

func (p *timerPool) setFrequency(t *pwmTimer, freqHz uint32) error {
	if freqHz == 0 {
		return ErrInvalidArgument
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.timers[t.id] != t {
		return ErrClosed
	}
	if err := p.hw.ConfigureTimer(t.id, freqHz, DutyResolutionBits, ClockAuto); err != nil {
		return hwErr("configure timer "+itoa(int(t.id)), err)
	}
	t.freqHz = freqHz
	return nil
}

// live returns the number of timers currently configured
func (p *timerPool) live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.timers {
		if t != nil {
			n++
		}
	}
	return n
}
