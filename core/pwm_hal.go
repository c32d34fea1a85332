package core

// Pin identifies a physical GPIO line
type Pin uint32

// TimerID identifies one of the shared PWM timers (0 to MaxTimers-1)
type TimerID uint8

// ChannelID identifies one of the exclusive PWM output channels (0 to MaxChannels-1)
type ChannelID uint8

// ClockSource selects the clock feeding a PWM timer
type ClockSource uint8

const (
	ClockAuto ClockSource = iota // Let the platform pick a source that can reach the frequency
	ClockAPB
	ClockRTC
)

// PWM limits. Resolution is fixed per platform.
const (
	MaxTimers          = 4
	MaxChannels        = 8
	DutyResolutionBits = 12
	MaxDuty            = 1 << DutyResolutionBits // 4096
	DefaultFrequency   = 1000                    // Hz
)

// PWMDriver is the abstract PWM interface that core code uses.
// Platform-specific implementations handle actual hardware control.
type PWMDriver interface {
	// ConfigureTimer commits frequency, resolution and clock source for a timer.
	// Calling it on an already configured timer reconfigures it in place.
	ConfigureTimer(id TimerID, freqHz uint32, resolutionBits uint8, clk ClockSource) error

	// PauseTimer stops the timer counter without releasing it
	PauseTimer(id TimerID) error

	// DeconfigureTimer releases the timer hardware
	DeconfigureTimer(id TimerID) error

	// ConfigureChannel routes a channel to a pin and a timer with an initial duty.
	// Drivers may reserve the pin as a side effect; see RevokePinReservation.
	ConfigureChannel(ch ChannelID, timer TimerID, pin Pin, initialDuty uint32) error

	// SetDutyRegister stages a duty value (0 to MaxDuty) for a channel
	SetDutyRegister(ch ChannelID, value uint32) error

	// CommitDuty makes the staged duty value visible on the output
	CommitDuty(ch ChannelID) error

	// RevokePinReservation undoes the pin reservation made by ConfigureChannel
	RevokePinReservation(pin Pin) error
}
