package core

import "errors"

var (
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrHardwareConfig    = errors.New("hardware configuration failed")
	ErrClosed            = errors.New("pwm output closed")
	ErrUnknownOutput     = errors.New("unknown pwm output")

	// ErrChannelInUse and ErrPinInUse match ErrResourceExhausted as well
	ErrChannelInUse = &inUseError{what: "pwm channel"}
	ErrPinInUse     = &inUseError{what: "pin"}
)

type inUseError struct {
	what string
}

func (e *inUseError) Error() string { return e.what + " already in use" }

func (*inUseError) Unwrap() error { return ErrResourceExhausted }

// HardwareError reports a failed call into a PWMDriver or InterruptDriver.
// errors.Is matches both ErrHardwareConfig and the driver error.
type HardwareError struct {
	Op  string
	Err error
}

func (e *HardwareError) Error() string {
	return "hardware: " + e.Op + ": " + e.Err.Error()
}

func (e *HardwareError) Unwrap() []error {
	return []error{ErrHardwareConfig, e.Err}
}

func hwErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &HardwareError{Op: op, Err: err}
}

// ErrUnknownCommand is returned when a command id has no handler
var ErrUnknownCommand = errors.New("unknown command")
