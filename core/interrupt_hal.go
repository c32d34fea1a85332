package core

// Edge selects what pin activity raises an interrupt
type Edge uint8

const (
	EdgeDisable Edge = iota
	EdgeRising
	EdgeFalling
	EdgeAny
	LevelLow
	LevelHigh
)

func (e Edge) String() string {
	switch e {
	case EdgeDisable:
		return "disable"
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	case EdgeAny:
		return "any"
	case LevelLow:
		return "low"
	case LevelHigh:
		return "high"
	default:
		return "edge(" + itoa(int(e)) + ")"
	}
}

// ParseEdge converts a config name into an Edge
func ParseEdge(s string) (Edge, bool) {
	switch s {
	case "disable", "none":
		return EdgeDisable, true
	case "rising", "posedge", "":
		return EdgeRising, true
	case "falling", "negedge":
		return EdgeFalling, true
	case "any", "both":
		return EdgeAny, true
	case "low":
		return LevelLow, true
	case "high":
		return LevelHigh, true
	}
	return EdgeDisable, false
}

// PinConfig describes how a pin is prepared for interrupt use
type PinConfig struct {
	Edge     Edge
	PullUp   bool
	PullDown bool
}

// DefaultPinConfig returns a rising-edge trigger with the pull-down enabled
func DefaultPinConfig() PinConfig {
	return PinConfig{Edge: EdgeRising, PullDown: true}
}

// Interrupt allocation flags passed to InstallInterruptService
const (
	InterruptFlagLowMed uint32 = 1 << 0 // Low and medium priority levels; handlers may be written in Go
	InterruptFlagHigh   uint32 = 1 << 1
	InterruptFlagShared uint32 = 1 << 2
)

// ISR is the entry point invoked in interrupt context. arg is the value
// given to AttachPinInterrupt.
type ISR func(arg uintptr)

// InterruptDriver is the abstract pin interrupt interface that core code uses.
type InterruptDriver interface {
	// InstallInterruptService prepares per-pin interrupt dispatch. Called once.
	InstallInterruptService(flags uint32) error

	// ConfigureInterruptPin makes the pin an interrupt capable input. Implementations
	// should leave the output driver enabled where the hardware allows it so that
	// tests can raise interrupts by writing the pin.
	ConfigureInterruptPin(pin Pin, cfg PinConfig) error

	// AttachPinInterrupt hooks isr to the pin. isr runs in interrupt context.
	AttachPinInterrupt(pin Pin, isr ISR, arg uintptr) error
}
