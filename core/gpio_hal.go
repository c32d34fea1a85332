package core

// Pull selects the input bias resistor
type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

func (p Pull) String() string {
	switch p {
	case PullNone:
		return "none"
	case PullUp:
		return "up"
	case PullDown:
		return "down"
	default:
		return "pull(" + itoa(int(p)) + ")"
	}
}

// BitPort is the logical bit interface shared by native GPIO and IO
// expander pins. Pin numbering is local to the port.
type BitPort interface {
	// ConfigureOutput configures a pin as a digital output
	ConfigureOutput(pin Pin) error

	// ConfigureInput configures a pin as a digital input with the given bias.
	// Ports without bias resistors ignore pull.
	ConfigureInput(pin Pin, pull Pull) error

	// Set drives an output pin high (true) or low (false)
	Set(pin Pin, on bool) error

	// Get reads the current pin level
	Get(pin Pin) (bool, error)
}
