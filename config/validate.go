package config

import (
	"fmt"
	"math"
	"strings"

	"pinmux/core"
)

// ValidationError collects every problem found in a configuration
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for consistency. Out of range channel and timer ids are
// accepted here; the PWM bank clamps them with a warning.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLog(cfg, ve)
	validateSerial(cfg, ve)
	validateDispatcher(cfg, ve)
	names := map[string]string{}
	validatePWM(cfg, names, ve)
	validateInterrupts(cfg, names, ve)
	validateExpander(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateLog(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("log.level %q is not one of debug, info, warn, error", cfg.Log.Level)
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "text", "json":
	default:
		ve.Add("log.format %q is not one of text, json", cfg.Log.Format)
	}
}

func validateSerial(cfg *Config, ve *ValidationError) {
	if cfg.Serial.Baud <= 0 {
		ve.Add("serial.baud must be > 0")
	}
	if cfg.Serial.ReadTimeoutMS < 0 {
		ve.Add("serial.read_timeout_ms must be >= 0")
	}
}

func validateDispatcher(cfg *Config, ve *ValidationError) {
	if cfg.Dispatcher.QueueDepth < 1 {
		ve.Add("dispatcher.queue_depth must be > 0")
	}
	if cfg.Dispatcher.StatsInterval < 0 {
		ve.Add("dispatcher.stats_interval must be >= 0")
	}
}

func checkName(kind string, idx int, name string, names map[string]string, ve *ValidationError) {
	if name == "" {
		ve.Add("%s[%d].name must not be empty", kind, idx)
		return
	}
	if prev, ok := names[name]; ok {
		ve.Add("%s[%d].name %q already used by %s", kind, idx, name, prev)
		return
	}
	names[name] = fmt.Sprintf("%s[%d]", kind, idx)
}

func validatePWM(cfg *Config, names map[string]string, ve *ValidationError) {
	oids := map[uint8]int{}
	pins := map[uint32]int{}
	for i, p := range cfg.PWM {
		checkName("pwm", i, p.Name, names, ve)
		if j, ok := oids[p.OID]; ok {
			ve.Add("pwm[%d].oid %d already used by pwm[%d]", i, p.OID, j)
		} else {
			oids[p.OID] = i
		}
		if j, ok := pins[p.Pin]; ok {
			ve.Add("pwm[%d].pin %d already used by pwm[%d]", i, p.Pin, j)
		} else {
			pins[p.Pin] = i
		}
		if math.IsNaN(p.DutyPercent) || p.DutyPercent < 0 || p.DutyPercent > 100 {
			ve.Add("pwm[%d].duty_percent must be within [0, 100]", i)
		}
	}
}

func validateInterrupts(cfg *Config, names map[string]string, ve *ValidationError) {
	pins := map[uint32]int{}
	for i, irq := range cfg.Interrupts {
		checkName("interrupts", i, irq.Name, names, ve)
		if j, ok := pins[irq.Pin]; ok {
			ve.Add("interrupts[%d].pin %d already used by interrupts[%d]", i, irq.Pin, j)
		} else {
			pins[irq.Pin] = i
		}
		if irq.Pin >= core.MaxPins {
			ve.Add("interrupts[%d].pin must be < %d", i, core.MaxPins)
		}
		if _, ok := core.ParseEdge(irq.Edge); !ok {
			ve.Add("interrupts[%d].edge %q is not one of rising, falling, any, low, high", i, irq.Edge)
		}
	}
}

func validateExpander(cfg *Config, ve *ValidationError) {
	if cfg.Expander == nil {
		return
	}
	if cfg.Expander.Address&0xF8 != 0x18 {
		ve.Add("expander.address 0x%02x is not a PCA9557 address (0x18 to 0x1f)", cfg.Expander.Address)
	}
	if cfg.Expander.Bus < 0 {
		ve.Add("expander.bus must be >= 0")
	}
}
