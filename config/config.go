// Package config loads the board description: which pins carry PWM outputs,
// which pins raise interrupts, and how the host reaches the board.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"pinmux/core"
)

// Config is the root of a board configuration file
type Config struct {
	Log        LogConfig         `yaml:"log"`
	Serial     SerialConfig      `yaml:"serial"`
	Dispatcher DispatcherConfig  `yaml:"dispatcher"`
	PWM        []PWMConfig       `yaml:"pwm"`
	Interrupts []InterruptConfig `yaml:"interrupts"`
	Expander   *ExpanderConfig   `yaml:"expander"`
}

// LogConfig selects level (debug, info, warn, error), format (text, json)
// and output (stdout, stderr or a file path).
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type SerialConfig struct {
	Device        string `yaml:"device"`
	Baud          int    `yaml:"baud"`
	ReadTimeoutMS int    `yaml:"read_timeout_ms"`
}

// ReadTimeout returns the serial read timeout as a duration
func (s SerialConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

type DispatcherConfig struct {
	QueueDepth    int           `yaml:"queue_depth"`
	StatsInterval time.Duration `yaml:"stats_interval"`
}

// PWMConfig describes one output. Channel and Timer are optional; when
// omitted the bank picks the lowest free one.
type PWMConfig struct {
	Name        string  `yaml:"name"`
	OID         uint8   `yaml:"oid"`
	Pin         uint32  `yaml:"pin"`
	Channel     *uint8  `yaml:"channel"`
	Timer       *uint8  `yaml:"timer"`
	FrequencyHz uint32  `yaml:"frequency_hz"`
	DutyPercent float64 `yaml:"duty_percent"`
}

// Options converts the entry into PWMBank.Open options
func (p PWMConfig) Options() []core.OpenOption {
	opts := []core.OpenOption{core.WithFrequency(p.FrequencyHz)}
	if p.Channel != nil {
		opts = append(opts, core.WithChannel(core.ChannelID(*p.Channel)))
	}
	if p.Timer != nil {
		opts = append(opts, core.WithTimer(core.TimerID(*p.Timer)))
	}
	return opts
}

type InterruptConfig struct {
	Name     string `yaml:"name"`
	Pin      uint32 `yaml:"pin"`
	Edge     string `yaml:"edge"`
	PullUp   *bool  `yaml:"pull_up"`
	PullDown *bool  `yaml:"pull_down"`
}

// PinConfig converts the entry into a dispatcher pin configuration. Call it
// on a validated config; an unknown edge name maps to EdgeDisable.
func (i InterruptConfig) PinConfig() core.PinConfig {
	edge, _ := core.ParseEdge(i.Edge)
	return core.PinConfig{
		Edge:     edge,
		PullUp:   i.PullUp != nil && *i.PullUp,
		PullDown: i.PullDown != nil && *i.PullDown,
	}
}

// ExpanderConfig enables a PCA9557 IO expander
type ExpanderConfig struct {
	Bus     int   `yaml:"bus"`
	Address uint8 `yaml:"address"`
}

// Defaults returns a configuration with no outputs and default settings
func Defaults() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, fills in defaults and validates the result.
// Unknown keys are rejected so typos do not go unnoticed.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in missing values
func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stderr"
	}

	if cfg.Serial.Device == "" {
		cfg.Serial.Device = "/dev/ttyACM0"
	}
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 250000
	}
	if cfg.Serial.ReadTimeoutMS == 0 {
		cfg.Serial.ReadTimeoutMS = 100
	}

	if cfg.Dispatcher.QueueDepth == 0 {
		cfg.Dispatcher.QueueDepth = core.DefaultQueueDepth
	}
	if cfg.Dispatcher.StatsInterval == 0 {
		cfg.Dispatcher.StatsInterval = 30 * time.Second
	}

	for i := range cfg.PWM {
		if cfg.PWM[i].FrequencyHz == 0 {
			cfg.PWM[i].FrequencyHz = core.DefaultFrequency
		}
	}

	for i := range cfg.Interrupts {
		irq := &cfg.Interrupts[i]
		if irq.Edge == "" {
			irq.Edge = "rising"
		}
		// Matches DefaultPinConfig: pull-down unless a pull was asked for
		if irq.PullUp == nil && irq.PullDown == nil {
			on := true
			irq.PullDown = &on
		}
	}

	if cfg.Expander != nil && cfg.Expander.Address == 0 {
		cfg.Expander.Address = 0x18
	}
}
