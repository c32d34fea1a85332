// Package serial opens the serial line to a pinmux board.
package serial

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"

	"pinmux/config"
)

// Port is an open serial line
type Port interface {
	io.ReadWriteCloser

	// Flush discards unread input and unsent output
	Flush() error
}

// Config holds serial port settings
type Config struct {
	// Device path, e.g. /dev/ttyACM0
	Device string

	// Baud rate. USB CDC boards ignore it.
	Baud int

	// ReadTimeout bounds each Read; zero blocks. A timed out Read returns io.EOF.
	ReadTimeout time.Duration
}

// DefaultConfig returns settings for device with the board defaults
func DefaultConfig(device string) *Config {
	return FromConfig(config.SerialConfig{Device: device, Baud: 250000, ReadTimeoutMS: 100})
}

// FromConfig converts the serial section of a board configuration
func FromConfig(c config.SerialConfig) *Config {
	return &Config{
		Device:      c.Device,
		Baud:        c.Baud,
		ReadTimeout: c.ReadTimeout(),
	}
}

type nativePort struct {
	*serial.Port
}

// Open opens a serial port through tarm/serial
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, fmt.Errorf("serial: config cannot be nil")
	}
	p, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Device, err)
	}
	return nativePort{p}, nil
}
