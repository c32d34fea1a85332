//go:build rp2040

package main

import "machine"

// usbPort adapts the USB CDC serial to the io.ReadWriter a protocol.Link
// polls. Read never blocks; it returns what is buffered, possibly nothing.
type usbPort struct{}

// InitUSB initializes USB serial communication
// On RP2040, machine.Serial is USB CDC and TinyGo's runtime sets the descriptors
func InitUSB() usbPort {
	_ = machine.Serial.Configure(machine.UARTConfig{})
	return usbPort{}
}

func (usbPort) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) && machine.Serial.Buffered() > 0 {
		b, err := machine.Serial.ReadByte()
		if err != nil {
			return n, err
		}
		p[n] = b
		n++
	}
	return n, nil
}

func (usbPort) Write(p []byte) (int, error) {
	return machine.Serial.Write(p)
}
