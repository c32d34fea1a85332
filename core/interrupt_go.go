//go:build !tinygo

package core

import "sync"

// interruptState stands in for the saved interrupt mask on regular Go
type interruptState struct{}

// Hosted builds have no interrupt controller. Simulated interrupts run on
// ordinary goroutines, so a mutex gives the same exclusion.
var hostedMask sync.Mutex

func disableInterrupts() interruptState {
	hostedMask.Lock()
	return interruptState{}
}

func restoreInterrupts(interruptState) {
	hostedMask.Unlock()
}
