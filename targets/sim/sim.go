// Package sim provides in-memory PWM, interrupt and GPIO hardware. It backs
// the core tests and the daemon's --sim mode.
package sim

import (
	"errors"
	"sync"
)

var (
	ErrNotConfigured    = errors.New("sim: not configured")
	ErrAlreadyInstalled = errors.New("sim: interrupt service already installed")
	ErrOutOfRange       = errors.New("sim: value out of range")
	ErrPinBusy          = errors.New("sim: pin routed to another channel")
)

// faults holds one-shot errors keyed by operation name
type faults struct {
	mu   sync.Mutex
	next map[string]error
}

// FailNext makes the next call of op return err
func (f *faults) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next == nil {
		f.next = make(map[string]error)
	}
	f.next[op] = err
}

func (f *faults) take(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.next[op]
	delete(f.next, op)
	return err
}
