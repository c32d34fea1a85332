package core

import "log/slog"

// orDiscard returns l, or a logger that drops everything when l is nil
func orDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l
}

// TraceKind classifies an entry in a TraceRing
type TraceKind uint8

// Trace kinds
const (
	TraceQueued   TraceKind = iota + 1 // ISR queued an event
	TraceDropped                       // ISR found the queue full
	TraceUnbound                       // Worker got an event for a pin with no handler
	TracePanic                         // Handler panicked
)

func (k TraceKind) String() string {
	switch k {
	case TraceQueued:
		return "QUEUED"
	case TraceDropped:
		return "DROPPED"
	case TraceUnbound:
		return "UNBOUND"
	case TracePanic:
		return "PANIC"
	default:
		return "UNKNOWN"
	}
}

// TraceEvent captures one interrupt path event for post-mortem analysis
type TraceEvent struct {
	Seq  uint32 // Monotonic, starts at 1
	Kind TraceKind
	Pin  Pin
}

const (
	TraceRingSize = 32 // Keep last 32 events
)

// TraceRing is a fixed-size ring of recent interrupt path events. Record is
// safe to call from interrupt context: it never allocates and only masks
// interrupts for a few stores.
type TraceRing struct {
	events [TraceRingSize]TraceEvent
	head   uint8
	seq    uint32
}

// Record captures an event, overwriting the oldest one when full
func (r *TraceRing) Record(kind TraceKind, pin Pin) {
	state := disableInterrupts()
	r.seq++
	r.events[r.head] = TraceEvent{Seq: r.seq, Kind: kind, Pin: pin}
	r.head = (r.head + 1) % TraceRingSize
	restoreInterrupts(state)
}

// Snapshot returns the recorded events from oldest to newest
func (r *TraceRing) Snapshot() []TraceEvent {
	state := disableInterrupts()
	ring := r.events
	start := r.head
	restoreInterrupts(state)

	out := make([]TraceEvent, 0, TraceRingSize)
	for i := uint8(0); i < TraceRingSize; i++ {
		evt := ring[(start+i)%TraceRingSize]
		if evt.Kind == 0 {
			continue // Empty slot
		}
		out = append(out, evt)
	}
	return out
}

// Clear empties the ring. Sequence numbers keep counting.
func (r *TraceRing) Clear() {
	state := disableInterrupts()
	r.events = [TraceRingSize]TraceEvent{}
	r.head = 0
	restoreInterrupts(state)
}
