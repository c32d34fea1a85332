package core_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinmux/core"
	"pinmux/targets/sim"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func TestDispatcherLazyInit(t *testing.T) {
	hw := sim.NewInterrupts()
	d := core.NewDispatcher(hw, nil)

	assert.Equal(t, core.StateUninitialized, d.State())
	assert.Zero(t, hw.Installs(), "nothing happens before the first bind")

	require.NoError(t, d.BindFunc(5, func(core.Pin) {}, core.DefaultPinConfig()))
	assert.Equal(t, core.StateRunning, d.State())
	assert.Equal(t, 1, hw.Installs())
	assert.Equal(t, core.InterruptFlagLowMed, hw.Flags())

	cfg, ok := hw.PinConfig(5)
	require.True(t, ok)
	assert.Equal(t, core.EdgeRising, cfg.Edge)
	assert.True(t, cfg.PullDown)
	assert.False(t, cfg.PullUp)
	assert.True(t, hw.Attached(5))
}

func TestDispatcherDeliversOnce(t *testing.T) {
	hw := sim.NewInterrupts()
	d := core.NewDispatcher(hw, nil)

	var mu sync.Mutex
	var got []core.Pin
	require.NoError(t, d.BindFunc(5, func(pin core.Pin) {
		mu.Lock()
		got = append(got, pin)
		mu.Unlock()
	}, core.DefaultPinConfig()))

	require.True(t, hw.Trigger(5))

	require.Eventually(t, func() bool { return d.Stats().Delivered == 1 }, waitFor, tick)
	// Give a stray second delivery the chance to show up
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []core.Pin{5}, got)
	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Delivered)
	assert.Zero(t, stats.Dropped)
	assert.Zero(t, stats.Pending)
}

func TestDispatcherConcurrentFirstBind(t *testing.T) {
	hw := sim.NewInterrupts()
	var spawned atomic.Int32
	d := core.NewDispatcher(hw, nil, core.WithSpawner(func(f func()) {
		spawned.Add(1)
		go f()
	}))

	const binders = 32
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, binders)
	for i := 0; i < binders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = d.BindFunc(core.Pin(i), func(core.Pin) {}, core.DefaultPinConfig())
		}(i)
	}
	close(start)
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "bind %d", i)
	}
	assert.Equal(t, 1, hw.Installs(), "interrupt service installed once")
	assert.Equal(t, int32(1), spawned.Load(), "one worker")
	assert.Equal(t, core.StateRunning, d.State())
}

func TestDispatcherQueueSaturation(t *testing.T) {
	hw := sim.NewInterrupts()
	log, logs := newTestLogger()
	d := core.NewDispatcher(hw, log, core.WithQueueDepth(4))

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	var calls atomic.Int32
	require.NoError(t, d.BindFunc(3, func(core.Pin) {
		calls.Add(1)
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	}, core.DefaultPinConfig()))

	// The first event parks the worker inside the handler
	require.True(t, hw.Trigger(3))
	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("handler never ran")
	}

	// Four more fill the queue; the rest must not block
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hw.Trigger(3)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("interrupt context blocked on a full queue")
	}

	stats := d.Stats()
	assert.Equal(t, uint64(6), stats.Dropped)
	assert.Equal(t, 4, stats.Pending)

	close(release)
	require.Eventually(t, func() bool { return d.Stats().Delivered == 5 }, waitFor, tick)
	assert.Equal(t, int32(5), calls.Load())
	assert.Equal(t, 1, logs.Count("interrupt events dropped"), "drop report is rate limited")

	var dropped int
	for _, evt := range d.Trace() {
		if evt.Kind == core.TraceDropped {
			dropped++
			assert.Equal(t, core.Pin(3), evt.Pin)
		}
	}
	assert.Equal(t, 6, dropped)
}

func TestDispatcherFIFOAcrossPins(t *testing.T) {
	hw := sim.NewInterrupts()
	d := core.NewDispatcher(hw, nil)

	var mu sync.Mutex
	var order []core.Pin
	record := func(pin core.Pin) {
		mu.Lock()
		order = append(order, pin)
		mu.Unlock()
	}
	for _, pin := range []core.Pin{1, 2, 3} {
		require.NoError(t, d.BindFunc(pin, record, core.DefaultPinConfig()))
	}

	for _, pin := range []core.Pin{2, 1, 3, 2} {
		hw.Trigger(pin)
	}
	require.Eventually(t, func() bool { return d.Stats().Delivered == 4 }, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []core.Pin{2, 1, 3, 2}, order)
}

func TestDispatcherRebindReplacesHandler(t *testing.T) {
	hw := sim.NewInterrupts()
	d := core.NewDispatcher(hw, nil)

	var first, second atomic.Int32
	require.NoError(t, d.BindFunc(9, func(core.Pin) { first.Add(1) }, core.DefaultPinConfig()))
	require.NoError(t, d.BindFunc(9, func(core.Pin) { second.Add(1) },
		core.PinConfig{Edge: core.EdgeFalling, PullUp: true}))

	cfg, ok := d.Binding(9)
	require.True(t, ok)
	assert.Equal(t, core.EdgeFalling, cfg.Edge)

	hw.Trigger(9)
	require.Eventually(t, func() bool { return second.Load() == 1 }, waitFor, tick)
	assert.Zero(t, first.Load())
	assert.Equal(t, 1, hw.Installs())
}

func TestDispatcherEdgeFromLevelChange(t *testing.T) {
	hw := sim.NewInterrupts()
	d := core.NewDispatcher(hw, nil)

	var hits atomic.Int32
	require.NoError(t, d.BindFunc(6, func(core.Pin) { hits.Add(1) }, core.DefaultPinConfig()))

	assert.True(t, hw.SetLevel(6, true), "rising edge fires")
	assert.False(t, hw.SetLevel(6, false), "falling edge does not")
	require.Eventually(t, func() bool { return hits.Load() == 1 }, waitFor, tick)
}

func TestDispatcherInstallFailure(t *testing.T) {
	hw := sim.NewInterrupts()
	boom := errors.New("no free interrupt")
	hw.FailNext(sim.OpInstallService, boom)
	d := core.NewDispatcher(hw, nil)

	err := d.BindFunc(1, func(core.Pin) {}, core.DefaultPinConfig())
	require.ErrorIs(t, err, core.ErrHardwareConfig)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, core.StateFailed, d.State())

	// Later binds report the same failure without retrying
	err = d.BindFunc(2, func(core.Pin) {}, core.DefaultPinConfig())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, hw.Installs())
	assert.False(t, hw.Attached(2))
}

func TestDispatcherAttachFailureRestoresBinding(t *testing.T) {
	hw := sim.NewInterrupts()
	d := core.NewDispatcher(hw, nil)

	require.NoError(t, d.BindFunc(4, func(core.Pin) {}, core.DefaultPinConfig()))
	hw.FailNext(sim.OpAttach, errors.New("vector busy"))

	err := d.BindFunc(4, func(core.Pin) {}, core.PinConfig{Edge: core.EdgeAny})
	require.ErrorIs(t, err, core.ErrHardwareConfig)

	cfg, ok := d.Binding(4)
	require.True(t, ok)
	assert.Equal(t, core.EdgeRising, cfg.Edge, "previous binding kept")
}

func TestDispatcherRejectsBadArguments(t *testing.T) {
	hw := sim.NewInterrupts()
	d := core.NewDispatcher(hw, nil)

	assert.ErrorIs(t, d.BindFunc(core.MaxPins, func(core.Pin) {}, core.DefaultPinConfig()), core.ErrInvalidArgument)
	assert.ErrorIs(t, d.Bind(1, nil, core.DefaultPinConfig()), core.ErrInvalidArgument)
	assert.Equal(t, core.StateUninitialized, d.State(), "rejected binds do not initialize")
}

func TestDispatcherRecoversHandlerPanic(t *testing.T) {
	hw := sim.NewInterrupts()
	log, logs := newTestLogger()
	d := core.NewDispatcher(hw, log)

	var after atomic.Int32
	require.NoError(t, d.BindFunc(1, func(core.Pin) { panic("handler bug") }, core.DefaultPinConfig()))
	require.NoError(t, d.BindFunc(2, func(core.Pin) { after.Add(1) }, core.DefaultPinConfig()))

	hw.Trigger(1)
	hw.Trigger(2)

	require.Eventually(t, func() bool { return d.Stats().Delivered == 1 }, waitFor, tick)
	assert.Equal(t, int32(1), after.Load())
	assert.Equal(t, uint64(1), d.Stats().Panics)
	assert.Contains(t, logs.String(), "pin handler panicked")
}

func TestDispatcherCustomFlagsAndDepth(t *testing.T) {
	hw := sim.NewInterrupts()
	d := core.NewDispatcher(hw, nil,
		core.WithInterruptFlags(core.InterruptFlagShared),
		core.WithQueueDepth(0),
		core.WithSpawner(func(func()) {}), // worker never runs
	)

	require.NoError(t, d.BindFunc(1, func(core.Pin) {}, core.DefaultPinConfig()))
	assert.Equal(t, core.InterruptFlagShared, hw.Flags())

	hw.Trigger(1)
	hw.Trigger(1)
	stats := d.Stats()
	assert.Equal(t, 1, stats.Pending, "depth is at least one")
	assert.Equal(t, uint64(1), stats.Dropped)
}

func TestPinHandlerInterface(t *testing.T) {
	hw := sim.NewInterrupts()
	d := core.NewDispatcher(hw, nil)

	h := &countingHandler{}
	require.NoError(t, d.Bind(7, h, core.DefaultPinConfig()))
	hw.Trigger(7)
	hw.Trigger(7)
	require.Eventually(t, func() bool { return h.n.Load() == 2 }, waitFor, tick)
}

type countingHandler struct {
	n atomic.Int32
}

func (h *countingHandler) HandlePin(core.Pin) { h.n.Add(1) }
