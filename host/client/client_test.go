package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinmux/core"
	"pinmux/protocol"
	"pinmux/targets/sim"
)

type board struct {
	pwm  *sim.PWM
	irq  *sim.Interrupts
	disp *core.Dispatcher
}

// startBoard runs a simulated board on one end of a pipe and a client on the other
func startBoard(t *testing.T) (*Client, *board) {
	t.Helper()
	hostEnd, boardEnd := net.Pipe()

	b := &board{pwm: sim.NewPWM(), irq: sim.NewInterrupts()}
	b.disp = core.NewDispatcher(b.irq, nil)
	link := protocol.NewLink(boardEnd)
	ctrl := core.NewController(core.NewPWMBank(b.pwm, nil), b.disp, link, nil)
	go func() {
		defer boardEnd.Close()
		for {
			if _, err := link.Poll(ctrl.Handle); err != nil {
				return
			}
		}
	}()

	c := New(hostEnd, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return c, b
}

func callCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPWMLifecycle(t *testing.T) {
	c, b := startBoard(t)
	ctx := callCtx(t)

	require.NoError(t, c.OpenPWM(ctx, 1, 18, core.AutoID, core.AutoID, 2000))
	require.NoError(t, c.SetDutyPercent(ctx, 1, 50))

	st, err := c.PWMState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, PWMState{OID: 1, Duty: 2048, FrequencyHz: 2000, Timer: 0, Channel: 0}, st)
	assert.Equal(t, uint32(2048), b.pwm.Channel(0).Duty)

	require.NoError(t, c.SetFrequency(ctx, 1, 500))
	st, err = c.PWMState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(500), st.FrequencyHz)
	assert.Equal(t, uint32(2048), st.Duty)

	require.NoError(t, c.FreePWM(ctx, 1))
	_, err = c.PWMState(ctx, 1)
	assert.ErrorIs(t, err, core.ErrUnknownOutput)
	assert.Empty(t, b.pwm.ReservedPins())
}

func TestSharedTimer(t *testing.T) {
	c, _ := startBoard(t)
	ctx := callCtx(t)

	require.NoError(t, c.OpenPWM(ctx, 1, 12, 4, 2, 800))
	require.NoError(t, c.OpenPWM(ctx, 2, 13, core.AutoID, 2, 5000))

	st, err := c.PWMState(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, core.TimerID(2), st.Timer)
	assert.Equal(t, uint32(800), st.FrequencyHz, "a shared timer keeps its frequency")
	assert.Equal(t, core.ChannelID(0), st.Channel)
}

func TestCommandErrors(t *testing.T) {
	c, _ := startBoard(t)
	ctx := callCtx(t)

	require.NoError(t, c.OpenPWM(ctx, 1, 18, 0, core.AutoID, 1000))

	err := c.OpenPWM(ctx, 1, 19, core.AutoID, core.AutoID, 1000)
	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, core.CmdConfigPWMOut, ce.Command)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	err = c.OpenPWM(ctx, 2, 19, 0, core.AutoID, 1000)
	assert.ErrorIs(t, err, core.ErrChannelInUse)

	assert.ErrorIs(t, c.SetDuty(ctx, 7, 100), core.ErrUnknownOutput)

	// The failed calls leave nothing behind for the next one
	require.NoError(t, c.SetDuty(ctx, 1, 100))
}

func TestPinEvents(t *testing.T) {
	c, b := startBoard(t)
	ctx := callCtx(t)

	require.NoError(t, c.BindInterrupt(ctx, 5, core.PinConfig{Edge: core.EdgeFalling, PullUp: true}))
	cfg, ok := b.irq.PinConfig(5)
	require.True(t, ok)
	assert.Equal(t, core.PinConfig{Edge: core.EdgeFalling, PullUp: true}, cfg)

	require.True(t, b.irq.Trigger(5))
	select {
	case pin := <-c.Events():
		assert.Equal(t, core.Pin(5), pin)
	case <-ctx.Done():
		t.Fatal("no pin event")
	}

	require.Eventually(t, func() bool {
		st, err := c.IRQStats(ctx)
		return err == nil && st.Delivered == 1 && st.State == core.StateRunning
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBindRejectsLevelOutOfRange(t *testing.T) {
	c, _ := startBoard(t)
	ctx := callCtx(t)

	err := c.BindInterrupt(ctx, 3, core.PinConfig{Edge: core.LevelHigh + 1})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestCallTimesOut(t *testing.T) {
	hostEnd, boardEnd := net.Pipe()
	defer boardEnd.Close()
	// A board that reads but never answers
	go func() {
		buf := make([]byte, 64)
		for {
			if _, err := boardEnd.Read(buf); err != nil {
				return
			}
		}
	}()

	c := New(hostEnd, nil)
	runCtx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(runCtx) }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.FreePWM(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	stop()
	assert.NoError(t, <-done)
}

type brokenPort struct{}

func (brokenPort) Read([]byte) (int, error)    { return 0, errors.New("device unplugged") }
func (brokenPort) Write(p []byte) (int, error) { return len(p), nil }
func (brokenPort) Close() error                { return nil }

func TestRunReportsPortFailure(t *testing.T) {
	c := New(brokenPort{}, nil)
	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device unplugged")

	_, open := <-c.Events()
	assert.False(t, open)
}

func TestDutyValue(t *testing.T) {
	tests := []struct {
		percent float64
		want    uint32
	}{
		{0, 0},
		{-5, 0},
		{25, 1024},
		{33.3, 1364},
		{100, core.MaxDuty},
		{250, core.MaxDuty},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DutyValue(tt.percent), "%v%%", tt.percent)
	}
}
