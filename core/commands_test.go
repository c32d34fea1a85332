package core_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinmux/core"
	"pinmux/protocol"
	"pinmux/targets/sim"
)

type sent struct {
	id   uint16
	args []uint32
}

// recorder is a Responder that keeps everything sent to it
type recorder struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recorder) Send(id uint16, args ...uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{id: id, args: append([]uint32(nil), args...)})
	return nil
}

func (r *recorder) named(reg *core.CommandRegistry, name string) []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := reg.MustID(name)
	var out []sent
	for _, s := range r.sent {
		if s.id == id {
			out = append(out, s)
		}
	}
	return out
}

type controllerRig struct {
	ctrl *core.Controller
	pwm  *sim.PWM
	irq  *sim.Interrupts
	disp *core.Dispatcher
	out  *recorder
	logs *logBuffer // Bank log
}

func newControllerRig(t *testing.T) *controllerRig {
	t.Helper()
	rig := &controllerRig{pwm: sim.NewPWM(), irq: sim.NewInterrupts(), out: &recorder{}}
	rig.disp = core.NewDispatcher(rig.irq, nil)
	log, logs := newTestLogger()
	rig.logs = logs
	rig.ctrl = core.NewController(core.NewPWMBank(rig.pwm, log), rig.disp, rig.out, nil)
	return rig
}

// call encodes a command the way the link delivers it and runs it
func (r *controllerRig) call(t *testing.T, name string, args ...uint32) error {
	t.Helper()
	payload, err := protocol.EncodeCommand(r.ctrl.Registry().MustID(name), args...)
	require.NoError(t, err)
	cmdID, err := protocol.DecodeVLQUint(&payload)
	require.NoError(t, err)
	err = r.ctrl.Handle(uint16(cmdID), &payload)
	assert.Empty(t, payload, "%s left arguments unread", name)
	return err
}

func (r *controllerRig) lastError(t *testing.T) (cmd string, code uint8) {
	t.Helper()
	errs := r.out.named(r.ctrl.Registry(), core.RespCommandError)
	require.NotEmpty(t, errs, "no command_error sent")
	last := errs[len(errs)-1]
	c, ok := r.ctrl.Registry().GetCommand(uint16(last.args[0]))
	require.True(t, ok)
	return c.Name, uint8(last.args[1])
}

func TestControllerPWMLifecycle(t *testing.T) {
	rig := newControllerRig(t)

	require.NoError(t, rig.call(t, core.CmdConfigPWMOut, 1, 18, core.AutoID, core.AutoID, 2000))
	require.NoError(t, rig.call(t, core.CmdSetPWMDuty, 1, 1024))
	require.NoError(t, rig.call(t, core.CmdGetPWMState, 1))

	states := rig.out.named(rig.ctrl.Registry(), core.RespPWMState)
	require.Len(t, states, 1)
	// oid duty freq timer channel
	assert.Equal(t, []uint32{1, 1024, 2000, 0, 0}, states[0].args)
	assert.Equal(t, uint32(1024), rig.pwm.Channel(0).Duty)

	require.NoError(t, rig.call(t, core.CmdSetPWMFrequency, 1, 500))
	assert.Equal(t, uint32(500), rig.pwm.Timer(0).FreqHz)
	assert.Equal(t, uint32(1024), rig.pwm.Channel(0).Duty)

	require.NoError(t, rig.call(t, core.CmdFreePWMOut, 1))
	assert.Zero(t, rig.pwm.ConfiguredTimers())
	assert.Empty(t, rig.pwm.ReservedPins())
}

func TestControllerExplicitIDs(t *testing.T) {
	rig := newControllerRig(t)

	require.NoError(t, rig.call(t, core.CmdConfigPWMOut, 1, 2, 6, 3, 1000))
	require.NoError(t, rig.call(t, core.CmdConfigPWMOut, 2, 3, core.AutoID, 3, 9999))
	require.NoError(t, rig.call(t, core.CmdGetPWMState, 2))

	states := rig.out.named(rig.ctrl.Registry(), core.RespPWMState)
	require.Len(t, states, 1)
	assert.Equal(t, []uint32{2, 0, 1000, 3, 0}, states[0].args, "second output shares timer 3")
	assert.Equal(t, core.Pin(2), rig.pwm.Channel(6).Pin)
}

func TestControllerWideIDsAreClamped(t *testing.T) {
	rig := newControllerRig(t)

	// 256 must not wrap to timer 0 or channel 0
	require.NoError(t, rig.call(t, core.CmdConfigPWMOut, 1, 10, core.AutoID, 256, 1000))
	assert.False(t, rig.pwm.Timer(0).Configured, "no output asked for timer 0")
	assert.True(t, rig.pwm.Timer(core.MaxTimers-1).Configured)

	require.NoError(t, rig.call(t, core.CmdConfigPWMOut, 2, 11, 256, core.AutoID, 1000))
	assert.Equal(t, core.Pin(11), rig.pwm.Channel(core.MaxChannels-1).Pin)
	assert.Contains(t, rig.logs.String(), "timer id out of range, clamped")
	assert.Contains(t, rig.logs.String(), "channel id out of range, clamped")
}

func TestControllerRejectsWideOID(t *testing.T) {
	rig := newControllerRig(t)

	require.NoError(t, rig.call(t, core.CmdConfigPWMOut, 256, 10, core.AutoID, core.AutoID, 1000))
	name, code := rig.lastError(t)
	assert.Equal(t, core.CmdConfigPWMOut, name)
	assert.Equal(t, core.CodeInvalidArgument, code)
	assert.Empty(t, rig.pwm.ReservedPins())

	// oid 0 stays free, so 256 did not alias it
	require.NoError(t, rig.call(t, core.CmdConfigPWMOut, 0, 10, core.AutoID, core.AutoID, 1000))
	require.NoError(t, rig.call(t, core.CmdSetPWMDuty, 256, 10))
	_, code = rig.lastError(t)
	assert.Equal(t, core.CodeInvalidArgument, code)
	require.NoError(t, rig.call(t, core.CmdFreePWMOut, 256))
	_, code = rig.lastError(t)
	assert.Equal(t, core.CodeInvalidArgument, code)
	assert.Equal(t, []core.Pin{10}, rig.pwm.ReservedPins())
}

func TestControllerErrorsBecomeResponses(t *testing.T) {
	rig := newControllerRig(t)

	require.NoError(t, rig.call(t, core.CmdSetPWMDuty, 9, 10))
	name, code := rig.lastError(t)
	assert.Equal(t, core.CmdSetPWMDuty, name)
	assert.Equal(t, core.CodeUnknownOutput, code)

	require.NoError(t, rig.call(t, core.CmdConfigPWMOut, 1, 2, 4, core.AutoID, 1000))
	require.NoError(t, rig.call(t, core.CmdConfigPWMOut, 2, 3, 4, core.AutoID, 1000))
	_, code = rig.lastError(t)
	assert.Equal(t, core.CodeChannelInUse, code)

	require.NoError(t, rig.call(t, core.CmdConfigPWMOut, 1, 5, core.AutoID, core.AutoID, 1000))
	_, code = rig.lastError(t)
	assert.Equal(t, core.CodeInvalidArgument, code, "oid already configured")

	require.NoError(t, rig.call(t, core.CmdConfigPinInterrupt, 3, 42, core.WirePullNone))
	_, code = rig.lastError(t)
	assert.Equal(t, core.CodeInvalidArgument, code, "bad edge")
}

func TestControllerTruncatedCommand(t *testing.T) {
	rig := newControllerRig(t)

	payload, err := protocol.EncodeCommand(rig.ctrl.Registry().MustID(core.CmdSetPWMDuty), 1)
	require.NoError(t, err)
	cmdID, _ := protocol.DecodeVLQUint(&payload)

	err = rig.ctrl.Handle(uint16(cmdID), &payload)
	require.ErrorIs(t, err, protocol.ErrBufferTooSmall)
	_, code := rig.lastError(t)
	assert.Equal(t, core.CodeUnknown, code)

	var none []byte
	require.ErrorIs(t, rig.ctrl.Handle(500, &none), core.ErrUnknownCommand)
}

func TestControllerPinEvents(t *testing.T) {
	rig := newControllerRig(t)

	require.NoError(t, rig.call(t, core.CmdConfigPinInterrupt, 5, uint32(core.EdgeFalling), core.WirePullUp))
	cfg, ok := rig.irq.PinConfig(5)
	require.True(t, ok)
	assert.Equal(t, core.PinConfig{Edge: core.EdgeFalling, PullUp: true}, cfg)

	require.True(t, rig.irq.SetLevel(5, false))
	require.Eventually(t, func() bool {
		return len(rig.out.named(rig.ctrl.Registry(), core.RespPinEvent)) == 1
	}, waitFor, tick)
	assert.Equal(t, []uint32{5}, rig.out.named(rig.ctrl.Registry(), core.RespPinEvent)[0].args)
	require.Eventually(t, func() bool { return rig.disp.Stats().Delivered == 1 }, waitFor, tick)

	require.NoError(t, rig.call(t, core.CmdGetIRQStats))
	stats := rig.out.named(rig.ctrl.Registry(), core.RespIRQStats)
	require.Len(t, stats, 1)
	assert.Equal(t, uint32(core.StateRunning), stats[0].args[0])
	assert.Equal(t, uint32(1), stats[0].args[1])
}

func TestControllerShutdown(t *testing.T) {
	rig := newControllerRig(t)
	for oid := uint32(0); oid < 3; oid++ {
		require.NoError(t, rig.call(t, core.CmdConfigPWMOut, oid, oid+10, core.AutoID, core.AutoID, 1000))
	}

	require.NoError(t, rig.ctrl.Shutdown())
	assert.Zero(t, rig.pwm.ConfiguredTimers())

	require.NoError(t, rig.call(t, core.CmdGetPWMState, 0))
	_, code := rig.lastError(t)
	assert.Equal(t, core.CodeUnknownOutput, code)
}

// pipeEnd reads what the other end wrote
type pipeEnd struct {
	r, w *syncBuffer
}

func (p pipeEnd) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p pipeEnd) Write(b []byte) (int, error) { return p.w.Write(b) }

func TestControllerOverLink(t *testing.T) {
	toFirmware, toHost := &syncBuffer{}, &syncBuffer{}
	fwLink := protocol.NewLink(pipeEnd{r: toFirmware, w: toHost})
	hostLink := protocol.NewLink(pipeEnd{r: toHost, w: toFirmware})

	pwm := sim.NewPWM()
	ctrl := core.NewController(core.NewPWMBank(pwm, nil), core.NewDispatcher(sim.NewInterrupts(), nil), fwLink, nil)

	host := core.NewCommandRegistry()
	core.DeclareCommands(host, nil)

	require.NoError(t, hostLink.Send(host.MustID(core.CmdConfigPWMOut), 7, 21, core.AutoID, core.AutoID, 25000))
	require.NoError(t, hostLink.Send(host.MustID(core.CmdSetPWMDuty), 7, 2048))
	require.NoError(t, hostLink.Send(host.MustID(core.CmdGetPWMState), 7))

	frames, err := fwLink.Poll(ctrl.Handle)
	require.NoError(t, err)
	assert.Equal(t, 3, frames)

	var state []uint32
	_, err = hostLink.Poll(func(cmdID uint16, data *[]byte) error {
		require.Equal(t, host.MustID(core.RespPWMState), cmdID)
		state = make([]uint32, 5)
		return protocol.DecodeArgs(data, &state[0], &state[1], &state[2], &state[3], &state[4])
	})
	require.NoError(t, err)
	assert.Equal(t, []uint32{7, 2048, 25000, 0, 0}, state)
	assert.Equal(t, uint32(2048), pwm.Channel(0).Duty)
}
