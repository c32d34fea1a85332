// Package client talks to a pinmux board over the framed command protocol.
//
// The firmware has no acknowledgement for successful commands. Each call is
// therefore followed by a get_irq_stats query: the board answers commands in
// order, so a command_error for the call always arrives before irq_stats.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"pinmux/core"
	"pinmux/protocol"
)

// EventBuffer is the number of pin events held for Events readers
const EventBuffer = 64

// CommandError is a command_error response
type CommandError struct {
	Command string
	Code    uint8
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Command, core.CodeError(e.Code))
}

func (e *CommandError) Unwrap() error {
	return core.CodeError(e.Code)
}

// IRQStats is the payload of irq_stats
type IRQStats struct {
	State     core.DispatcherState
	Delivered uint32
	Dropped   uint32
	Panics    uint32
}

// PWMState is the payload of pwm_state
type PWMState struct {
	OID         uint8
	Duty        uint32
	FrequencyHz uint32
	Timer       core.TimerID
	Channel     core.ChannelID
}

type reply struct {
	id   uint16
	args []uint32
}

// Client drives one board. Calls are serialized; Run must be active for any
// call to complete.
type Client struct {
	port io.ReadWriteCloser
	link *protocol.Link
	reg  *core.CommandRegistry
	log  *slog.Logger

	callMu  sync.Mutex
	replies chan reply
	events  chan core.Pin

	droppedEvents uint64
}

// New creates a client on an open port. The client owns the port from now on.
func New(port io.ReadWriteCloser, log *slog.Logger) *Client {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	reg := core.NewCommandRegistry()
	core.DeclareCommands(reg, nil)
	return &Client{
		port:    port,
		link:    protocol.NewLink(port),
		reg:     reg,
		log:     log.With("component", "client"),
		replies: make(chan reply, 16),
		events:  make(chan core.Pin, EventBuffer),
	}
}

// Run reads responses until ctx is done or the port fails. The port is
// closed when Run returns.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return c.port.Close()
	})
	g.Go(func() error {
		defer close(c.events)
		for {
			_, err := c.link.Poll(c.handle)
			if ctx.Err() != nil {
				return nil
			}
			// Serial read timeouts surface as io.EOF
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("read from board: %w", err)
			}
		}
	})

	return g.Wait()
}

// Events delivers pin_event responses. It is closed when Run returns.
// Events are dropped when nobody keeps up.
func (c *Client) Events() <-chan core.Pin {
	return c.events
}

// LinkStats returns the link counters
func (c *Client) LinkStats() protocol.LinkStats {
	return c.link.Stats()
}

// Registry returns the command table shared with the firmware
func (c *Client) Registry() *core.CommandRegistry {
	return c.reg
}

// OpenPWM configures output oid on pin. Pass core.AutoID for channel or
// timer to let the board pick.
func (c *Client) OpenPWM(ctx context.Context, oid uint8, pin core.Pin, channel, timer uint8, freqHz uint32) error {
	return c.exec(ctx, core.CmdConfigPWMOut, uint32(oid), uint32(pin), uint32(channel), uint32(timer), freqHz)
}

// SetDuty sets the raw duty value (0 to core.MaxDuty)
func (c *Client) SetDuty(ctx context.Context, oid uint8, value uint32) error {
	return c.exec(ctx, core.CmdSetPWMDuty, uint32(oid), value)
}

// SetDutyPercent converts percent with DutyValue and sets it
func (c *Client) SetDutyPercent(ctx context.Context, oid uint8, percent float64) error {
	return c.SetDuty(ctx, oid, DutyValue(percent))
}

func (c *Client) SetFrequency(ctx context.Context, oid uint8, freqHz uint32) error {
	return c.exec(ctx, core.CmdSetPWMFrequency, uint32(oid), freqHz)
}

func (c *Client) FreePWM(ctx context.Context, oid uint8) error {
	return c.exec(ctx, core.CmdFreePWMOut, uint32(oid))
}

// BindInterrupt asks the board to report edges on pin as pin events
func (c *Client) BindInterrupt(ctx context.Context, pin core.Pin, cfg core.PinConfig) error {
	var pull uint32
	if cfg.PullUp {
		pull |= core.WirePullUp
	}
	if cfg.PullDown {
		pull |= core.WirePullDown
	}
	return c.exec(ctx, core.CmdConfigPinInterrupt, uint32(pin), uint32(cfg.Edge), pull)
}

// IRQStats queries the board's dispatcher counters
func (c *Client) IRQStats(ctx context.Context) (IRQStats, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	c.drain()
	r, err := c.query(ctx, core.CmdGetIRQStats, core.RespIRQStats)
	if err != nil {
		return IRQStats{}, err
	}
	return irqStatsOf(r), nil
}

// PWMState queries the committed state of output oid
func (c *Client) PWMState(ctx context.Context, oid uint8) (PWMState, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	c.drain()
	r, err := c.query(ctx, core.CmdGetPWMState, core.RespPWMState, uint32(oid))
	if err != nil {
		return PWMState{}, err
	}
	return PWMState{
		OID:         uint8(r.args[0]),
		Duty:        r.args[1],
		FrequencyHz: r.args[2],
		Timer:       core.TimerID(r.args[3]),
		Channel:     core.ChannelID(r.args[4]),
	}, nil
}

// DutyValue converts a percentage to a duty value, clamped to [0, MaxDuty]
func DutyValue(percent float64) uint32 {
	if math.IsNaN(percent) || percent <= 0 {
		return 0
	}
	if percent >= 100 {
		return core.MaxDuty
	}
	return uint32(math.Round(percent * core.MaxDuty / 100))
}

// exec sends a command that has no reply of its own and waits for the
// get_irq_stats barrier
func (c *Client) exec(ctx context.Context, name string, args ...uint32) error {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	c.drain()
	if err := c.send(name, args...); err != nil {
		return err
	}
	_, err := c.query(ctx, core.CmdGetIRQStats, core.RespIRQStats)
	return err
}

// query sends cmd and waits for resp or a command_error naming any command
// sent since the last drain
func (c *Client) query(ctx context.Context, cmd, resp string, args ...uint32) (reply, error) {
	if err := c.send(cmd, args...); err != nil {
		return reply{}, err
	}
	respID := c.reg.MustID(resp)
	errID := c.reg.MustID(core.RespCommandError)

	for {
		select {
		case <-ctx.Done():
			return reply{}, fmt.Errorf("waiting for %s: %w", resp, ctx.Err())
		case r := <-c.replies:
			switch r.id {
			case respID:
				return r, nil
			case errID:
				name := "command " + fmt.Sprint(r.args[0])
				if cmd, ok := c.reg.GetCommand(uint16(r.args[0])); ok {
					name = cmd.Name
				}
				return reply{}, &CommandError{Command: name, Code: uint8(r.args[1])}
			}
		}
	}
}

func (c *Client) send(name string, args ...uint32) error {
	if err := c.link.Send(c.reg.MustID(name), args...); err != nil {
		return fmt.Errorf("send %s: %w", name, err)
	}
	return nil
}

// drain discards replies left over from calls that gave up waiting
func (c *Client) drain() {
	for {
		select {
		case <-c.replies:
		default:
			return
		}
	}
}

// handle decodes one response from the board
func (c *Client) handle(cmdID uint16, data *[]byte) error {
	cmd, ok := c.reg.GetCommand(cmdID)
	if !ok || !cmd.IsResponse() {
		return core.ErrUnknownCommand
	}
	args := make([]uint32, cmd.ArgCount())
	ptrs := make([]*uint32, len(args))
	for i := range args {
		ptrs[i] = &args[i]
	}
	if err := protocol.DecodeArgs(data, ptrs...); err != nil {
		c.log.Warn("undecodable response", "response", cmd.Name, "err", err)
		return err
	}

	if cmd.Name == core.RespPinEvent {
		select {
		case c.events <- core.Pin(args[0]):
		default:
			c.droppedEvents++
			c.log.Warn("pin event dropped", "pin", args[0], "dropped", c.droppedEvents)
		}
		return nil
	}

	select {
	case c.replies <- reply{id: cmdID, args: args}:
	default:
		c.log.Warn("reply dropped, no caller waiting", "response", cmd.Name)
	}
	return nil
}

func irqStatsOf(r reply) IRQStats {
	return IRQStats{
		State:     core.DispatcherState(r.args[0]),
		Delivered: r.args[1],
		Dropped:   r.args[2],
		Panics:    r.args[3],
	}
}
