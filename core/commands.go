package core

import (
	"errors"
	"log/slog"
	"sync"

	"pinmux/protocol"
)

// Command and response names. Declaration order fixes the wire ids.
const (
	CmdConfigPWMOut       = "config_pwm_out"
	CmdSetPWMDuty         = "set_pwm_duty"
	CmdSetPWMFrequency    = "set_pwm_frequency"
	CmdFreePWMOut         = "free_pwm_out"
	CmdConfigPinInterrupt = "config_pin_interrupt"
	CmdGetIRQStats        = "get_irq_stats"
	CmdGetPWMState        = "get_pwm_state"

	RespPinEvent     = "pin_event"
	RespIRQStats     = "irq_stats"
	RespPWMState     = "pwm_state"
	RespCommandError = "command_error"
)

var commandTable = []struct {
	name, format string
	response     bool
}{
	{CmdConfigPWMOut, "oid=%c pin=%u channel=%c timer=%c freq=%u", false},
	{CmdSetPWMDuty, "oid=%c value=%hu", false},
	{CmdSetPWMFrequency, "oid=%c freq=%u", false},
	{CmdFreePWMOut, "oid=%c", false},
	{CmdConfigPinInterrupt, "pin=%u edge=%c pull=%c", false},
	{CmdGetIRQStats, "", false},
	{CmdGetPWMState, "oid=%c", false},

	{RespPinEvent, "pin=%u", true},
	{RespIRQStats, "state=%c delivered=%u dropped=%u panics=%u", true},
	{RespPWMState, "oid=%c duty=%hu freq=%u timer=%c channel=%c", true},
	{RespCommandError, "cmd=%c code=%c", true},
}

// DeclareCommands registers every command and response in wire order.
// handlers maps command names to handlers; the host side passes nil.
func DeclareCommands(r *CommandRegistry, handlers map[string]CommandHandler) {
	for _, c := range commandTable {
		if c.response {
			r.RegisterResponse(c.name, c.format)
			continue
		}
		r.Register(c.name, c.format, handlers[c.name])
	}
}

// AutoID in config_pwm_out lets the bank pick the channel or timer
const AutoID = 0xFF

// Pull encodings for config_pin_interrupt
const (
	WirePullNone = 0
	WirePullUp   = 1
	WirePullDown = 2
	WirePullBoth = 3
)

// Error codes carried by command_error
const (
	CodeUnknown uint8 = iota
	CodeResourceExhausted
	CodeInvalidArgument
	CodeHardwareConfig
	CodeClosed
	CodeUnknownOutput
	CodeChannelInUse
	CodeUnknownCommand
	CodePinInUse
)

var codeErrors = []struct {
	code uint8
	err  error
}{
	// Most specific first: the in-use errors also match ErrResourceExhausted
	{CodeChannelInUse, ErrChannelInUse},
	{CodePinInUse, ErrPinInUse},
	{CodeResourceExhausted, ErrResourceExhausted},
	{CodeInvalidArgument, ErrInvalidArgument},
	{CodeHardwareConfig, ErrHardwareConfig},
	{CodeClosed, ErrClosed},
	{CodeUnknownOutput, ErrUnknownOutput},
	{CodeUnknownCommand, ErrUnknownCommand},
}

// ErrorCode maps an error to its command_error code
func ErrorCode(err error) uint8 {
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code
		}
	}
	return CodeUnknown
}

// CodeError maps a command_error code back to its sentinel error
func CodeError(code uint8) error {
	for _, ce := range codeErrors {
		if ce.code == code {
			return ce.err
		}
	}
	return errors.New("command failed with code " + itoa(int(code)))
}

// Responder sends a response to the host. *protocol.Link implements it.
type Responder interface {
	Send(cmdID uint16, args ...uint32) error
}

// Controller exposes a PWMBank and a Dispatcher as wire commands. Outputs
// are addressed by host chosen object ids.
type Controller struct {
	bank *PWMBank
	irq  *Dispatcher
	out  Responder
	log  *slog.Logger
	reg  *CommandRegistry

	pinEventID, irqStatsID, pwmStateID, errorID uint16

	mu      sync.Mutex
	outputs map[uint8]*PWMOutput
}

// NewController wires the command handlers. Responses go to out.
func NewController(bank *PWMBank, irq *Dispatcher, out Responder, log *slog.Logger) *Controller {
	c := &Controller{
		bank:    bank,
		irq:     irq,
		out:     out,
		log:     orDiscard(log).With("component", "controller"),
		reg:     NewCommandRegistry(),
		outputs: make(map[uint8]*PWMOutput),
	}
	DeclareCommands(c.reg, map[string]CommandHandler{
		CmdConfigPWMOut:       c.handleConfigPWMOut,
		CmdSetPWMDuty:         c.handleSetPWMDuty,
		CmdSetPWMFrequency:    c.handleSetPWMFrequency,
		CmdFreePWMOut:         c.handleFreePWMOut,
		CmdConfigPinInterrupt: c.handleConfigPinInterrupt,
		CmdGetIRQStats:        c.handleGetIRQStats,
		CmdGetPWMState:        c.handleGetPWMState,
	})
	c.pinEventID = c.reg.MustID(RespPinEvent)
	c.irqStatsID = c.reg.MustID(RespIRQStats)
	c.pwmStateID = c.reg.MustID(RespPWMState)
	c.errorID = c.reg.MustID(RespCommandError)
	return c
}

// Registry returns the controller's command registry
func (c *Controller) Registry() *CommandRegistry {
	return c.reg
}

// Handle runs one command; it has the shape of protocol.Handler. Failures
// of the operation itself are answered with command_error. Only argument
// decode failures are returned, since the rest of the frame is then unusable.
func (c *Controller) Handle(cmdID uint16, data *[]byte) error {
	err := c.reg.Dispatch(cmdID, data)
	if err == nil {
		return nil
	}
	c.log.Warn("command failed", "cmd", cmdID, "err", err)
	c.reportError(cmdID, err)
	if errors.Is(err, protocol.ErrBufferTooSmall) || errors.Is(err, protocol.ErrInvalidVLQ) ||
		errors.Is(err, ErrUnknownCommand) {
		return err
	}
	return nil
}

// Shutdown closes every output opened through the controller
func (c *Controller) Shutdown() error {
	c.mu.Lock()
	outs := c.outputs
	c.outputs = make(map[uint8]*PWMOutput)
	c.mu.Unlock()

	var errs []error
	for _, o := range outs {
		errs = append(errs, o.Close())
	}
	return errors.Join(errs...)
}

func (c *Controller) reportError(cmdID uint16, err error) {
	if sendErr := c.out.Send(c.errorID, uint32(cmdID), uint32(ErrorCode(err))); sendErr != nil {
		c.log.Debug("command_error not sent", "err", sendErr)
	}
}

// oidOf rejects object ids that do not fit the %c wire type
func oidOf(v uint32) (uint8, error) {
	if v > 0xFF {
		return 0, ErrInvalidArgument
	}
	return uint8(v), nil
}

// wireID narrows a channel or timer id from the wire. Anything past limit
// is passed as limit so the bank's clamp sees it and logs.
func wireID(v uint32, limit int) uint8 {
	if v > uint32(limit) {
		return uint8(limit)
	}
	return uint8(v)
}

func (c *Controller) output(v uint32) (*PWMOutput, error) {
	oid, err := oidOf(v)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.outputs[oid]
	if !ok {
		return nil, ErrUnknownOutput
	}
	return o, nil
}

// Format: config_pwm_out oid=%c pin=%u channel=%c timer=%c freq=%u
func (c *Controller) handleConfigPWMOut(data *[]byte) error {
	var rawOID, pin, channel, timer, freq uint32
	if err := protocol.DecodeArgs(data, &rawOID, &pin, &channel, &timer, &freq); err != nil {
		return err
	}
	oid, err := oidOf(rawOID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.outputs[oid]; exists {
		return ErrInvalidArgument
	}

	opts := []OpenOption{WithFrequency(freq)}
	if channel != AutoID {
		opts = append(opts, WithChannel(ChannelID(wireID(channel, MaxChannels))))
	}
	if timer != AutoID {
		opts = append(opts, WithTimer(TimerID(wireID(timer, MaxTimers))))
	}
	o, err := c.bank.Open(Pin(pin), opts...)
	if err != nil {
		return err
	}
	c.outputs[oid] = o
	return nil
}

// Format: set_pwm_duty oid=%c value=%hu
func (c *Controller) handleSetPWMDuty(data *[]byte) error {
	var oid, value uint32
	if err := protocol.DecodeArgs(data, &oid, &value); err != nil {
		return err
	}
	o, err := c.output(oid)
	if err != nil {
		return err
	}
	return o.SetDutyValue(value)
}

// Format: set_pwm_frequency oid=%c freq=%u
func (c *Controller) handleSetPWMFrequency(data *[]byte) error {
	var oid, freq uint32
	if err := protocol.DecodeArgs(data, &oid, &freq); err != nil {
		return err
	}
	o, err := c.output(oid)
	if err != nil {
		return err
	}
	return o.SetFrequency(freq)
}

// Format: free_pwm_out oid=%c
func (c *Controller) handleFreePWMOut(data *[]byte) error {
	var rawOID uint32
	if err := protocol.DecodeArgs(data, &rawOID); err != nil {
		return err
	}
	oid, err := oidOf(rawOID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	o, ok := c.outputs[oid]
	delete(c.outputs, oid)
	c.mu.Unlock()

	if !ok {
		return ErrUnknownOutput
	}
	return o.Close()
}

// Format: config_pin_interrupt pin=%u edge=%c pull=%c
func (c *Controller) handleConfigPinInterrupt(data *[]byte) error {
	var pin, edge, pull uint32
	if err := protocol.DecodeArgs(data, &pin, &edge, &pull); err != nil {
		return err
	}
	if edge > uint32(LevelHigh) || pull > WirePullBoth {
		return ErrInvalidArgument
	}

	cfg := PinConfig{
		Edge:     Edge(edge),
		PullUp:   pull&WirePullUp != 0,
		PullDown: pull&WirePullDown != 0,
	}
	return c.irq.Bind(Pin(pin), PinHandlerFunc(c.sendPinEvent), cfg)
}

// sendPinEvent runs on the dispatcher worker
func (c *Controller) sendPinEvent(pin Pin) {
	if err := c.out.Send(c.pinEventID, uint32(pin)); err != nil {
		c.log.Debug("pin_event not sent", "pin", pin, "err", err)
	}
}

// Format: get_irq_stats
func (c *Controller) handleGetIRQStats(data *[]byte) error {
	s := c.irq.Stats()
	return c.out.Send(c.irqStatsID,
		uint32(s.State), uint32(s.Delivered), uint32(s.Dropped), uint32(s.Panics))
}

// Format: get_pwm_state oid=%c
func (c *Controller) handleGetPWMState(data *[]byte) error {
	var oid uint32
	if err := protocol.DecodeArgs(data, &oid); err != nil {
		return err
	}
	o, err := c.output(oid)
	if err != nil {
		return err
	}
	return c.out.Send(c.pwmStateID,
		oid, o.Duty(), o.Frequency(), uint32(o.Timer()), uint32(o.Channel()))
}
