package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"pinmux/config"
	"pinmux/core"
	"pinmux/drivers/pca9557"
)

type hardware struct {
	pwm      core.PWMDriver
	irq      core.InterruptDriver
	expander *pca9557.Device
}

type daemon struct {
	cfg  *config.Config
	hw   hardware
	log  *slog.Logger
	bank *core.PWMBank
	disp *core.Dispatcher
}

func newDaemon(cfg *config.Config, hw hardware, log *slog.Logger) *daemon {
	return &daemon{
		cfg:  cfg,
		hw:   hw,
		log:  log,
		bank: core.NewPWMBank(hw.pwm, log),
		disp: core.NewDispatcher(hw.irq, log, core.WithQueueDepth(cfg.Dispatcher.QueueDepth)),
	}
}

// setup opens every configured output and binds every configured interrupt.
// A failure here is a boot failure: outputs already opened are closed again.
func (d *daemon) setup() error {
	for _, p := range d.cfg.PWM {
		out, err := d.bank.Open(core.Pin(p.Pin), p.Options()...)
		if err != nil {
			_ = d.bank.CloseAll()
			return fmt.Errorf("open pwm %s: %w", p.Name, err)
		}
		if err := out.SetDuty(p.DutyPercent); err != nil {
			_ = d.bank.CloseAll()
			return fmt.Errorf("set duty of pwm %s: %w", p.Name, err)
		}
	}

	for _, irq := range d.cfg.Interrupts {
		h := &eventLogger{name: irq.Name, log: d.log}
		if err := d.disp.Bind(core.Pin(irq.Pin), h, irq.PinConfig()); err != nil {
			_ = d.bank.CloseAll()
			return fmt.Errorf("bind interrupt %s: %w", irq.Name, err)
		}
	}
	return nil
}

// run reports stats until ctx is done, then closes every output
func (d *daemon) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		interval := d.cfg.Dispatcher.StatsInterval
		if interval <= 0 {
			<-ctx.Done()
			return nil
		}
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				d.report()
			}
		}
	})

	err := g.Wait()
	if cerr := d.bank.CloseAll(); cerr != nil && err == nil {
		err = cerr
	}
	d.log.Info("pinmuxd stopped")
	return err
}

func (d *daemon) report() {
	irq := d.disp.Stats()
	pwm := d.bank.Stats()
	d.log.Info("stats",
		"irq_state", irq.State.String(),
		"delivered", irq.Delivered,
		"dropped", irq.Dropped,
		"panics", irq.Panics,
		"unbound", irq.Unbound,
		"pending", irq.Pending,
		"timers", pwm.Timers,
		"channels", pwm.Channels,
		"outputs", pwm.Outputs)

	if d.hw.expander != nil {
		pins, err := d.hw.expander.Pins()
		if err != nil {
			d.log.Warn("expander read failed", "err", err)
			return
		}
		d.log.Info("expander inputs", "address", d.hw.expander.Address(), "pins", fmt.Sprintf("%08b", pins))
	}
}

// eventLogger is the handler bound to configured interrupts
type eventLogger struct {
	name string
	log  *slog.Logger
}

func (e *eventLogger) HandlePin(pin core.Pin) {
	e.log.Info("pin event", "name", e.name, "pin", pin)
}
