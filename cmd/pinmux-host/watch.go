package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pinmux/config"
	"pinmux/core"
	"pinmux/host/client"
)

var (
	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Bind the configured interrupts and print pin events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBoard(cmd, func(ctx context.Context, cfg *config.Config, c *client.Client) error {
				names := map[core.Pin]string{}
				for _, irq := range cfg.Interrupts {
					if err := bindInterrupt(ctx, c, irq); err != nil {
						return err
					}
					names[core.Pin(irq.Pin)] = irq.Name
				}

				out := cmd.OutOrStdout()
				for {
					select {
					case <-ctx.Done():
						return nil
					case pin, ok := <-c.Events():
						if !ok {
							return nil
						}
						fmt.Fprintf(out, "%s pin=%d %s\n", time.Now().Format(time.StampMilli), pin, names[pin])
					}
				}
			})
		},
	}

	applyCmd = &cobra.Command{
		Use:   "apply",
		Short: "Open every configured PWM output at its duty and bind every configured interrupt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBoard(cmd, func(ctx context.Context, cfg *config.Config, c *client.Client) error {
				for _, p := range cfg.PWM {
					if err := openOutput(ctx, c, p); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "pwm %s: oid=%d pin=%d duty=%.1f%%\n", p.Name, p.OID, p.Pin, p.DutyPercent)
				}
				for _, irq := range cfg.Interrupts {
					if err := bindInterrupt(ctx, c, irq); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "irq %s: pin=%d edge=%s\n", irq.Name, irq.Pin, irq.Edge)
				}
				return nil
			})
		},
	}
)

func openOutput(ctx context.Context, c *client.Client, p config.PWMConfig) error {
	channel, timer := uint8(core.AutoID), uint8(core.AutoID)
	if p.Channel != nil {
		channel = *p.Channel
	}
	if p.Timer != nil {
		timer = *p.Timer
	}

	rctx, cancel := reply(ctx)
	defer cancel()
	if err := c.OpenPWM(rctx, p.OID, core.Pin(p.Pin), channel, timer, p.FrequencyHz); err != nil {
		return fmt.Errorf("open %s: %w", p.Name, err)
	}
	if err := c.SetDutyPercent(rctx, p.OID, p.DutyPercent); err != nil {
		return fmt.Errorf("set duty of %s: %w", p.Name, err)
	}
	return nil
}

func bindInterrupt(ctx context.Context, c *client.Client, irq config.InterruptConfig) error {
	rctx, cancel := reply(ctx)
	defer cancel()
	if err := c.BindInterrupt(rctx, core.Pin(irq.Pin), irq.PinConfig()); err != nil {
		return fmt.Errorf("bind %s: %w", irq.Name, err)
	}
	return nil
}
