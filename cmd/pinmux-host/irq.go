package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pinmux/config"
	"pinmux/core"
	"pinmux/host/client"
)

var (
	irqOpts = struct {
		edge     string
		pullUp   bool
		pullDown bool
	}{}

	irqCmd = &cobra.Command{
		Use:   "irq",
		Short: "Manage pin interrupts",
	}

	irqBindCmd = &cobra.Command{
		Use:   "bind PIN",
		Short: "Report interrupts on a pin as pin events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pin, err := parseUint(args[0], "pin", 32)
			if err != nil {
				return err
			}
			cfg, err := pinConfig(irqOpts.edge, irqOpts.pullUp, irqOpts.pullDown)
			if err != nil {
				return err
			}
			return withBoard(cmd, func(ctx context.Context, _ *config.Config, c *client.Client) error {
				ctx, cancel := reply(ctx)
				defer cancel()
				return c.BindInterrupt(ctx, core.Pin(pin), cfg)
			})
		},
	}

	irqStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show interrupt dispatcher counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBoard(cmd, func(ctx context.Context, _ *config.Config, c *client.Client) error {
				ctx, cancel := reply(ctx)
				defer cancel()
				st, err := c.IRQStats(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "state=%s delivered=%d dropped=%d panics=%d\n",
					st.State, st.Delivered, st.Dropped, st.Panics)
				return nil
			})
		},
	}
)

func init() {
	irqBindCmd.Flags().StringVar(&irqOpts.edge, "edge", "rising", "trigger: rising, falling, any, low or high")
	irqBindCmd.Flags().BoolVar(&irqOpts.pullUp, "pull-up", false, "enable the pull-up")
	irqBindCmd.Flags().BoolVar(&irqOpts.pullDown, "pull-down", false, "enable the pull-down (default when no pull is given)")

	irqCmd.AddCommand(irqBindCmd, irqStatsCmd)
}

func pinConfig(edge string, pullUp, pullDown bool) (core.PinConfig, error) {
	e, ok := core.ParseEdge(edge)
	if !ok {
		return core.PinConfig{}, fmt.Errorf("invalid edge %q", edge)
	}
	if !pullUp && !pullDown {
		pullDown = true
	}
	return core.PinConfig{Edge: e, PullUp: pullUp, PullDown: pullDown}, nil
}
