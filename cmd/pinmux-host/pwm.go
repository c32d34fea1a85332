package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"pinmux/config"
	"pinmux/core"
	"pinmux/host/client"
)

var (
	pwmOpts = struct {
		channel int
		timer   int
		freq    uint32
		raw     bool
	}{}

	pwmCmd = &cobra.Command{
		Use:   "pwm",
		Short: "Manage PWM outputs",
	}

	pwmOpenCmd = &cobra.Command{
		Use:   "open OID PIN",
		Short: "Configure a PWM output at duty 0",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oid, err := parseOID(args[0])
			if err != nil {
				return err
			}
			pin, err := parseUint(args[1], "pin", 32)
			if err != nil {
				return err
			}
			channel, timer := wireID(pwmOpts.channel), wireID(pwmOpts.timer)
			return withBoard(cmd, func(ctx context.Context, _ *config.Config, c *client.Client) error {
				ctx, cancel := reply(ctx)
				defer cancel()
				return c.OpenPWM(ctx, oid, core.Pin(pin), channel, timer, pwmOpts.freq)
			})
		},
	}

	pwmDutyCmd = &cobra.Command{
		Use:   "duty OID PERCENT",
		Short: "Set the duty cycle in percent, or as a raw value with --raw",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oid, err := parseOID(args[0])
			if err != nil {
				return err
			}
			value, err := dutyArg(args[1], pwmOpts.raw)
			if err != nil {
				return err
			}
			return withBoard(cmd, func(ctx context.Context, _ *config.Config, c *client.Client) error {
				ctx, cancel := reply(ctx)
				defer cancel()
				return c.SetDuty(ctx, oid, value)
			})
		},
	}

	pwmFreqCmd = &cobra.Command{
		Use:   "freq OID HZ",
		Short: "Change the frequency of the output's timer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oid, err := parseOID(args[0])
			if err != nil {
				return err
			}
			hz, err := parseUint(args[1], "frequency", 32)
			if err != nil {
				return err
			}
			return withBoard(cmd, func(ctx context.Context, _ *config.Config, c *client.Client) error {
				ctx, cancel := reply(ctx)
				defer cancel()
				return c.SetFrequency(ctx, oid, uint32(hz))
			})
		},
	}

	pwmFreeCmd = &cobra.Command{
		Use:   "free OID",
		Short: "Release a PWM output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			oid, err := parseOID(args[0])
			if err != nil {
				return err
			}
			return withBoard(cmd, func(ctx context.Context, _ *config.Config, c *client.Client) error {
				ctx, cancel := reply(ctx)
				defer cancel()
				return c.FreePWM(ctx, oid)
			})
		},
	}

	pwmStateCmd = &cobra.Command{
		Use:   "state OID",
		Short: "Show the committed state of a PWM output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			oid, err := parseOID(args[0])
			if err != nil {
				return err
			}
			return withBoard(cmd, func(ctx context.Context, _ *config.Config, c *client.Client) error {
				ctx, cancel := reply(ctx)
				defer cancel()
				st, err := c.PWMState(ctx, oid)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), formatPWMState(st))
				return nil
			})
		},
	}
)

func init() {
	pwmOpenCmd.Flags().IntVar(&pwmOpts.channel, "channel", -1, "output channel, -1 picks the lowest free one")
	pwmOpenCmd.Flags().IntVar(&pwmOpts.timer, "timer", -1, "timer, shared when already in use; -1 picks a free one")
	pwmOpenCmd.Flags().Uint32Var(&pwmOpts.freq, "freq", core.DefaultFrequency, "frequency in Hz for a new timer")
	pwmDutyCmd.Flags().BoolVar(&pwmOpts.raw, "raw", false, "treat the value as a raw duty (0 to 4096)")

	pwmCmd.AddCommand(pwmOpenCmd, pwmDutyCmd, pwmFreqCmd, pwmFreeCmd, pwmStateCmd)
}

// wireID converts a flag value to a channel or timer id; negative means auto
func wireID(v int) uint8 {
	if v < 0 || v >= core.AutoID {
		return core.AutoID
	}
	return uint8(v)
}

func dutyArg(arg string, raw bool) (uint32, error) {
	if raw {
		v, err := parseUint(arg, "duty", 16)
		return uint32(v), err
	}
	percent, err := strconv.ParseFloat(arg, 64)
	if err != nil || percent < 0 || percent > 100 {
		return 0, fmt.Errorf("invalid duty %q, want a percentage from 0 to 100", arg)
	}
	return client.DutyValue(percent), nil
}

func formatPWMState(st client.PWMState) string {
	return fmt.Sprintf("oid=%d duty=%d (%.1f%%) freq=%dHz timer=%d channel=%d",
		st.OID, st.Duty, float64(st.Duty)*100/core.MaxDuty, st.FrequencyHz, st.Timer, st.Channel)
}
