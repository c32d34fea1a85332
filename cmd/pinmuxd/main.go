// pinmuxd applies a board configuration on a Linux single board computer
// and logs pin interrupts until it is stopped.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/i2c/i2creg"

	"pinmux/config"
	"pinmux/drivers/pca9557"
	"pinmux/logging"
	"pinmux/targets/linux"
	"pinmux/targets/sim"
)

var (
	daemonOpts = struct {
		config string
		sim    bool
	}{}

	rootCmd = &cobra.Command{
		Use:           "pinmuxd",
		Short:         "Drive configured PWM outputs and log pin interrupts",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(daemonOpts.config)
			if err != nil {
				return err
			}
			log, closeLog, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer closeLog()

			hw, closeHW, err := openHardware(cfg, daemonOpts.sim)
			if err != nil {
				return err
			}
			defer closeHW()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d := newDaemon(cfg, hw, log)
			if err := d.setup(); err != nil {
				return err
			}
			log.Info("pinmuxd running", "outputs", len(cfg.PWM), "interrupts", len(cfg.Interrupts), "sim", daemonOpts.sim)
			return d.run(ctx)
		},
	}
)

func init() {
	rootCmd.Flags().StringVarP(&daemonOpts.config, "config", "c", "/etc/pinmux.yaml", "board configuration file")
	rootCmd.Flags().BoolVar(&daemonOpts.sim, "sim", false, "use simulated hardware instead of periph.io")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openHardware picks the simulated or the periph backend. The expander is
// only opened on real hardware.
func openHardware(cfg *config.Config, useSim bool) (hardware, func(), error) {
	if useSim {
		return hardware{pwm: sim.NewPWM(), irq: sim.NewInterrupts()}, func() {}, nil
	}

	if err := linux.Init(); err != nil {
		return hardware{}, nil, fmt.Errorf("init periph host: %w", err)
	}
	irq := linux.NewInterrupts(nil, nil)
	hw := hardware{pwm: linux.NewPWM(nil, nil), irq: irq}
	closers := []func() error{irq.Close}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	if cfg.Expander != nil {
		bus, err := i2creg.Open(strconv.Itoa(cfg.Expander.Bus))
		if err != nil {
			closeAll()
			return hardware{}, nil, fmt.Errorf("open i2c bus %d: %w", cfg.Expander.Bus, err)
		}
		closers = append(closers, bus.Close)
		dev, err := pca9557.New(bus, cfg.Expander.Address)
		if err != nil {
			closeAll()
			return hardware{}, nil, err
		}
		hw.expander = dev
	}
	return hw, closeAll, nil
}
