// pinmux-host drives a pinmux board over its serial link.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pinmux/config"
	"pinmux/host/client"
	"pinmux/host/serial"
	"pinmux/logging"
)

var (
	globalOpts = struct {
		config  string
		device  string
		baud    int
		timeout time.Duration
	}{}

	rootCmd = &cobra.Command{
		Use:           "pinmux-host",
		Short:         "Control PWM outputs and pin interrupts on a pinmux board",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&globalOpts.config, "config", "c", "", "board configuration file")
	flags.StringVarP(&globalOpts.device, "device", "d", "/dev/ttyACM0", "serial device, overrides the configuration")
	flags.IntVarP(&globalOpts.baud, "baud", "b", 250000, "baud rate, overrides the configuration")
	flags.DurationVar(&globalOpts.timeout, "timeout", 2*time.Second, "time to wait for each board reply")

	rootCmd.AddCommand(pwmCmd, irqCmd, watchCmd, applyCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads --config when given and applies the flag overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Defaults()
	if globalOpts.config != "" {
		var err error
		if cfg, err = config.Load(globalOpts.config); err != nil {
			return nil, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("device") || globalOpts.config == "" {
		cfg.Serial.Device = globalOpts.device
	}
	if flags.Changed("baud") || globalOpts.config == "" {
		cfg.Serial.Baud = globalOpts.baud
	}
	return cfg, nil
}

// withBoard connects to the board, runs fn while the client reads
// responses, and disconnects
func withBoard(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, c *client.Client) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	port, err := serial.Open(serial.FromConfig(cfg.Serial))
	if err != nil {
		return err
	}
	c := client.New(port, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	runCtx, cancelRun := context.WithCancel(ctx)
	g.Go(func() error {
		return c.Run(runCtx)
	})
	g.Go(func() error {
		defer cancelRun()
		return fn(ctx, cfg, c)
	})
	return g.Wait()
}

// reply bounds one request to --timeout
func reply(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, globalOpts.timeout)
}

func parseUint(arg, what string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(arg, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", what, arg)
	}
	return v, nil
}

func parseOID(arg string) (uint8, error) {
	v, err := parseUint(arg, "oid", 8)
	return uint8(v), err
}
