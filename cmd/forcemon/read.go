package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ctc/forcemon/pkg/force"
	"github.com/spf13/cobra"
)

type readFlags struct {
	both     bool
	mode     string
	count    int
	interval time.Duration
}

func newReadCmd() *cobra.Command {
	flags := &readFlags{}
	cmd := &cobra.Command{
		Use:   "read <device-name>",
		Short: "Read force values from a sensor board",
		Long: `Connects to the board advertising <device-name> and prints force readings.

Examples:
  # One reading of channel A
  forcemon read ESP32_1

  # Ten readings of both channels with timing fields, streamed
  forcemon read ESP32_1 --both --mode continuous --count 10

  # Read until Ctrl+C, every 200ms
  forcemon read ESP32_2 --count 0 --interval 200ms

Readings that could not be obtained print as N/A (not connected),
Timeout (no reply in time) or Error (command could not be sent).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(cmd, args[0], flags)
		},
	}

	cmd.Flags().BoolVarP(&flags.both, "both", "b", false, "Read both channels and the timing fields")
	cmd.Flags().StringVarP(&flags.mode, "mode", "m", "", "Reading mode (oneshot, continuous); config default when empty")
	cmd.Flags().IntVarP(&flags.count, "count", "c", 1, "Number of readings (0 reads until interrupted)")
	cmd.Flags().DurationVarP(&flags.interval, "interval", "i", 100*time.Millisecond, "Pause between readings")
	return cmd
}

func runRead(cmd *cobra.Command, name string, flags *readFlags) error {
	if flags.count < 0 {
		return fmt.Errorf("invalid count %d: must be zero or positive", flags.count)
	}
	if flags.mode != "" {
		if _, err := force.ParseMode(flags.mode); err != nil {
			return err
		}
	}

	m, logger, err := newManager(cmd, []string{name}, flags.mode)
	if err != nil {
		return err
	}
	defer m.Close()

	h, ok := m.Handler(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}

	// Listen for Ctrl+C to cancel
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	if !h.Connect(ctx) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprintf(out, "%s: %s\n", colorName.Sprint(name), colorFailed.Sprint("Connection Failed"))
		return &ConnectionFailedError{Device: name, Err: h.LastError()}
	}
	logger.WithField("device", name).Debug("Connected, reading")

	for i := 0; flags.count == 0 || i < flags.count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(flags.interval):
			}
		}

		var line string
		if flags.both {
			line = formatReadings(h.GetBothReadings())
		} else {
			line = formatValue(h.GetReading())
		}
		fmt.Fprintf(out, "%s: %s\n", colorName.Sprint(name), line)
	}
	return nil
}
