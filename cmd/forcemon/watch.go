package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ctc/forcemon/internal/manager"
	"github.com/ctc/forcemon/pkg/force"
	"github.com/spf13/cobra"
)

type watchFlags struct {
	mode     string
	refresh  time.Duration
	lines    bool
	duration time.Duration
}

func newWatchCmd() *cobra.Command {
	flags := &watchFlags{}
	cmd := &cobra.Command{
		Use:   "watch [device-name...]",
		Short: "Live view of up to two sensor boards",
		Long: `Connects to the configured boards (or the names given) and shows both force
channels as bars together with the peak force and its kick grade.

When stdout is not a terminal, or with --lines, one line per refresh is printed instead.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, args, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.mode, "mode", "m", "", "Reading mode (oneshot, continuous); config default when empty")
	cmd.Flags().DurationVarP(&flags.refresh, "refresh", "r", 100*time.Millisecond, "Refresh interval")
	cmd.Flags().BoolVar(&flags.lines, "lines", false, "Print plain lines instead of the live view")
	cmd.Flags().DurationVarP(&flags.duration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	return cmd
}

func runWatch(cmd *cobra.Command, names []string, flags *watchFlags) error {
	if flags.refresh <= 0 {
		return fmt.Errorf("invalid refresh %s: must be positive", flags.refresh)
	}
	if flags.mode != "" {
		if _, err := force.ParseMode(flags.mode); err != nil {
			return err
		}
	}

	m, _, err := newManager(cmd, names, flags.mode)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.StartHealthReport(); err != nil {
		return err
	}

	// Listen for Ctrl+C to cancel
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if flags.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flags.duration)
		defer cancel()
	}

	out := cmd.OutOrStdout()
	if flags.lines || !isTerminal(out) {
		return watchLines(ctx, out, m, flags.refresh)
	}

	p := tea.NewProgram(
		newWatchModel(ctx, m, flags.refresh),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
		tea.WithOutput(out),
	)
	_, err = p.Run()
	if err != nil && ctx.Err() != nil {
		// interrupted or duration elapsed
		return nil
	}
	return err
}

// watchLines connects every device and prints one line of readings per refresh
func watchLines(ctx context.Context, out io.Writer, m *manager.Manager, refresh time.Duration) error {
	for _, h := range m.Handlers() {
		if !h.Connect(ctx) {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "%s: %s\n", colorName.Sprint(h.Name()), colorFailed.Sprint("Connection Failed"))
		}
	}

	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	for {
		parts := make([]string, 0, len(m.Names()))
		for _, h := range m.Handlers() {
			parts = append(parts, fmt.Sprintf("%s %s", colorName.Sprint(h.Name()), formatReadings(h.GetBothReadings())))
		}
		fmt.Fprintln(out, strings.Join(parts, " | "))

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
