package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree; each call returns fresh flag state
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "forcemon",
		Short: "Force-sensor peripheral monitor",
		Long: `Reads force sensors on ESP32 boards over Bluetooth Low Energy (Nordic UART Service).

- Scan for advertising sensor boards
- Read one-shot or streamed force values from a named board
- Watch two boards side by side with live force bars and kick grading

When no Bluetooth adapter is available the readings are simulated (see --sim
and fallback_to_sim in the config file).`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
	}

	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newReadCmd())
	rootCmd.AddCommand(newWatchCmd())

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("sim", false, "Use simulated readings instead of Bluetooth")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		// Print user-friendly error message
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
