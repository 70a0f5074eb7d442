package main

import (
	"fmt"
	"io"
	"os"

	"github.com/ctc/forcemon/internal/manager"
	"github.com/ctc/forcemon/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// loadConfig reads --config and applies the --sim override
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if sim, _ := cmd.Flags().GetBool("sim"); sim {
		cfg.Transport = "sim"
	}
	return cfg, nil
}

// newManager builds a device manager for names (configured devices when empty)
// in mode (configured mode when empty)
func newManager(cmd *cobra.Command, names []string, mode string) (*manager.Manager, *logrus.Logger, error) {
	logger, err := configureLogger(cmd)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if len(names) > 0 {
		cfg.Devices = names
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid arguments: %w", err)
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	m, err := manager.New(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return m, logger, nil
}

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
