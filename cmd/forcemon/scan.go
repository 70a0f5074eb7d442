package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ctc/forcemon/internal/device"
	"github.com/ctc/forcemon/internal/manager"
	"github.com/spf13/cobra"
)

type scanFlags struct {
	duration time.Duration
	format   string
	services []string
	names    []string
	all      bool
}

func newScanCmd() *cobra.Command {
	flags := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for force-sensor boards",
		Long: `Scan for Bluetooth Low Energy advertisers and list their names, addresses,
signal strength and advertised services.

By default only boards advertising the Nordic UART Service are listed; use
--all to list every advertiser.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, flags)
		},
	}

	cmd.Flags().DurationVarP(&flags.duration, "duration", "d", 4*time.Second, "Scan duration")
	cmd.Flags().StringVarP(&flags.format, "format", "f", "table", "Output format (table, json)")
	cmd.Flags().StringSliceVarP(&flags.services, "services", "s", nil, "Filter by service UUIDs")
	cmd.Flags().StringSliceVarP(&flags.names, "name", "n", nil, "Filter by exact advertised names")
	cmd.Flags().BoolVarP(&flags.all, "all", "a", false, "List every advertiser, not only UART service boards")
	return cmd
}

func runScan(cmd *cobra.Command, flags *scanFlags) error {
	validFormats := []string{"table", "json"}
	isValidFormat := false
	for _, format := range validFormats {
		if flags.format == format {
			isValidFormat = true
			break
		}
	}
	if !isValidFormat {
		return fmt.Errorf("invalid format '%s': must be one of %v", flags.format, validFormats)
	}
	if flags.duration <= 0 {
		return fmt.Errorf("invalid duration %s: must be positive", flags.duration)
	}

	services := flags.services
	if len(services) == 0 && !flags.all {
		services = []string{device.NUSServiceUUID}
	}
	for _, u := range services {
		if _, err := device.ValidateUUID(u); err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	}

	m, _, err := newManager(cmd, nil, "")
	if err != nil {
		return err
	}
	defer m.Close()

	// Listen for Ctrl+C to cancel
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errOut := cmd.ErrOrStderr()
	if isTerminal(errOut) {
		progress := NewProgressPrinter(errOut, "Scanning for force sensors", flags.duration)
		progress.Start()
		defer progress.Stop()
	}

	found, err := m.Scan(ctx, &manager.ScanOptions{
		Duration:     flags.duration,
		ServiceUUIDs: services,
		Names:        flags.names,
	})
	if err != nil {
		return err
	}

	if flags.format == "json" {
		return displaySightingsJSON(cmd.OutOrStdout(), found)
	}
	return displaySightingsTable(cmd.OutOrStdout(), found)
}

func displaySightingsTable(out io.Writer, found []manager.Sighting) error {
	if len(found) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES\tLAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, s := range found {
		name := s.Name
		if name == "" {
			name = "<unnamed>"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		services := strings.Join(s.Services, ",")
		if len(services) > 38 {
			services = services[:35] + "..."
		}

		lastSeen := time.Since(s.LastSeen).Truncate(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s ago\n", name, s.Address, s.RSSI, services, lastSeen)
	}

	return w.Flush()
}

type sightingJSON struct {
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	RSSI        int       `json:"rssi"`
	Connectable bool      `json:"connectable"`
	Services    []string  `json:"services,omitempty"`
	LastSeen    time.Time `json:"last_seen"`
}

func displaySightingsJSON(out io.Writer, found []manager.Sighting) error {
	list := make([]sightingJSON, 0, len(found))
	for _, s := range found {
		list = append(list, sightingJSON{
			Name:        s.Name,
			Address:     s.Address,
			RSSI:        s.RSSI,
			Connectable: s.Connectable,
			Services:    s.Services,
			LastSeen:    s.LastSeen,
		})
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(list)
}
