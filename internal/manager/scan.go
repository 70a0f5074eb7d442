package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ctc/forcemon/internal/device"
	"github.com/ctc/forcemon/internal/worker"
	"github.com/sirupsen/logrus"
)

// Sighting is the latest advertisement seen from one address
type Sighting struct {
	Name        string
	Address     string
	RSSI        int
	Connectable bool
	Services    []string
	LastSeen    time.Time
	Count       int
}

// ScanOptions configures discovery
type ScanOptions struct {
	Duration time.Duration
	// ServiceUUIDs keeps only advertisers announcing one of these services
	ServiceUUIDs []string
	// Names keeps only advertisers with one of these exact local names
	Names []string
	// OnSighting is called for every first sighting of an address
	OnSighting func(Sighting)
}

// DefaultScanOptions returns a 4s unfiltered scan
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{Duration: 4 * time.Second}
}

// Scan listens for advertisements for opts.Duration and returns the matching
// sightings, strongest signal first. The scan runs on the worker so it never
// overlaps a session connect.
func (m *Manager) Scan(ctx context.Context, opts *ScanOptions) ([]Sighting, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if m.isClosed() {
		return nil, ErrClosed
	}
	if m.simulated {
		var found []Sighting
		for _, s := range m.simulatedSightings() {
			if matches(s.Name, s.Services, opts) {
				found = append(found, s)
			}
		}
		return found, nil
	}

	m.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")

	// waits for the scan itself plus time for a connect already queued on the worker
	budget := opts.Duration + m.cfg.Reading.ConnectBudget
	_, err := worker.Do(m.loop, budget, func(loopCtx context.Context) (struct{}, error) {
		scanCtx, cancel := context.WithTimeout(ctx, opts.Duration)
		defer cancel()
		return struct{}{}, m.adapter.Scan(scanCtx, func(adv device.Advertisement) {
			m.handleAdvertisement(adv, opts)
		})
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	found := m.Sightings(opts)
	m.logger.WithField("device_count", len(found)).Info("BLE scan completed")
	return found, nil
}

// handleAdvertisement updates an existing sighting or adds a new one
func (m *Manager) handleAdvertisement(adv device.Advertisement, opts *ScanOptions) {
	if !matches(adv.LocalName(), adv.Services(), opts) {
		return
	}

	now := time.Now()
	addr := adv.Addr()
	sighting := Sighting{
		Name:        adv.LocalName(),
		Address:     addr,
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
		Services:    adv.Services(),
		LastSeen:    now,
		Count:       1,
	}

	prev, existing := m.sightings.GetOrInsert(addr, sighting)
	if existing {
		sighting.Count = prev.Count + 1
		// scan responses often omit the name
		if sighting.Name == "" {
			sighting.Name = prev.Name
		}
		if len(sighting.Services) == 0 {
			sighting.Services = prev.Services
		}
		m.sightings.Set(addr, sighting)
		return
	}

	m.logger.WithFields(logrus.Fields{
		"device":  sighting.Name,
		"address": addr,
		"rssi":    sighting.RSSI,
	}).Info("Discovered new device")

	if opts.OnSighting != nil {
		opts.OnSighting(sighting)
	}
}

func matches(name string, services []string, opts *ScanOptions) bool {
	if opts == nil {
		return true
	}
	if len(opts.Names) > 0 {
		found := false
		for _, n := range opts.Names {
			if n == name {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(opts.ServiceUUIDs) > 0 {
		for _, required := range opts.ServiceUUIDs {
			want := device.NormalizeUUID(required)
			for _, svc := range services {
				if device.NormalizeUUID(svc) == want {
					return true
				}
			}
		}
		return false
	}
	return true
}

// Sightings returns a snapshot of the discovery cache matching opts, strongest signal first
func (m *Manager) Sightings(opts *ScanOptions) []Sighting {
	out := make([]Sighting, 0, m.sightings.Len())
	m.sightings.Range(func(_ string, s Sighting) bool {
		if matches(s.Name, s.Services, opts) {
			out = append(out, s)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].RSSI != out[j].RSSI {
			return out[i].RSSI > out[j].RSSI
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// simulatedSightings reports the configured devices as if they were advertising
func (m *Manager) simulatedSightings() []Sighting {
	now := time.Now()
	out := make([]Sighting, 0, m.handlers.Len())
	i := 0
	for pair := m.handlers.Oldest(); pair != nil; pair = pair.Next() {
		i++
		out = append(out, Sighting{
			Name:        pair.Key,
			Address:     fmt.Sprintf("SIM:00:00:00:00:%02X", i),
			Connectable: true,
			Services:    []string{m.cfg.Session.ServiceUUID},
			LastSeen:    now,
			Count:       1,
		})
	}
	return out
}
