// Package manager owns the force handlers of the configured peripherals, the
// shared worker loop they run on, a discovery cache and a periodic link health report.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/ctc/forcemon/internal/device"
	"github.com/ctc/forcemon/internal/devicefactory"
	"github.com/ctc/forcemon/internal/session"
	"github.com/ctc/forcemon/internal/worker"
	"github.com/ctc/forcemon/pkg/config"
	"github.com/ctc/forcemon/pkg/force"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrClosed is returned by operations on a closed manager
var ErrClosed = errors.New("manager closed")

const (
	workerQueue  = 16
	closeTimeout = 2 * time.Second
)

// Manager serves up to two peripherals side by side
type Manager struct {
	cfg       *config.Config
	logger    *logrus.Logger
	adapter   device.Adapter
	simulated bool
	loop      *worker.Loop

	handlers  *orderedmap.OrderedMap[string, *force.Handler]
	sightings *hashmap.Map[string, Sighting]

	mu     sync.Mutex
	cron   *cron.Cron
	closed bool
}

// New builds handlers for cfg.Devices. When the transport cannot be opened and
// cfg.FallbackToSim is set, every handler is simulated instead.
func New(cfg *config.Config, logger *logrus.Logger) (*Manager, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = cfg.NewLogger()
	}

	mode, err := force.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:       cfg,
		logger:    logger,
		handlers:  orderedmap.New[string, *force.Handler](),
		sightings: hashmap.New[string, Sighting](),
	}

	if cfg.Simulated() {
		m.simulated = true
	} else {
		adapter, err := devicefactory.NewAdapter(cfg.Transport, logger)
		switch {
		case err == nil:
			m.adapter = adapter
		case cfg.FallbackToSim:
			logger.WithFields(logrus.Fields{
				"transport": cfg.Transport,
				"error":     err,
			}).Warn("BLE transport unavailable, using simulated readings")
			m.simulated = true
		default:
			return nil, fmt.Errorf("failed to open %s transport: %w", cfg.Transport, err)
		}
	}

	if !m.simulated {
		m.loop = worker.New("forcemon-worker", workerQueue, logger)
	}

	handlerOpts := HandlerOptions(cfg, mode)
	for _, name := range cfg.Devices {
		var h *force.Handler
		if m.simulated {
			h = force.NewSimulatedHandler(name, handlerOpts, SimOptions(cfg), logger)
		} else {
			sess := session.New(name, m.adapter, nil, SessionOptions(cfg), logger)
			h = force.NewHandler(sess, m.loop, handlerOpts, logger)
		}
		m.handlers.Set(name, h)
	}

	logger.WithFields(logrus.Fields{
		"devices":   cfg.Devices,
		"transport": cfg.Transport,
		"simulated": m.simulated,
		"mode":      mode,
	}).Debug("Device manager created")

	return m, nil
}

// SessionOptions maps the session section of cfg
func SessionOptions(cfg *config.Config) session.Options {
	return session.Options{
		ScanTimeout:    cfg.Session.ScanTimeout,
		ConnectTimeout: cfg.Session.ConnectTimeout,
		StopTimeout:    cfg.Session.StopTimeout,
		ServiceUUID:    cfg.Session.ServiceUUID,
		WriteUUID:      cfg.Session.WriteUUID,
		NotifyUUID:     cfg.Session.NotifyUUID,
	}
}

// HandlerOptions maps the reading section of cfg
func HandlerOptions(cfg *config.Config, mode force.Mode) force.Options {
	return force.Options{
		Mode:             mode,
		ConnectBudget:    cfg.Reading.ConnectBudget,
		DisconnectBudget: cfg.Reading.DisconnectBudget,
		ReadTimeout:      cfg.Reading.ReadTimeout,
		PollInterval:     cfg.Reading.PollInterval,
		GracePeriod:      cfg.Reading.GracePeriod,
	}
}

// SimOptions maps the simulation section of cfg
func SimOptions(cfg *config.Config) force.SimOptions {
	return force.SimOptions{
		Start:     cfg.Simulation.Start,
		Step:      cfg.Simulation.Step,
		SingleMax: cfg.Simulation.SingleMax,
		DualMax:   cfg.Simulation.DualMax,
	}
}

func (m *Manager) Simulated() bool {
	return m.simulated
}

func (m *Manager) Config() *config.Config {
	return m.cfg
}

// Names returns the device names in configuration order
func (m *Manager) Names() []string {
	names := make([]string, 0, m.handlers.Len())
	for pair := m.handlers.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Handler returns the handler of a configured device
func (m *Manager) Handler(name string) (*force.Handler, bool) {
	return m.handlers.Get(name)
}

// Handlers returns every handler in configuration order
func (m *Manager) Handlers() []*force.Handler {
	hs := make([]*force.Handler, 0, m.handlers.Len())
	for pair := m.handlers.Oldest(); pair != nil; pair = pair.Next() {
		hs = append(hs, pair.Value)
	}
	return hs
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// ConnectAll connects each device in order and returns how many are connected.
// Handlers share one worker, so connects run one after the other.
func (m *Manager) ConnectAll(ctx context.Context) int {
	if m.isClosed() {
		return 0
	}
	connected := 0
	for pair := m.handlers.Oldest(); pair != nil; pair = pair.Next() {
		if ctx.Err() != nil {
			break
		}
		if pair.Value.Connect(ctx) {
			connected++
		}
	}
	return connected
}

// DisconnectAll disconnects every device
func (m *Manager) DisconnectAll() {
	for pair := m.handlers.Oldest(); pair != nil; pair = pair.Next() {
		pair.Value.Disconnect()
	}
}

// Close stops the health report, disconnects every device and stops the worker
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	c := m.cron
	m.cron = nil
	m.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-time.After(closeTimeout):
			m.logger.Warn("Health report still running after stop")
		}
	}

	m.DisconnectAll()

	if m.loop != nil {
		if err := m.loop.Close(closeTimeout); err != nil {
			return fmt.Errorf("failed to stop worker: %w", err)
		}
	}

	m.logger.Debug("Device manager closed")
	return nil
}
