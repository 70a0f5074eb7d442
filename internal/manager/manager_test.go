package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ctc/forcemon/internal/device"
	"github.com/ctc/forcemon/internal/devicefactory"
	"github.com/ctc/forcemon/internal/session"
	"github.com/ctc/forcemon/internal/testutils"
	"github.com/ctc/forcemon/pkg/config"
	"github.com/ctc/forcemon/pkg/force"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ManagerTestSuite struct {
	testutils.MockPeripheralSuite
}

func TestManagerTestSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}

func testConfig(devices ...string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Devices = devices
	cfg.HealthInterval = 0
	cfg.Session.ScanTimeout = 150 * time.Millisecond
	cfg.Session.ConnectTimeout = 150 * time.Millisecond
	cfg.Session.StopTimeout = 100 * time.Millisecond
	cfg.Reading.ConnectBudget = time.Second
	cfg.Reading.DisconnectBudget = time.Second
	cfg.Reading.ReadTimeout = 300 * time.Millisecond
	cfg.Reading.PollInterval = 10 * time.Millisecond
	cfg.Reading.GracePeriod = 50 * time.Millisecond
	return cfg
}

// install replaces the suite peripheral and points the adapter factory at it
func (s *ManagerTestSuite) install(p *testutils.Peripheral) {
	s.Peripheral = p
	devicefactory.AdapterFactory = func(string, *logrus.Logger) (device.Adapter, error) {
		return p.Adapter, nil
	}
}

func (s *ManagerTestSuite) newManager(cfg *config.Config) *Manager {
	m, err := New(cfg, s.Logger)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = m.Close() })
	return m
}

func (s *ManagerTestSuite) TestEndToEnd() {
	// GOAL: Verify the manager wires config, session and handler into a working read path
	//
	// TEST SCENARIO: ESP32_1 answers GET_FORCE → ConnectAll → GetBothReadings → Close disconnects

	s.install(testutils.NewPeripheralDeviceBuilder(s.T()).
		WithForceResponse("412.5,388.0,23,7\n", 10*time.Millisecond).
		Build())

	m := s.newManager(testConfig("ESP32_1"))
	s.False(m.Simulated())
	s.Equal([]string{"ESP32_1"}, m.Names())

	s.Equal(1, m.ConnectAll(context.Background()), "ESP32_1 MUST connect")

	h, ok := m.Handler("ESP32_1")
	s.Require().True(ok)
	r := h.GetBothReadings()
	s.Equal("412.5,388.0,23,7", r.String())

	status := m.Status()
	s.Require().Len(status, 1)
	s.Equal(session.Ready, status[0].State)
	s.True(status[0].Connected)
	s.GreaterOrEqual(status[0].AgeMillis, int64(0))

	s.Require().NoError(m.Close())
	s.False(h.IsConnected(), "Close MUST disconnect every device")
	s.True(s.Peripheral.Client().IsDropped())
	s.NoError(m.Close(), "second Close MUST be a no-op")
}

func (s *ManagerTestSuite) TestConnectAllPartial() {
	// GOAL: Verify two independent sessions where only one peripheral is present
	//
	// TEST SCENARIO: ESP32_1 advertises, ESP32_2 does not → ConnectAll = 1, ESP32_2 Failed with NotFound

	m := s.newManager(testConfig("ESP32_1", "ESP32_2"))

	s.Equal(1, m.ConnectAll(context.Background()))

	status := m.Status()
	s.Require().Len(status, 2)
	s.Equal("ESP32_1", status[0].Name, "status MUST follow configuration order")
	s.Equal(session.Ready, status[0].State)
	s.Equal("ESP32_2", status[1].Name)
	s.Equal(session.Failed, status[1].State)
	s.ErrorIs(status[1].LastError, device.ErrDeviceNotFound)
	s.Equal(int64(-1), status[1].AgeMillis)

	h, _ := m.Handler("ESP32_2")
	s.Equal(force.NA, h.GetReading(), "unconnected device MUST read N/A")
}

func (s *ManagerTestSuite) TestScan() {
	// GOAL: Verify scan fills the discovery cache, filters and orders by signal strength
	//
	// TEST SCENARIO: three advertisers → unfiltered scan returns all by RSSI; service filter keeps only NUS

	s.install(testutils.CreateMockPeripheral(s.T(), "ESP32_1").
		WithOtherAdvertisements(
			testutils.CreateMockAdvertisementFromJSON(
				`{"name":"Heart","address":%q,"rssi":-70,"services":["180D"],"connectable":false}`,
				"11:22:33:44:55:66"),
			testutils.CreateMockAdvertisement("", "11:22:33:44:55:77", -40),
		).
		Build())

	m := s.newManager(testConfig("ESP32_1"))

	var mu sync.Mutex
	var first []string
	found, err := m.Scan(context.Background(), &ScanOptions{
		Duration: 100 * time.Millisecond,
		OnSighting: func(sg Sighting) {
			mu.Lock()
			first = append(first, sg.Address)
			mu.Unlock()
		},
	})
	s.Require().NoError(err)
	s.Require().Len(found, 3)
	s.Equal("11:22:33:44:55:77", found[0].Address, "strongest signal MUST come first")
	s.Equal("ESP32_1", found[1].Name)
	s.Equal("Heart", found[2].Name)
	s.False(found[2].Connectable)
	s.Equal([]string{"180D"}, found[2].Services, "advertised services MUST be kept")

	mu.Lock()
	s.Len(first, 3, "OnSighting MUST fire once per address")
	mu.Unlock()

	nus := m.Sightings(&ScanOptions{ServiceUUIDs: []string{"6E400001-B5A3-F393-E0A9-E50E24DCCA9E"}})
	s.Require().Len(nus, 1)
	s.Equal(s.Peripheral.Address, nus[0].Address)

	named := m.Sightings(&ScanOptions{Names: []string{"Heart"}})
	s.Require().Len(named, 1)
	s.Equal("11:22:33:44:55:66", named[0].Address)
}

func (s *ManagerTestSuite) TestScanError() {
	s.install(testutils.NewPeripheralDeviceBuilder(s.T()).WithScanError(device.ErrBluetoothOff).Build())

	m := s.newManager(testConfig("ESP32_1"))
	_, err := m.Scan(context.Background(), &ScanOptions{Duration: 50 * time.Millisecond})
	s.ErrorIs(err, device.ErrBluetoothOff)
}

func (s *ManagerTestSuite) TestClosed() {
	m := s.newManager(testConfig("ESP32_1"))
	s.Require().NoError(m.Close())

	_, err := m.Scan(context.Background(), nil)
	s.ErrorIs(err, ErrClosed)
	s.Equal(0, m.ConnectAll(context.Background()))
	s.ErrorIs(m.StartHealthReport(), ErrClosed)
}

func (s *ManagerTestSuite) TestFallbackToSimulation() {
	// GOAL: Verify an unavailable transport falls back to simulated readings only when allowed
	//
	// TEST SCENARIO: factory fails → fallback on: simulated handlers; fallback off: New fails

	factoryErr := errors.New("no bluetooth adapter")
	devicefactory.AdapterFactory = func(string, *logrus.Logger) (device.Adapter, error) {
		return nil, factoryErr
	}

	cfg := testConfig("ESP32_1", "ESP32_2")
	m := s.newManager(cfg)
	s.True(m.Simulated())
	s.Equal(2, m.ConnectAll(context.Background()))
	for _, h := range m.Handlers() {
		s.True(h.Simulated())
		v, ok := h.GetReading().Float()
		s.True(ok)
		s.GreaterOrEqual(v, 0.0)
		s.LessOrEqual(v, cfg.Simulation.SingleMax)
	}

	cfg = testConfig("ESP32_1")
	cfg.FallbackToSim = false
	_, err := New(cfg, s.Logger)
	s.ErrorIs(err, factoryErr)
}

func TestSimTransport(t *testing.T) {
	orig := devicefactory.AdapterFactory
	t.Cleanup(func() { devicefactory.AdapterFactory = orig })
	devicefactory.AdapterFactory = func(string, *logrus.Logger) (device.Adapter, error) {
		t.Fatal("sim transport MUST NOT open an adapter")
		return nil, nil
	}

	cfg := testConfig("LEFT", "RIGHT")
	cfg.Transport = "sim"
	logger, _ := logtest.NewNullLogger()

	m, err := New(cfg, logger)
	require.NoError(t, err)
	defer m.Close()

	assert.True(t, m.Simulated())
	found, err := m.Scan(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "LEFT", found[0].Name)
	assert.Equal(t, "RIGHT", found[1].Name)

	h, ok := m.Handler("RIGHT")
	require.True(t, ok)
	assert.Equal(t, force.NA, h.GetReading(), "simulated device MUST read N/A until connected")
	require.True(t, h.Connect(context.Background()))
	r := h.GetBothReadings()
	a, okA := r.A.Float()
	b, okB := r.B.Float()
	assert.True(t, okA && okB)
	assert.LessOrEqual(t, a, cfg.Simulation.DualMax)
	assert.LessOrEqual(t, b, cfg.Simulation.DualMax)
}

func TestNewInvalidMode(t *testing.T) {
	cfg := testConfig("ESP32_1")
	cfg.Transport = "sim"
	cfg.Mode = "burst"

	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	so := SessionOptions(cfg)
	assert.Equal(t, 4*time.Second, so.ScanTimeout)
	assert.Equal(t, device.NUSTXCharUUID, so.NotifyUUID)

	ho := HandlerOptions(cfg, force.Continuous)
	assert.Equal(t, force.Continuous, ho.Mode)
	assert.Equal(t, 15*time.Second, ho.ConnectBudget)
	assert.Equal(t, 50*time.Millisecond, ho.PollInterval)

	sim := SimOptions(cfg)
	assert.Equal(t, 1500.0, sim.DualMax)
}

func TestHealthReport(t *testing.T) {
	// GOAL: Verify the health report logs each device and flags failures
	//
	// TEST SCENARIO: simulated manager, one device connected → report logs status per device

	logger, hook := logtest.NewNullLogger()
	cfg := testConfig("ESP32_1", "ESP32_2")
	cfg.Transport = "sim"

	m, err := New(cfg, logger)
	require.NoError(t, err)
	defer m.Close()

	h, _ := m.Handler("ESP32_1")
	require.True(t, h.Connect(context.Background()))

	hook.Reset()
	m.reportHealth()

	var entries []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "Device status" {
			entries = append(entries, e)
		}
	}
	require.Len(t, entries, 2)
	assert.Equal(t, "ESP32_1", entries[0].Data["device"])
	assert.Equal(t, "ready", entries[0].Data["state"])
	assert.Equal(t, "ESP32_2", entries[1].Data["device"])
	assert.Equal(t, "disconnected", entries[1].Data["state"])
}

func TestStartHealthReport(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	cfg := testConfig("ESP32_1")
	cfg.Transport = "sim"
	cfg.HealthInterval = time.Second

	m, err := New(cfg, logger)
	require.NoError(t, err)

	require.NoError(t, m.StartHealthReport())
	require.NoError(t, m.StartHealthReport(), "second start MUST be a no-op")

	assert.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if e.Message == "Device status" {
				return true
			}
		}
		return false
	}, 3*time.Second, 50*time.Millisecond, "cron schedule MUST run the report")

	require.NoError(t, m.Close())
}

func TestStartHealthReportAfterClose(t *testing.T) {
	// GOAL: Verify a closed manager refuses the health report whether or not it is enabled
	//
	// TEST SCENARIO: close → StartHealthReport with interval 0 and 1s → both return ErrClosed

	tests := []struct {
		name     string
		interval time.Duration
	}{
		{name: "disabled", interval: 0},
		{name: "enabled", interval: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := logtest.NewNullLogger()
			cfg := testConfig("ESP32_1")
			cfg.Transport = "sim"
			cfg.HealthInterval = tt.interval

			m, err := New(cfg, logger)
			require.NoError(t, err)
			require.NoError(t, m.Close())

			assert.ErrorIs(t, m.StartHealthReport(), ErrClosed, "closed manager MUST report ErrClosed")
		})
	}
}
