package testutils

import (
	"time"

	"github.com/ctc/forcemon/internal/device"
	"github.com/ctc/forcemon/internal/devicefactory"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// MockPeripheralSuite provides a reusable test suite with a mock force-sensor peripheral.
//
// The suite swaps devicefactory.AdapterFactory for one returning the mocked
// adapter, so code that creates adapters by transport name sees the mock.
//
// Basic usage (default NUS peripheral named ESP32_1):
//
//	type SessionSuite struct {
//	    testutils.MockPeripheralSuite
//	}
//
//	func TestSessionSuite(t *testing.T) {
//	    suite.Run(t, new(SessionSuite))
//	}
//
// Custom peripheral usage:
//
//	func (s *SessionSuite) SetupTest() {
//	    s.WithPeripheral().
//	        WithForceResponse("412.5,388.0,23,7\n", 10*time.Millisecond)
//
//	    s.MockPeripheralSuite.SetupTest() // Call parent last to apply configuration
//	}
type MockPeripheralSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	OriginalAdapterFactory func(string, *logrus.Logger) (device.Adapter, error)
	TestTimeout            time.Duration

	PeripheralBuilder *PeripheralDeviceBuilder
	Peripheral        *Peripheral
}

// SetupSuite is called once before all tests in the suite.
func (s *MockPeripheralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 5 * time.Second

	s.OriginalAdapterFactory = devicefactory.AdapterFactory
	s.T().Cleanup(func() {
		if s.OriginalAdapterFactory != nil {
			devicefactory.AdapterFactory = s.OriginalAdapterFactory
			s.Logger.Debug("Adapter factory restored via t.Cleanup")
		}
	})
}

// SetupTest builds the configured peripheral and installs its adapter.
func (s *MockPeripheralSuite) SetupTest() {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = NewPeripheralDeviceBuilder(s.T())
	}
	s.Peripheral = s.PeripheralBuilder.Build()

	adapter := s.Peripheral.Adapter
	devicefactory.AdapterFactory = func(string, *logrus.Logger) (device.Adapter, error) {
		return adapter, nil
	}

	s.Logger.Debug("Test setup completed - ready for execution")
}

// TearDownTest restores the factory and resets the builder.
func (s *MockPeripheralSuite) TearDownTest() {
	if s.OriginalAdapterFactory != nil {
		devicefactory.AdapterFactory = s.OriginalAdapterFactory
	}
	s.PeripheralBuilder = nil
	s.Peripheral = nil
}

// WithPeripheral returns the peripheral builder for fluent configuration.
func (s *MockPeripheralSuite) WithPeripheral() *PeripheralDeviceBuilder {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = NewPeripheralDeviceBuilder(s.T())
	}
	return s.PeripheralBuilder
}
