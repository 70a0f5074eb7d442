package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ctc/forcemon/internal/device"
	"github.com/ctc/forcemon/internal/testutils"
	"github.com/ctc/forcemon/pkg/force"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type ReadTestSuite struct {
	CommandTestSuite
}

func TestReadTestSuite(t *testing.T) {
	suite.Run(t, new(ReadTestSuite))
}

func (s *ReadTestSuite) TestReadHelp() {
	// GOAL: Verify read command documents its arguments, flags and sentinels
	//
	// TEST SCENARIO: read --help → success → usage, --both, --mode, --count and sentinel names present

	out, err := s.ExecuteCommand("read", "--help")
	s.Require().NoError(err, "help command MUST succeed")

	s.Contains(out, "read <device-name>")
	s.Contains(out, "--both")
	s.Contains(out, "--mode")
	s.Contains(out, "--count")
	s.Contains(out, "Timeout")
}

func (s *ReadTestSuite) TestReadSimulated() {
	// GOAL: Verify --sim reads bounded synthetic values without a radio
	//
	// TEST SCENARIO: read ESP32_1 --sim --count 3 → three numeric lines

	out, err := s.ExecuteCommand("read", "ESP32_1", "--sim", "--count", "3", "--interval", "1ms")
	s.Require().NoError(err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	s.Require().Len(lines, 3, "MUST print one line per reading")
	for _, line := range lines {
		s.True(strings.HasPrefix(line, "ESP32_1: "), "line MUST start with the device name: %q", line)
		s.NotContains(line, "N/A")
	}
}

func (s *ReadTestSuite) TestReadBothFromPeripheral() {
	// GOAL: Verify the end-to-end read path through the mock transport
	//
	// TEST SCENARIO: ESP32_1 replies "412.5,388.0,23,7" to GET_FORCE → read --both prints all four fields

	s.Peripheral = testutils.NewPeripheralDeviceBuilder(s.T()).
		WithForceResponse("412.5,388.0,23,7\n", 10*time.Millisecond).
		Build()
	s.InstallPeripheral(s.Peripheral)

	out, err := s.ExecuteCommand("read", "ESP32_1", "--both", "--config", s.FastConfigFile())
	s.Require().NoError(err)
	s.Equal("ESP32_1: A=412.5 B=388.0 tx=23ms det=7ms\n", out)
	s.Equal([]string{"GET_FORCE\n"}, s.Peripheral.Writes())
	s.True(s.Peripheral.Client().IsDropped(), "command MUST disconnect on exit")
}

func (s *ReadTestSuite) TestReadTimeout() {
	// GOAL: Verify a silent peripheral prints the Timeout sentinel instead of failing
	//
	// TEST SCENARIO: connected peripheral never answers GET_FORCE → "ESP32_1: Timeout"

	out, err := s.ExecuteCommand("read", "ESP32_1", "--config", s.FastConfigFile())
	s.Require().NoError(err)
	s.Equal("ESP32_1: Timeout\n", out)
}

func (s *ReadTestSuite) TestReadContinuous() {
	s.Peripheral = testutils.NewPeripheralDeviceBuilder(s.T()).
		WithStream(5*time.Millisecond, "100.0,50.0,1,2\n").
		Build()
	s.InstallPeripheral(s.Peripheral)

	out, err := s.ExecuteCommand("read", "ESP32_1", "--mode", "continuous", "--config", s.FastConfigFile())
	s.Require().NoError(err)
	s.Equal("ESP32_1: 100.0\n", out)
	s.Equal([]string{"START_FORCE_READING\n", "STOP_FORCE_READING\n"}, s.Peripheral.Writes(),
		"continuous read MUST start and stop streaming")
}

func (s *ReadTestSuite) TestReadConnectionFailed() {
	// GOAL: Verify a missing peripheral reports Connection Failed within the configured bounds
	//
	// TEST SCENARIO: nothing advertises → read fails with ConnectionFailedError wrapping NotFound

	s.Peripheral = testutils.NewPeripheralDeviceBuilder(s.T()).WithoutAdvertising().Build()
	s.InstallPeripheral(s.Peripheral)

	start := time.Now()
	out, err := s.ExecuteCommand("read", "ESP32_1", "--config", s.FastConfigFile())
	s.Less(time.Since(start), 2*time.Second)

	s.Require().Error(err)
	var cf *ConnectionFailedError
	s.Require().True(errors.As(err, &cf), "error MUST be a ConnectionFailedError")
	s.Equal("ESP32_1", cf.Device)
	s.ErrorIs(err, device.ErrDeviceNotFound)
	s.Contains(out, "Connection Failed")
	s.Contains(FormatUserError(err), "not found")
}

func (s *ReadTestSuite) TestReadInvalidArguments() {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "missing device", args: []string{"read"}, wantErr: "accepts 1 arg"},
		{name: "negative count", args: []string{"read", "ESP32_1", "--count", "-1"}, wantErr: "invalid count"},
		{name: "bad mode", args: []string{"read", "ESP32_1", "--mode", "burst"}, wantErr: "unknown mode"},
		{name: "bad log level", args: []string{"read", "ESP32_1", "--sim", "--log-level", "loud"}, wantErr: "invalid log level"},
		{name: "missing config", args: []string{"read", "ESP32_1", "--config", "/nonexistent/forcemon.yaml"}, wantErr: "failed to read config"},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.ExecuteCommand(tt.args...)
			s.Require().Error(err)
			s.Contains(err.Error(), tt.wantErr)
		})
	}
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "412.5", stripANSI(formatValue(force.Number(412.5))))
	assert.Equal(t, "N/A", stripANSI(formatValue(force.NA)))
	assert.Equal(t, "Timeout", stripANSI(formatValue(force.TimeoutValue)))
	assert.Equal(t, "Error", stripANSI(formatValue(force.ErrorValue)))

	r := force.Readings{A: force.NA, B: force.NA}
	assert.Equal(t, "A=N/A B=N/A", stripANSI(formatReadings(r)), "sentinel readings MUST omit timing fields")
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}
