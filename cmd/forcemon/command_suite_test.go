package main

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"

	"github.com/ctc/forcemon/internal/device"
	"github.com/ctc/forcemon/internal/devicefactory"
	"github.com/ctc/forcemon/internal/testutils"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// fastConfig shortens every bound so failure paths finish quickly
const fastConfig = `
session:
  scan_timeout: 150ms
  connect_timeout: 150ms
  stop_timeout: 100ms
reading:
  connect_budget: 1s
  disconnect_budget: 1s
  read_timeout: 300ms
  poll_interval: 10ms
  grace_period: 50ms
`

// CommandTestSuite extends MockPeripheralSuite with command testing utilities.
// All cmd/forcemon test suites should embed this instead of MockPeripheralSuite.
type CommandTestSuite struct {
	testutils.MockPeripheralSuite
}

func (s *CommandTestSuite) SetupSuite() {
	s.MockPeripheralSuite.SetupSuite()

	noColor := color.NoColor
	color.NoColor = true
	s.T().Cleanup(func() { color.NoColor = noColor })
}

// ExecuteCommand runs a fresh root command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// FastConfigFile writes a config with short timeouts and returns its path
func (s *CommandTestSuite) FastConfigFile() string {
	path := filepath.Join(s.T().TempDir(), "forcemon.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(fastConfig), 0o600), "config write MUST succeed")
	return path
}

// InstallPeripheral points the adapter factory at p
func (s *CommandTestSuite) InstallPeripheral(p *testutils.Peripheral) {
	s.Peripheral = p
	devicefactory.AdapterFactory = func(string, *logrus.Logger) (device.Adapter, error) {
		return p.Adapter, nil
	}
}

var ansiSequence = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// stripANSI removes terminal escape sequences
func stripANSI(s string) string {
	return ansiSequence.ReplaceAllString(s, "")
}
