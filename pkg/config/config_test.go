package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ctc/forcemon/internal/testutils"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, logrus.InfoLevel, cfg.Level())
	assert.Equal(t, "goble", cfg.Transport)
	assert.True(t, cfg.FallbackToSim)
	assert.Equal(t, []string{"ESP32_1", "ESP32_2"}, cfg.Devices)
	assert.Equal(t, "oneshot", cfg.Mode)
	assert.Equal(t, 10*time.Second, cfg.HealthInterval)

	assert.Equal(t, 4*time.Second, cfg.Session.ScanTimeout)
	assert.Equal(t, 5*time.Second, cfg.Session.ConnectTimeout)
	assert.Equal(t, time.Second, cfg.Session.StopTimeout)
	assert.Equal(t, "6e400001-b5a3-f393-e0a9-e50e24dcca9e", cfg.Session.ServiceUUID)

	assert.Equal(t, 15*time.Second, cfg.Reading.ConnectBudget)
	assert.Equal(t, 5*time.Second, cfg.Reading.DisconnectBudget)
	assert.Equal(t, time.Second, cfg.Reading.ReadTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.Reading.PollInterval)
	assert.Equal(t, 200*time.Millisecond, cfg.Reading.GracePeriod)

	assert.Equal(t, 500.0, cfg.Simulation.Start)
	assert.Equal(t, 50.0, cfg.Simulation.Step)
	assert.Equal(t, 1000.0, cfg.Simulation.SingleMax)
	assert.Equal(t, 1500.0, cfg.Simulation.DualMax)

	assert.Equal(t, 220.0, cfg.Grading.Threshold)
	assert.Equal(t, 1.7, cfg.Grading.Exponent)
	assert.Equal(t, 80.0, cfg.Grading.CutoffA)
	assert.Equal(t, 40.0, cfg.Grading.CutoffD)

	require.NoError(t, cfg.Validate(), "defaults MUST validate")
}

func TestDefaultConfig_DevicesAreCopied(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Devices[0] = "changed"

	assert.Equal(t, "ESP32_1", DefaultDevices[0], "mutating a config MUST NOT leak into the defaults")
}

func TestParse(t *testing.T) {
	// GOAL: Verify YAML overlays the defaults key by key
	//
	// TEST SCENARIO: partial document → given keys replaced, others keep defaults, false booleans survive

	cfg, err := Parse([]byte(`
transport: sim
fallback_to_sim: false
mode: continuous
devices: [LEFT]
reading:
  read_timeout: 250ms
grading:
  threshold: 300
`))
	require.NoError(t, err)

	assert.Equal(t, "sim", cfg.Transport)
	assert.True(t, cfg.Simulated())
	assert.False(t, cfg.FallbackToSim, "explicit false MUST NOT be replaced by the default")
	assert.Equal(t, "continuous", cfg.Mode)
	assert.Equal(t, []string{"LEFT"}, cfg.Devices)
	assert.Equal(t, 250*time.Millisecond, cfg.Reading.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Reading.ConnectBudget, "unset nested keys MUST keep defaults")
	assert.Equal(t, 300.0, cfg.Grading.Threshold)
	assert.Equal(t, 1.7, cfg.Grading.Exponent)
}

func TestParse_EmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "malformed yaml", yaml: "devices: [unterminated", wantErr: "failed to parse config"},
		{name: "bad duration", yaml: "health_interval: soon", wantErr: "failed to parse config"},
		{name: "bad log level", yaml: "log_level: loud", wantErr: "invalid log_level"},
		{name: "bad transport", yaml: "transport: usb", wantErr: "invalid transport"},
		{name: "bad mode", yaml: "mode: burst", wantErr: "invalid mode"},
		{name: "too many devices", yaml: "devices: [A, B, C]", wantErr: "at most 2 devices"},
		{name: "duplicate device", yaml: "devices: [A, A]", wantErr: "listed twice"},
		{name: "empty device name", yaml: "devices: [\"  \"]", wantErr: "must not be empty"},
		{name: "zero sim max", yaml: "simulation: {single_max: -1}", wantErr: "simulation maxima"},
		{name: "zero threshold", yaml: "grading: {threshold: -5}", wantErr: "grading threshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			assert.Nil(t, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("reads file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "forcemon.yaml")
		require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, logrus.DebugLevel, cfg.Level())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestExampleConfigMatchesDefaults(t *testing.T) {
	data, err := testutils.LoadProjectFile("configs/forcemon.example.yaml")
	require.NoError(t, err)

	cfg, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg, "shipped example MUST document the defaults")
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{
			name:     "creates logger with debug level",
			logLevel: "debug",
			want:     logrus.DebugLevel,
		},
		{
			name:     "creates logger with info level",
			logLevel: "info",
			want:     logrus.InfoLevel,
		},
		{
			name:     "creates logger with warn level",
			logLevel: "warn",
			want:     logrus.WarnLevel,
		},
		{
			name:     "creates logger with error level",
			logLevel: "error",
			want:     logrus.ErrorLevel,
		},
		{
			name:     "falls back to info on unknown level",
			logLevel: "chatty",
			want:     logrus.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				LogLevel: tt.logLevel,
			}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.want, logger.GetLevel())

			// Verify formatter is set correctly
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func BenchmarkDefaultConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DefaultConfig()
	}
}

func BenchmarkParse(b *testing.B) {
	data := []byte("mode: continuous\ndevices: [ESP32_1]\n")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Parse(data)
	}
}
