package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// MaxDevices is the number of peripherals served side by side
const MaxDevices = 2

// Config holds application configuration
type Config struct {
	LogLevel      string   `yaml:"log_level" default:"info"`
	Transport     string   `yaml:"transport" default:"goble"` // goble, tinygo, sim
	FallbackToSim bool     `yaml:"fallback_to_sim" default:"true"`
	Devices       []string `yaml:"devices"`
	Mode          string   `yaml:"mode" default:"oneshot"` // oneshot, continuous

	HealthInterval time.Duration `yaml:"health_interval" default:"10s"`

	Session    SessionConfig    `yaml:"session"`
	Reading    ReadingConfig    `yaml:"reading"`
	Simulation SimulationConfig `yaml:"simulation"`
	Grading    GradingConfig    `yaml:"grading"`
}

// SessionConfig bounds discovery and connection of one peripheral
type SessionConfig struct {
	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"4s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"5s"`
	StopTimeout    time.Duration `yaml:"stop_timeout" default:"1s"`

	ServiceUUID string `yaml:"service_uuid" default:"6e400001-b5a3-f393-e0a9-e50e24dcca9e"`
	WriteUUID   string `yaml:"write_uuid" default:"6e400002-b5a3-f393-e0a9-e50e24dcca9e"`
	NotifyUUID  string `yaml:"notify_uuid" default:"6e400003-b5a3-f393-e0a9-e50e24dcca9e"`
}

// ReadingConfig bounds the polling calls
type ReadingConfig struct {
	ConnectBudget    time.Duration `yaml:"connect_budget" default:"15s"`
	DisconnectBudget time.Duration `yaml:"disconnect_budget" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"1s"`
	PollInterval     time.Duration `yaml:"poll_interval" default:"50ms"`
	GracePeriod      time.Duration `yaml:"grace_period" default:"200ms"`
}

// SimulationConfig shapes the synthetic readings
type SimulationConfig struct {
	Start     float64 `yaml:"start" default:"500"`
	Step      float64 `yaml:"step" default:"50"`
	SingleMax float64 `yaml:"single_max" default:"1000"`
	DualMax   float64 `yaml:"dual_max" default:"1500"`
}

// GradingConfig holds the accuracy curve and letter cutoffs of the kicking drill
type GradingConfig struct {
	Threshold float64 `yaml:"threshold" default:"220"`
	Exponent  float64 `yaml:"exponent" default:"1.7"`
	CutoffA   float64 `yaml:"cutoff_a" default:"80"`
	CutoffB   float64 `yaml:"cutoff_b" default:"65"`
	CutoffC   float64 `yaml:"cutoff_c" default:"55"`
	CutoffD   float64 `yaml:"cutoff_d" default:"40"`
}

// DefaultDevices are the advertised names of the two sensor boards
var DefaultDevices = []string{"ESP32_1", "ESP32_2"}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.Devices = append([]string(nil), DefaultDevices...)
	return cfg
}

// Parse overlays YAML data on the defaults
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(cfg.Devices) == 0 {
		cfg.Devices = append([]string(nil), DefaultDevices...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads a YAML config file; an empty path returns the defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Validate checks values that defaults cannot repair
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}

	switch strings.ToLower(c.Transport) {
	case "goble", "go-ble", "tinygo", "tinyble", "sim":
	default:
		return fmt.Errorf("invalid transport %q (expected goble, tinygo or sim)", c.Transport)
	}

	switch strings.ToLower(c.Mode) {
	case "oneshot", "one-shot", "continuous":
	default:
		return fmt.Errorf("invalid mode %q (expected oneshot or continuous)", c.Mode)
	}

	if len(c.Devices) > MaxDevices {
		return fmt.Errorf("at most %d devices are supported, got %d", MaxDevices, len(c.Devices))
	}
	seen := map[string]bool{}
	for _, name := range c.Devices {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("device name must not be empty")
		}
		if seen[name] {
			return fmt.Errorf("device %q listed twice", name)
		}
		seen[name] = true
	}

	if c.Simulation.SingleMax <= 0 || c.Simulation.DualMax <= 0 {
		return fmt.Errorf("simulation maxima must be positive")
	}
	if c.Grading.Threshold <= 0 {
		return fmt.Errorf("grading threshold must be positive")
	}
	return nil
}

// Simulated reports whether the sim transport is configured
func (c *Config) Simulated() bool {
	return strings.EqualFold(c.Transport, "sim")
}

// Level returns the parsed log level, InfoLevel when invalid
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
