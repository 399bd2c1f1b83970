// Package config handles configuration loading from YAML files and environment variables.
// Configuration precedence: CLI > environment variables > config file > embedded > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Guliveer/ssn1/internal/sensor"
)

// Duration is a wrapper around time.Duration that supports YAML unmarshaling
// from human-readable strings like "10ms", "1s", "1m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
}

// MarshalYAML implements the yaml.Marshaler interface for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds all sensor node configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Device   DeviceConfig   `yaml:"device"`
	Sensor   SensorConfig   `yaml:"sensor"`
	Sampling SamplingConfig `yaml:"sampling"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds the collector endpoint.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
}

// DeviceConfig identifies the node in reports.
type DeviceConfig struct {
	ID string `yaml:"id"`
}

// SensorConfig selects the reading source and the warning band.
type SensorConfig struct {
	Source        string  `yaml:"source"`
	LowThreshold  float64 `yaml:"low_threshold"`
	HighThreshold float64 `yaml:"high_threshold"`
}

// SamplingConfig holds timing settings.
type SamplingConfig struct {
	Interval       Duration `yaml:"interval"`
	PollInterval   Duration `yaml:"poll_interval"`
	ResolveTimeout Duration `yaml:"resolve_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// MetricsConfig holds the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns the default configuration. Thresholds have no
// default and must be supplied.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "httpbin.org",
			Port: "80",
		},
		Device: DeviceConfig{
			ID: "SSN1-UUID-12345",
		},
		Sensor: SensorConfig{
			Source: sensor.KindSimulated,
		},
		Sampling: SamplingConfig{
			Interval:       Duration{time.Second},
			PollInterval:   Duration{10 * time.Millisecond},
			ResolveTimeout: Duration{5 * time.Second},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// CLIOverrides holds values from command-line flags and arguments.
// Zero values are treated as "not set" and skipped.
type CLIOverrides struct {
	Host          string
	Port          string
	LowThreshold  float64
	HighThreshold float64
}

// Locate searches standard config file paths and returns the first one found.
// Returns empty string if no config file exists.
func Locate() string {
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadLayered loads configuration with the full precedence chain:
// CLI > env vars > external YAML file > embedded bytes > defaults.
//
// An optional configPath argument controls external-file discovery:
//   - omitted        → auto-discover via Locate()
//   - explicit value  → use that path ("" means no external file)
//
// A missing external file is not an error.
func LoadLayered(cli CLIOverrides, embedded []byte, configPath ...string) (*Config, error) {
	cfg := DefaultConfig()

	if len(embedded) > 0 {
		if err := yaml.Unmarshal(embedded, cfg); err != nil {
			return nil, fmt.Errorf("parsing embedded config: %w", err)
		}
	}

	var filePath string
	if len(configPath) > 0 {
		filePath = configPath[0]
	} else {
		filePath = Locate()
	}
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", filePath, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if cli.Host != "" {
		cfg.Server.Host = cli.Host
	}
	if cli.Port != "" {
		cfg.Server.Port = cli.Port
	}
	if cli.LowThreshold != 0 {
		cfg.Sensor.LowThreshold = cli.LowThreshold
	}
	if cli.HighThreshold != 0 {
		cfg.Sensor.HighThreshold = cli.HighThreshold
	}

	return cfg, nil
}

const writtenHeader = "# SSN-1 effective configuration. Values here override the embedded\n# defaults; SSN_* environment variables and flags still override them.\n"

// WriteConfig stores cfg as YAML at path, creating parent directories, so
// the result can be loaded back as the external file layer.
func WriteConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, append([]byte(writtenHeader), data...), 0640); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("SSN_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("SSN_SERVER_PORT"); port != "" {
		cfg.Server.Port = port
	}
	if id := os.Getenv("SSN_DEVICE_ID"); id != "" {
		cfg.Device.ID = id
	}
	if level := os.Getenv("SSN_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

// Validate checks that the configuration can drive a node.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return fmt.Errorf("server host is required")
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Sensor.LowThreshold <= 0 || c.Sensor.HighThreshold <= 0 {
		return fmt.Errorf("thresholds must be positive (got %g, %g)",
			c.Sensor.LowThreshold, c.Sensor.HighThreshold)
	}
	if c.Sensor.LowThreshold >= c.Sensor.HighThreshold {
		return fmt.Errorf("low threshold %g must be below high threshold %g",
			c.Sensor.LowThreshold, c.Sensor.HighThreshold)
	}
	switch c.Sensor.Source {
	case sensor.KindSimulated, sensor.KindHost:
	default:
		return fmt.Errorf("unknown sensor source %q", c.Sensor.Source)
	}
	if c.Sampling.Interval.Duration <= 0 {
		return fmt.Errorf("sampling interval must be positive")
	}
	if c.Sampling.PollInterval.Duration <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Sampling.ResolveTimeout.Duration <= 0 {
		return fmt.Errorf("resolve timeout must be positive")
	}
	return nil
}
