// Package config holds driver configuration: timeouts, intervals, logging,
// and CLI output preferences. Values come from defaults, optionally overlaid
// by a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel     string `yaml:"log_level"`
	OutputFormat string `yaml:"output_format"`

	ScanDuration   time.Duration `yaml:"scan_duration"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// RequestTimeout bounds one command/response round trip on the envelope
	// protocols (listings, transfer setup, DFU control).
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// ChunkTimeout bounds the wait for a single data chunk during transfers.
	ChunkTimeout    time.Duration `yaml:"chunk_timeout"`
	MonitorInterval time.Duration `yaml:"monitor_interval"`
	SyncInterval    time.Duration `yaml:"sync_interval"`
}

// Default returns the default configuration values.
func Default() *Config {
	return &Config{
		LogLevel:        "info",
		OutputFormat:    "table", // table, json
		ScanDuration:    10 * time.Second,
		ConnectTimeout:  30 * time.Second,
		RequestTimeout:  5 * time.Second,
		ChunkTimeout:    10 * time.Second,
		MonitorInterval: 5 * time.Second,
		SyncInterval:    5 * time.Second,
	}
}

// Load reads a YAML config file over the defaults. Keys absent from the file
// keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// UnmarshalYAML decodes durations from their human form ("30s", "2m"), which
// yaml.v3 does not do for time.Duration on its own. Absent keys leave the
// receiver untouched so defaults survive.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type raw struct {
		LogLevel        string `yaml:"log_level"`
		OutputFormat    string `yaml:"output_format"`
		ScanDuration    string `yaml:"scan_duration"`
		ConnectTimeout  string `yaml:"connect_timeout"`
		RequestTimeout  string `yaml:"request_timeout"`
		ChunkTimeout    string `yaml:"chunk_timeout"`
		MonitorInterval string `yaml:"monitor_interval"`
		SyncInterval    string `yaml:"sync_interval"`
	}

	var r raw
	if err := node.Decode(&r); err != nil {
		return err
	}

	if r.LogLevel != "" {
		c.LogLevel = r.LogLevel
	}
	if r.OutputFormat != "" {
		c.OutputFormat = r.OutputFormat
	}

	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"scan_duration", r.ScanDuration, &c.ScanDuration},
		{"connect_timeout", r.ConnectTimeout, &c.ConnectTimeout},
		{"request_timeout", r.RequestTimeout, &c.RequestTimeout},
		{"chunk_timeout", r.ChunkTimeout, &c.ChunkTimeout},
		{"monitor_interval", r.MonitorInterval, &c.MonitorInterval},
		{"sync_interval", r.SyncInterval, &c.SyncInterval},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	switch c.OutputFormat {
	case "table", "json":
	default:
		return fmt.Errorf("invalid output_format %q (want table or json)", c.OutputFormat)
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"scan_duration", c.ScanDuration},
		{"connect_timeout", c.ConnectTimeout},
		{"request_timeout", c.RequestTimeout},
		{"chunk_timeout", c.ChunkTimeout},
		{"monitor_interval", c.MonitorInterval},
		{"sync_interval", c.SyncInterval},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
