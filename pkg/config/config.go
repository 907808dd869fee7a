// Package config holds gateway configuration with documented defaults.
// Values load from an optional YAML file; unset fields fall back to the
// struct defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the root gateway configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level" default:"info"`
	HTTP      HTTPConfig      `yaml:"http"`
	BLE       BLEConfig       `yaml:"ble"`
	Session   SessionConfig   `yaml:"session"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// HTTPConfig configures the HTTP API server.
type HTTPConfig struct {
	Listen         string        `yaml:"listen" default:":8880"`
	RequestTimeout time.Duration `yaml:"request_timeout" default:"30s"`
}

// BLEConfig configures the radio transport.
type BLEConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"10s"`
	CommandTimeout time.Duration `yaml:"command_timeout" default:"3s"`
}

// SessionConfig holds the retry, staleness and eviction policy. These are
// policy knobs, not protocol constants.
type SessionConfig struct {
	ConnectAttempts int           `yaml:"connect_attempts" default:"3"`
	BackoffBase     time.Duration `yaml:"backoff_base" default:"500ms"`
	BackoffCap      time.Duration `yaml:"backoff_cap" default:"4s"`
	ExecuteRetries  int           `yaml:"execute_retries" default:"2"`
	Staleness       time.Duration `yaml:"staleness" default:"3s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" default:"90s"`
	EvictInterval   time.Duration `yaml:"evict_interval" default:"30s"`
}

// DiscoveryConfig configures background device discovery.
type DiscoveryConfig struct {
	Interval time.Duration `yaml:"interval" default:"60s"`
	Duration time.Duration `yaml:"duration" default:"5s"`
}

// parseDuration fills dst from a YAML duration string. Empty input keeps
// the current (default) value.
func parseDuration(dst *time.Duration, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q", raw)
	}
	*dst = d
	return nil
}

// Duration fields are Go duration strings in the YAML file ("500ms",
// "1m30s"). yaml.v3 only decodes integers into time.Duration, so each
// section unmarshals through a shadow struct. Absent fields keep their
// defaults.

func (c *HTTPConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Listen         *string `yaml:"listen"`
		RequestTimeout string  `yaml:"request_timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Listen != nil {
		c.Listen = *raw.Listen
	}
	return parseDuration(&c.RequestTimeout, raw.RequestTimeout)
}

func (c *BLEConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ConnectTimeout string `yaml:"connect_timeout"`
		CommandTimeout string `yaml:"command_timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if err := parseDuration(&c.ConnectTimeout, raw.ConnectTimeout); err != nil {
		return err
	}
	return parseDuration(&c.CommandTimeout, raw.CommandTimeout)
}

func (c *SessionConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ConnectAttempts *int   `yaml:"connect_attempts"`
		BackoffBase     string `yaml:"backoff_base"`
		BackoffCap      string `yaml:"backoff_cap"`
		ExecuteRetries  *int   `yaml:"execute_retries"`
		Staleness       string `yaml:"staleness"`
		IdleTimeout     string `yaml:"idle_timeout"`
		EvictInterval   string `yaml:"evict_interval"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.ConnectAttempts != nil {
		c.ConnectAttempts = *raw.ConnectAttempts
	}
	if raw.ExecuteRetries != nil {
		c.ExecuteRetries = *raw.ExecuteRetries
	}
	for _, f := range []struct {
		dst *time.Duration
		raw string
	}{
		{&c.BackoffBase, raw.BackoffBase},
		{&c.BackoffCap, raw.BackoffCap},
		{&c.Staleness, raw.Staleness},
		{&c.IdleTimeout, raw.IdleTimeout},
		{&c.EvictInterval, raw.EvictInterval},
	} {
		if err := parseDuration(f.dst, f.raw); err != nil {
			return err
		}
	}
	return nil
}

func (c *DiscoveryConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Interval string `yaml:"interval"`
		Duration string `yaml:"duration"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if err := parseDuration(&c.Interval, raw.Interval); err != nil {
		return err
	}
	return parseDuration(&c.Duration, raw.Duration)
}

// Default returns the configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads configuration from a YAML file. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the gateway cannot run with.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.Session.ConnectAttempts < 1 {
		return fmt.Errorf("session.connect_attempts must be at least 1, got %d", c.Session.ConnectAttempts)
	}
	if c.Session.ExecuteRetries < 0 {
		return fmt.Errorf("session.execute_retries must not be negative, got %d", c.Session.ExecuteRetries)
	}
	if c.Session.BackoffBase <= 0 || c.Session.BackoffCap < c.Session.BackoffBase {
		return fmt.Errorf("session backoff range %v..%v is invalid", c.Session.BackoffBase, c.Session.BackoffCap)
	}
	if c.BLE.CommandTimeout <= 0 {
		return fmt.Errorf("ble.command_timeout must be positive, got %v", c.BLE.CommandTimeout)
	}
	return nil
}

// NewLogger creates a configured logger instance.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
