package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8880", cfg.HTTP.Listen)
	assert.Equal(t, 30*time.Second, cfg.HTTP.RequestTimeout)
	assert.Equal(t, 10*time.Second, cfg.BLE.ConnectTimeout)
	assert.Equal(t, 3*time.Second, cfg.BLE.CommandTimeout)
	assert.Equal(t, 3, cfg.Session.ConnectAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.BackoffBase)
	assert.Equal(t, 4*time.Second, cfg.Session.BackoffCap)
	assert.Equal(t, 2, cfg.Session.ExecuteRetries)
	assert.Equal(t, 3*time.Second, cfg.Session.Staleness)
	assert.Equal(t, 90*time.Second, cfg.Session.IdleTimeout)
	assert.Equal(t, 30*time.Second, cfg.Session.EvictInterval)
	assert.Equal(t, 60*time.Second, cfg.Discovery.Interval)
	assert.Equal(t, 5*time.Second, cfg.Discovery.Duration)

	assert.NoError(t, cfg.Validate())
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_OverridesAndDefaults(t *testing.T) {
	path := writeConfigFile(t, `
log_level: debug
http:
  listen: ":9000"
session:
  connect_attempts: 5
  backoff_base: 250ms
discovery:
  interval: 2m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	// Overridden values
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9000", cfg.HTTP.Listen)
	assert.Equal(t, 5, cfg.Session.ConnectAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.BackoffBase)
	assert.Equal(t, 2*time.Minute, cfg.Discovery.Interval)

	// Untouched values keep defaults
	assert.Equal(t, 30*time.Second, cfg.HTTP.RequestTimeout)
	assert.Equal(t, 3*time.Second, cfg.BLE.CommandTimeout)
	assert.Equal(t, 2, cfg.Session.ExecuteRetries)
	assert.Equal(t, 5*time.Second, cfg.Discovery.Duration)
}

func TestLoad_ZeroOverrides(t *testing.T) {
	// Explicit zeros must not be confused with absent fields.
	path := writeConfigFile(t, `
session:
  execute_retries: 0
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Session.ExecuteRetries)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfigFile(t, `
ble:
  command_timeout: soon
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "log_level: [unterminated")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
			ok:     true,
		},
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.LogLevel = "chatty" },
		},
		{
			name:   "zero connect attempts",
			mutate: func(c *Config) { c.Session.ConnectAttempts = 0 },
		},
		{
			name:   "negative execute retries",
			mutate: func(c *Config) { c.Session.ExecuteRetries = -1 },
		},
		{
			name:   "backoff cap below base",
			mutate: func(c *Config) { c.Session.BackoffCap = c.Session.BackoffBase / 2 },
		},
		{
			name:   "zero command timeout",
			mutate: func(c *Config) { c.BLE.CommandTimeout = 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		expected logrus.Level
	}{
		{
			name:     "debug",
			logLevel: "debug",
			expected: logrus.DebugLevel,
		},
		{
			name:     "warn",
			logLevel: "warn",
			expected: logrus.WarnLevel,
		},
		{
			name:     "unknown falls back to info",
			logLevel: "chatty",
			expected: logrus.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.LogLevel = tt.logLevel

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.expected, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}
