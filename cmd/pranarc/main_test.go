package main

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OxideDevX/prana-rc/pkg/discovery"
	"github.com/OxideDevX/prana-rc/pkg/session"
)

func TestFormatVersion(t *testing.T) {
	tests := []struct {
		name     string
		version  string
		expected string
	}{
		{
			name:     "adds v prefix to numeric version",
			version:  "1.2.3",
			expected: "v1.2.3",
		},
		{
			name:     "keeps existing v prefix",
			version:  "v1.2.3",
			expected: "v1.2.3",
		},
		{
			name:     "keeps dev version as-is",
			version:  "dev",
			expected: "dev",
		},
		{
			name:     "handles empty string",
			version:  "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatVersion(tt.version))
		})
	}
}

func TestConfigureLogger(t *testing.T) {
	newCmd := func(level string) *cobra.Command {
		cmd := &cobra.Command{}
		cmd.Flags().String("log-level", "", "")
		if level != "" {
			require.NoError(t, cmd.Flags().Set("log-level", level))
		}
		return cmd
	}

	tests := []struct {
		name     string
		level    string
		expected logrus.Level
		wantErr  bool
	}{
		{
			name:     "no flag is silent",
			level:    "",
			expected: logrus.PanicLevel,
		},
		{
			name:     "debug",
			level:    "debug",
			expected: logrus.DebugLevel,
		},
		{
			name:     "warn",
			level:    "warn",
			expected: logrus.WarnLevel,
		},
		{
			name:    "invalid level rejected",
			level:   "chatty",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := configureLogger(newCmd(tt.level))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, logger.GetLevel())
		})
	}
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{
			name:     "device unreachable",
			err:      session.ErrDeviceUnreachable,
			contains: "device unreachable",
		},
		{
			name:     "protocol error",
			err:      session.ErrProtocolError,
			contains: "firmware mismatch",
		},
		{
			name:     "timeout",
			err:      session.ErrTimeout,
			contains: "timed out",
		},
		{
			name:     "discovery failure",
			err:      discovery.ErrDiscovery,
			contains: "Bluetooth is enabled",
		},
		{
			name:     "wrapped sentinel still matches",
			err:      errors.Join(errors.New("context"), session.ErrTimeout),
			contains: "timed out",
		},
		{
			name:     "unknown errors pass through",
			err:      errors.New("something odd"),
			contains: "something odd",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, FormatUserError(tt.err), tt.contains)
		})
	}
}

func TestSpeedArgValidation(t *testing.T) {
	err := runSpeed(speedCmd, []string{"AA:BB", "eleven"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid speed")

	err = runSpeed(speedCmd, []string{"AA:BB", "11"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "must be 1..10")

	err = runSpeed(speedCmd, []string{"AA:BB", "0"})
	assert.Error(t, err)
}

func TestScanFormatValidation(t *testing.T) {
	orig := scanFormat
	defer func() { scanFormat = orig }()

	scanFormat = "xml"
	err := runScanCmd(scanCmd, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestCommandListsNames(t *testing.T) {
	names := listCommandNames()
	assert.Contains(t, names, "stop")
	assert.Contains(t, names, "night-mode")
	assert.Contains(t, names, "speed-up")
}

func TestCommandUnknownName(t *testing.T) {
	err := runCommand(commandCmd, []string{"AA:BB", "warp-drive"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}
