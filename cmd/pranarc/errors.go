package main

import (
	"errors"

	"github.com/OxideDevX/prana-rc/pkg/discovery"
	"github.com/OxideDevX/prana-rc/pkg/session"
)

// FormatUserError turns core error kinds into actionable messages for
// terminal users.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, session.ErrDeviceUnreachable):
		return "device unreachable - check that it is powered and in range, then retry"
	case errors.Is(err, session.ErrProtocolError):
		return "device answered with frames this gateway does not understand - possible firmware mismatch"
	case errors.Is(err, session.ErrTimeout):
		return "operation timed out"
	case errors.Is(err, discovery.ErrDiscovery):
		return "scan failed - check that Bluetooth is enabled and the process has radio permissions"
	default:
		return err.Error()
	}
}
