// Package transport defines the capability boundary between the gateway
// core and a BLE radio stack: connect/disconnect, characteristic writes,
// notification waits, and advertisement scanning. The core depends only
// on these interfaces; internal/goble provides the real radio.
package transport

import (
	"context"
	"time"
)

// Advertisement is the subset of a BLE advertisement the gateway needs.
type Advertisement interface {
	Addr() string
	LocalName() string
	RSSI() int
}

// Conn is an exclusive connection handle to one device. A Conn is owned
// by exactly one session; it is never shared across sessions.
type Conn interface {
	// Write sends a command frame to the device's control characteristic.
	Write(data []byte) error

	// AwaitNotification blocks until the device pushes a notification or
	// the context expires. Expiry is reported as ErrTransportTimeout.
	AwaitNotification(ctx context.Context) ([]byte, error)

	// Close releases the connection. Idempotent.
	Close() error
}

// Transport supplies connections and discovery against a BLE radio. A
// single Transport may serve concurrent connections to distinct devices;
// per-device exclusivity is the session layer's job.
type Transport interface {
	// Connect establishes a connection to the device at addr and resolves
	// the control characteristic. Failures are ConnectionErrors.
	Connect(ctx context.Context, addr string) (Conn, error)

	// Scan listens for advertisements for the given duration, invoking
	// handler for each one seen.
	Scan(ctx context.Context, duration time.Duration, handler func(Advertisement)) error
}
