package session

import "errors"

// Session-level error kinds. Transport failures are retried internally
// and only surface as one of these once the retry budget is spent.
var (
	// ErrDeviceUnreachable means the connect/retry budget was exhausted
	// without completing the operation.
	ErrDeviceUnreachable = errors.New("device unreachable")

	// ErrProtocolError means the device kept answering with frames the
	// codec rejects. One retry guards against transient bit errors; a
	// second failure indicates a firmware mismatch.
	ErrProtocolError = errors.New("protocol error")

	// ErrTimeout means the caller's wait expired. The in-flight device
	// operation is not cancelled; it finishes and updates the cache.
	ErrTimeout = errors.New("timeout")

	// ErrClosed means the session was closed and must be re-created
	// through the registry.
	ErrClosed = errors.New("session closed")

	// ErrInvalidSpeed rejects speed targets outside the fan's range.
	ErrInvalidSpeed = errors.New("invalid speed")
)
