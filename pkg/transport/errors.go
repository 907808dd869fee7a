package transport

import (
	"errors"
	"fmt"
)

// FailureKind classifies a transport failure.
type FailureKind string

const (
	ConnectFailed    FailureKind = "connect_failed"
	WriteFailed      FailureKind = "write_failed"
	NotifyTimeout    FailureKind = "notify_timeout"
	RadioUnavailable FailureKind = "radio_unavailable"
)

// Error is any transport-level problem. The gateway retries these inside
// the session layer; protocol decode failures are a different family.
type Error struct {
	Kind FailureKind
	Addr string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Addr == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Kind, e.Addr, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is allows errors.Is to match transport errors by kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrConnection       = &Error{Kind: ConnectFailed}
	ErrWrite            = &Error{Kind: WriteFailed}
	ErrTransportTimeout = &Error{Kind: NotifyTimeout}
	ErrRadioUnavailable = &Error{Kind: RadioUnavailable}
)

// NewError wraps err as a transport error of the given kind.
func NewError(kind FailureKind, addr string, err error) *Error {
	return &Error{Kind: kind, Addr: addr, Err: err}
}

// IsTransient reports whether err is a transport failure worth a
// reconnect-and-retry cycle.
func IsTransient(err error) bool {
	var terr *Error
	return errors.As(err, &terr)
}
