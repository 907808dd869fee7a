// Package session implements the per-device core of the gateway: one
// Session owns one BLE connection, serializes all access to the device
// through a single-flight slot, retries transient transport failures with
// bounded backoff, and keeps a cached state snapshot so reads normally
// never wait on a radio round trip.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/OxideDevX/prana-rc/internal/groutine"
	"github.com/OxideDevX/prana-rc/pkg/transport"
	"github.com/OxideDevX/prana-rc/pkg/wire"
)

// MaxSpeed is the highest fan level the firmware accepts.
const MaxSpeed = 10

// Status is the session's connection state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusReady        Status = "ready"
	StatusBusy         Status = "busy"
)

// Policy holds the retry, timeout and staleness knobs. Defaults mirror
// pkg/config.
type Policy struct {
	ConnectTimeout  time.Duration
	CommandTimeout  time.Duration
	ConnectAttempts int
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	ExecuteRetries  int
	Staleness       time.Duration
}

// DefaultPolicy returns the documented default policy.
func DefaultPolicy() Policy {
	return Policy{
		ConnectTimeout:  10 * time.Second,
		CommandTimeout:  3 * time.Second,
		ConnectAttempts: 3,
		BackoffBase:     500 * time.Millisecond,
		BackoffCap:      4 * time.Second,
		ExecuteRetries:  2,
		Staleness:       3 * time.Second,
	}
}

// DeviceState is an immutable snapshot handed to readers. The session
// never exposes its live cache.
type DeviceState struct {
	wire.State
	LastUpdated time.Time `json:"last_updated"`
	Status      Status    `json:"status"`
}

// Session guarantees exclusive, ordered, fault-tolerant access to one
// physical device. Create through the registry; construction never
// connects.
type Session struct {
	addr   string
	tr     transport.Transport
	policy Policy
	logger *logrus.Entry

	// slot is the single-flight execution slot: holding the token means
	// owning the connection and the right to talk to the device.
	slot chan struct{}

	// conn is only touched while holding the slot.
	conn transport.Conn

	mu           sync.RWMutex
	cached       *DeviceState
	status       Status
	failures     int
	lastActivity time.Time
	closed       bool
}

// New creates a disconnected session for addr.
func New(addr string, tr transport.Transport, policy Policy, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	return &Session{
		addr:         addr,
		tr:           tr,
		policy:       policy,
		logger:       logger.WithField("device", addr),
		slot:         make(chan struct{}, 1),
		status:       StatusDisconnected,
		lastActivity: time.Now(),
	}
}

// Addr returns the device identifier this session owns.
func (s *Session) Addr() string {
	return s.addr
}

// Status returns the current connection state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Closed reports whether the session was shut down. A closed session
// rejects every operation; the registry replaces it on next access.
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// LastActivity returns the time of the last caller interaction, used by
// idle eviction.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// LastKnown returns the cached state snapshot without touching the
// device. Nil until the first successful read.
func (s *Session) LastKnown() *DeviceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// snapshotLocked copies the cache so callers never see the live struct.
func (s *Session) snapshotLocked() *DeviceState {
	if s.cached == nil {
		return nil
	}
	cp := *s.cached
	cp.Status = s.status
	if s.cached.Sensors != nil {
		sensors := *s.cached.Sensors
		cp.Sensors = &sensors
	}
	return &cp
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// EnsureConnected establishes the connection if the session is
// disconnected. Idempotent; fails with ErrDeviceUnreachable once the
// connect budget is spent.
func (s *Session) EnsureConnected(ctx context.Context) error {
	_, err := s.run(ctx, nil, time.Time{})
	return err
}

// Execute sends one control command and returns the state the device
// answers with. Concurrent callers are totally ordered by the slot.
func (s *Session) Execute(ctx context.Context, op wire.ControlOp) (*DeviceState, error) {
	return s.run(ctx, &deviceOp{
		name:  fmt.Sprintf("control %#02x", byte(op)),
		frame: wire.EncodeControl(op),
	}, time.Time{})
}

// State returns the device state. With forceFresh false a cache entry
// younger than the staleness window is returned without a radio round
// trip; otherwise the device is read. Concurrent fresh reads coalesce to
// a single round trip.
func (s *Session) State(ctx context.Context, forceFresh bool) (*DeviceState, error) {
	if !forceFresh {
		s.mu.RLock()
		cached := s.snapshotLocked()
		s.mu.RUnlock()
		if cached != nil && time.Since(cached.LastUpdated) < s.policy.Staleness {
			s.touch()
			return cached, nil
		}
	}

	return s.run(ctx, &deviceOp{
		name:  "read state",
		frame: wire.EncodeReadState(),
	}, time.Now())
}

// Details performs a device-details query and returns the raw payload.
func (s *Session) Details(ctx context.Context) ([]byte, error) {
	var raw []byte
	_, err := s.run(ctx, &deviceOp{
		name:  "read details",
		frame: wire.EncodeReadDeviceDetails(),
		decode: func(data []byte) (*wire.State, []byte, error) {
			f, err := wire.Decode(data)
			if err != nil {
				return nil, nil, err
			}
			if f.Category != wire.CategoryQuery || wire.QueryOp(f.Code) != wire.QueryDeviceDetails {
				return nil, nil, fmt.Errorf("%w: category %#02x code %#02x", wire.ErrUnexpectedCommand, f.Category, f.Code)
			}
			return nil, f.Params, nil
		},
		sink: func(data []byte) { raw = data },
	}, time.Time{})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// SetSpeed steps the fan toward target. The firmware only exposes
// relative speed keypresses, so the session presses up/down and re-reads
// state until the level matches.
func (s *Session) SetSpeed(ctx context.Context, target int) (*DeviceState, error) {
	if target < 1 || target > MaxSpeed {
		return nil, fmt.Errorf("%w: %d (range 1..%d)", ErrInvalidSpeed, target, MaxSpeed)
	}

	st, err := s.State(ctx, true)
	if err != nil {
		return nil, err
	}

	for steps := 0; steps < MaxSpeed; steps++ {
		if st.Speed == target {
			return st, nil
		}
		op := wire.OpSpeedUp
		if st.Speed > target {
			op = wire.OpSpeedDown
		}
		if st, err = s.Execute(ctx, op); err != nil {
			return nil, err
		}
	}

	// The fan stopped moving before reaching the target (bounds, locked
	// flows); report what it settled on.
	return st, nil
}

// Close releases the connection and marks the session unusable. Safe to
// call from any state; waits for an in-flight operation to finish first.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.slot <- struct{}{}
	err := s.disconnect()
	<-s.slot
	return err
}

// TryCloseIdle closes the session if it has been inactive for longer
// than threshold. Returns false when the session is busy or still
// active; eviction never interrupts an in-flight operation.
func (s *Session) TryCloseIdle(threshold time.Duration) bool {
	select {
	case s.slot <- struct{}{}:
	default:
		return false
	}
	defer func() { <-s.slot }()

	s.mu.Lock()
	if time.Since(s.lastActivity) < threshold {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.disconnect(); err != nil {
		s.logger.WithField("error", err).Debug("Disconnect failed during idle eviction")
	}
	return true
}

// deviceOp is one framed exchange with the device. decode defaults to
// state decoding; sink receives the raw payload for non-state queries.
type deviceOp struct {
	name   string
	frame  []byte
	decode func(data []byte) (*wire.State, []byte, error)
	sink   func(raw []byte)
}

// run acquires the execution slot and performs op in a worker goroutine.
// The caller waits for either the result or its own context; expiry of
// the caller's wait never cancels the device exchange, which completes
// and updates the cache regardless. A non-zero coalesceSince makes the
// call return the cache if another caller refreshed it while this one
// was queued.
func (s *Session) run(ctx context.Context, op *deviceOp, coalesceSince time.Time) (*DeviceState, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for execution slot: %v", ErrTimeout, ctx.Err())
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.slot
		return nil, ErrClosed
	}
	s.lastActivity = time.Now()
	if !coalesceSince.IsZero() && s.cached != nil && s.cached.LastUpdated.After(coalesceSince) {
		st := s.snapshotLocked()
		s.mu.Unlock()
		<-s.slot
		return st, nil
	}
	s.mu.Unlock()

	done := make(chan struct{})
	var (
		result *DeviceState
		runErr error
	)

	groutine.Go(nil, "device-"+s.addr, func(context.Context) {
		defer func() {
			s.touch()
			<-s.slot
			close(done)
		}()

		result, runErr = s.perform(op)
	})

	select {
	case <-done:
		return result, runErr
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
}

// perform runs while holding the slot. It connects if needed, then
// drives the write/await/decode cycle with the retry policy.
func (s *Session) perform(op *deviceOp) (*DeviceState, error) {
	conn, err := s.ensureConnected()
	if err != nil {
		return nil, err
	}
	if op == nil {
		return s.LastKnown(), nil
	}

	protoRetried := false
	var lastErr error

	for attempt := 0; attempt <= s.policy.ExecuteRetries; attempt++ {
		if conn == nil {
			if conn, err = s.ensureConnected(); err != nil {
				return nil, err
			}
		}
		s.setStatus(StatusBusy)

		state, raw, err := s.roundTrip(conn, op)
		if err == nil {
			if op.sink != nil {
				op.sink(raw)
			}
			return s.commit(state), nil
		}
		lastErr = err

		if errors.Is(err, wire.ErrMalformedFrame) || errors.Is(err, wire.ErrUnexpectedCommand) {
			// Protocol corruption: exactly one retry on the same
			// connection, never counted against the transport budget.
			if protoRetried {
				// The connection stays up, so the session is idle
				// again, not busy.
				s.setStatus(StatusReady)
				return nil, fmt.Errorf("%w: %v", ErrProtocolError, err)
			}
			protoRetried = true
			attempt--
			continue
		}

		// Transport failure: drop the connection and retry the whole
		// operation (reconnect + resend).
		s.mu.Lock()
		s.failures++
		failures := s.failures
		s.mu.Unlock()
		s.logger.WithFields(logrus.Fields{
			"op":       op.name,
			"attempt":  attempt + 1,
			"failures": failures,
			"error":    err,
		}).Warn("Device exchange failed")

		if derr := s.disconnect(); derr != nil {
			s.logger.WithField("error", derr).Debug("Disconnect after failed exchange")
		}
		conn = nil
	}

	return nil, fmt.Errorf("%w: %v", ErrDeviceUnreachable, lastErr)
}

// roundTrip performs one write/await/decode exchange.
func (s *Session) roundTrip(conn transport.Conn, op *deviceOp) (*wire.State, []byte, error) {
	if err := conn.Write(op.frame); err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.policy.CommandTimeout)
	defer cancel()
	data, err := conn.AwaitNotification(ctx)
	if err != nil {
		return nil, nil, err
	}

	if op.decode != nil {
		return op.decode(data)
	}
	state, err := wire.DecodeState(data, wire.QueryState)
	return state, nil, err
}

// commit updates the cache from a successful exchange and resets the
// failure counter. LastUpdated is monotonically non-decreasing.
func (s *Session) commit(state *wire.State) *DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures = 0
	s.status = StatusReady
	if state != nil {
		now := time.Now()
		if s.cached != nil && s.cached.LastUpdated.After(now) {
			now = s.cached.LastUpdated
		}
		s.cached = &DeviceState{State: *state, LastUpdated: now, Status: StatusReady}
	}
	return s.snapshotLocked()
}

// ensureConnected dials with bounded attempts and exponential backoff.
// Must be called while holding the slot.
func (s *Session) ensureConnected() (transport.Conn, error) {
	if s.conn != nil {
		return s.conn, nil
	}

	s.setStatus(StatusConnecting)
	backoff := s.policy.BackoffBase
	var lastErr error

	for attempt := 1; attempt <= s.policy.ConnectAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.policy.ConnectTimeout)
		conn, err := s.tr.Connect(ctx, s.addr)
		cancel()
		if err == nil {
			s.conn = conn
			s.setStatus(StatusReady)
			return conn, nil
		}
		lastErr = err

		s.logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"of":      s.policy.ConnectAttempts,
			"error":   err,
		}).Warn("Connect attempt failed")

		if attempt < s.policy.ConnectAttempts {
			time.Sleep(backoff)
			backoff *= 2
			if backoff > s.policy.BackoffCap {
				backoff = s.policy.BackoffCap
			}
		}
	}

	s.setStatus(StatusDisconnected)
	return nil, fmt.Errorf("%w: %v", ErrDeviceUnreachable, lastErr)
}

// disconnect releases the connection handle. Must be called while
// holding the slot.
func (s *Session) disconnect() error {
	conn := s.conn
	s.conn = nil
	s.setStatus(StatusDisconnected)
	if conn == nil {
		return nil
	}
	return conn.Close()
}
