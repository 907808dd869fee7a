// Fake transport for session/registry/discovery tests. It scripts
// connect/write/notify failures, counts round trips, and flags any
// violation of the single-flight discipline (two writes without an
// intervening notification).
package testutils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/OxideDevX/prana-rc/pkg/transport"
)

// FakeAdvertisement is a scripted scan result.
type FakeAdvertisement struct {
	AddrValue string
	Name      string
	RSSIValue int
}

func (a FakeAdvertisement) Addr() string      { return a.AddrValue }
func (a FakeAdvertisement) LocalName() string { return a.Name }
func (a FakeAdvertisement) RSSI() int         { return a.RSSIValue }

// FakeTransport implements transport.Transport against scripted
// behavior.
type FakeTransport struct {
	mu sync.Mutex

	// FailConnects makes the next N Connect calls fail.
	FailConnects int
	// ConnectDelay is applied before every Connect resolves.
	ConnectDelay time.Duration
	// Advertisements are replayed to every Scan call.
	Advertisements []FakeAdvertisement
	// ScanErr fails Scan when set.
	ScanErr error
	// Respond builds the device's answer to a written frame. Defaults
	// to a plain state frame.
	Respond func(frame []byte) []byte
	// OnConnect scripts each new connection before it is handed out.
	OnConnect func(conn *FakeConn)

	connects int
	scans    int
	conns    []*FakeConn
}

// Connects returns how many successful and failed connect attempts were
// made.
func (f *FakeTransport) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// Scans returns how many Scan calls completed.
func (f *FakeTransport) Scans() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scans
}

// OpenConns returns the number of connections not yet closed.
func (f *FakeTransport) OpenConns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	open := 0
	for _, c := range f.conns {
		if !c.isClosed() {
			open++
		}
	}
	return open
}

// Writes returns the total frames written across all connections.
func (f *FakeTransport) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, c := range f.conns {
		total += c.writes
	}
	return total
}

// Violations returns how often a write raced another in-flight exchange.
func (f *FakeTransport) Violations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, c := range f.conns {
		total += c.violations
	}
	return total
}

func (f *FakeTransport) Connect(ctx context.Context, addr string) (transport.Conn, error) {
	if f.ConnectDelay > 0 {
		select {
		case <-time.After(f.ConnectDelay):
		case <-ctx.Done():
			return nil, transport.NewError(transport.ConnectFailed, addr, ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.FailConnects > 0 {
		f.FailConnects--
		return nil, transport.NewError(transport.ConnectFailed, addr, errors.New("scripted connect failure"))
	}

	conn := &FakeConn{tr: f, addr: addr}
	if f.OnConnect != nil {
		f.OnConnect(conn)
	}
	f.conns = append(f.conns, conn)
	return conn, nil
}

func (f *FakeTransport) Scan(ctx context.Context, duration time.Duration, handler func(transport.Advertisement)) error {
	f.mu.Lock()
	scanErr := f.ScanErr
	advs := append([]FakeAdvertisement(nil), f.Advertisements...)
	f.mu.Unlock()

	if scanErr != nil {
		return transport.NewError(transport.RadioUnavailable, "", scanErr)
	}
	for _, adv := range advs {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		handler(adv)
	}

	f.mu.Lock()
	f.scans++
	f.mu.Unlock()
	return nil
}

func (f *FakeTransport) respond(frame []byte) []byte {
	if f.Respond != nil {
		return f.Respond(frame)
	}
	return StateFrame(nil)
}

// FakeConn is one scripted connection.
type FakeConn struct {
	tr   *FakeTransport
	addr string

	mu sync.Mutex
	// FailWrites / FailNotifies fail the next N calls.
	FailWrites   int
	FailNotifies int
	// NotifyDelay is applied before a notification is delivered.
	NotifyDelay time.Duration

	pending    [][]byte
	inflight   bool
	writes     int
	violations int
	closed     bool
}

func (c *FakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *FakeConn) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return transport.NewError(transport.WriteFailed, c.addr, errors.New("connection closed"))
	}
	if c.inflight {
		// A second command hit the device before the first one's
		// response was consumed.
		c.violations++
	}
	c.writes++
	if c.FailWrites > 0 {
		c.FailWrites--
		return transport.NewError(transport.WriteFailed, c.addr, errors.New("scripted write failure"))
	}

	c.inflight = true
	// Mirror the real transport: stale responses are dropped on write.
	c.pending = append(c.pending[:0], c.tr.respond(data))
	return nil
}

func (c *FakeConn) AwaitNotification(ctx context.Context) ([]byte, error) {
	if c.NotifyDelay > 0 {
		select {
		case <-time.After(c.NotifyDelay):
		case <-ctx.Done():
			return nil, transport.NewError(transport.NotifyTimeout, c.addr, ctx.Err())
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.inflight = false
	if c.FailNotifies > 0 {
		c.FailNotifies--
		return nil, transport.NewError(transport.NotifyTimeout, c.addr, errors.New("scripted notify timeout"))
	}
	if len(c.pending) == 0 {
		return nil, transport.NewError(transport.NotifyTimeout, c.addr, errors.New("no pending notification"))
	}

	data := c.pending[0]
	c.pending = c.pending[1:]
	return data, nil
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// LastConn returns the most recently opened connection, or nil.
func (f *FakeTransport) LastConn() *FakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}
