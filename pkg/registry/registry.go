// Package registry maps device identifiers to their sessions. Sessions
// are created lazily on first access, exactly once per identifier even
// under concurrent first access, and evicted once idle so abandoned BLE
// connections release the radio.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/OxideDevX/prana-rc/pkg/session"
	"github.com/OxideDevX/prana-rc/pkg/transport"
)

// DeviceInfo is what discovery knows about a device before any
// connection.
type DeviceInfo struct {
	Address string    `json:"address"`
	Name    string    `json:"name"`
	BTName  string    `json:"bt_name"`
	RSSI    int       `json:"rssi"`
	SeenAt  time.Time `json:"seen_at"`
}

// Entry is one row of a registry snapshot.
type Entry struct {
	DeviceInfo
	State *session.DeviceState `json:"state,omitempty"`
}

// ErrUnknownDevice is returned for operations that require a device to
// have been seen or used before.
var ErrUnknownDevice = fmt.Errorf("unknown device")

// Registry owns the identifier → session mapping. Process-wide; pass the
// instance explicitly rather than going through a singleton.
type Registry struct {
	tr     transport.Transport
	policy session.Policy
	logger *logrus.Logger

	sessions *hashmap.HashMap[string, *session.Session]
	infos    *hashmap.HashMap[string, DeviceInfo]
}

// New creates an empty registry.
func New(tr transport.Transport, policy session.Policy, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		tr:       tr,
		policy:   policy,
		logger:   logger,
		sessions: hashmap.New[string, *session.Session](),
		infos:    hashmap.New[string, DeviceInfo](),
	}
}

// Get returns the session for addr, creating it if absent. Construction
// never connects; the connection is deferred to the first execute. A
// session closed by eviction is transparently replaced.
func (r *Registry) Get(addr string) *session.Session {
	for {
		s, loaded := r.sessions.GetOrInsert(addr, session.New(addr, r.tr, r.policy, r.logger))
		if !loaded {
			r.logger.WithField("device", addr).Debug("Session created")
			return s
		}
		if !s.Closed() {
			return s
		}
		// Lost the race against eviction; drop the dead entry and
		// create a fresh session.
		r.sessions.Del(addr)
	}
}

// Lookup returns an existing live session without creating one.
func (r *Registry) Lookup(addr string) (*session.Session, bool) {
	s, ok := r.sessions.Get(addr)
	if !ok || s.Closed() {
		return nil, false
	}
	return s, true
}

// Register records discovery metadata for a device. Registration only;
// it never forces a connection.
func (r *Registry) Register(info DeviceInfo) {
	_, existed := r.infos.Get(info.Address)
	r.infos.Set(info.Address, info)
	if !existed {
		r.logger.WithFields(logrus.Fields{
			"device": info.Address,
			"name":   info.Name,
			"rssi":   info.RSSI,
		}).Info("Device registered")
	}
}

// List snapshots every known device with its last known state. Internal
// session handles are never exposed.
func (r *Registry) List() []Entry {
	entries := make(map[string]Entry)

	r.infos.Range(func(addr string, info DeviceInfo) bool {
		entries[addr] = Entry{DeviceInfo: info}
		return true
	})
	r.sessions.Range(func(addr string, s *session.Session) bool {
		e, ok := entries[addr]
		if !ok {
			e = Entry{DeviceInfo: DeviceInfo{Address: addr}}
		}
		e.State = s.LastKnown()
		entries[addr] = e
		return true
	})

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	return out
}

// Remove closes and forgets the session for addr.
func (r *Registry) Remove(addr string) error {
	s, ok := r.sessions.Get(addr)
	if !ok {
		if _, known := r.infos.Get(addr); !known {
			return ErrUnknownDevice
		}
		return nil
	}
	r.sessions.Del(addr)
	return s.Close()
}

// EvictIdle closes and removes sessions idle for longer than threshold.
// Sessions with an operation in flight are left alone. Returns how many
// sessions were evicted.
func (r *Registry) EvictIdle(threshold time.Duration) int {
	evicted := 0
	r.sessions.Range(func(addr string, s *session.Session) bool {
		if s.TryCloseIdle(threshold) {
			r.sessions.Del(addr)
			evicted++
			r.logger.WithField("device", addr).Info("Idle session evicted")
		}
		return true
	})
	return evicted
}

// RunEvictor sweeps for idle sessions every interval until ctx is done.
func (r *Registry) RunEvictor(ctx context.Context, interval, threshold time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.EvictIdle(threshold)
		}
	}
}

// CloseAll shuts down every session, waiting for in-flight operations.
func (r *Registry) CloseAll() {
	r.sessions.Range(func(addr string, s *session.Session) bool {
		r.sessions.Del(addr)
		if err := s.Close(); err != nil {
			r.logger.WithFields(logrus.Fields{
				"device": addr,
				"error":  err,
			}).Warn("Session close failed during shutdown")
		}
		return true
	})
}
