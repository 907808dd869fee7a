// Package discovery finds Prana devices by their advertisement name
// prefix and feeds them into the session registry. Discovery registers
// identifiers only; it never connects.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/OxideDevX/prana-rc/pkg/registry"
	"github.com/OxideDevX/prana-rc/pkg/transport"
)

// DeviceNamePrefix marks Prana recuperators in their advertised local
// name.
const DeviceNamePrefix = "PRNAQaq"

// ErrDiscovery wraps scan failures. They never affect established
// sessions.
var ErrDiscovery = errors.New("discovery failed")

// Options configures scanning behavior.
type Options struct {
	// Duration is how long a single scan listens for advertisements.
	Duration time.Duration
	// Interval is the pause between background scans.
	Interval time.Duration
}

// DefaultOptions returns the documented default scanning options.
func DefaultOptions() Options {
	return Options{
		Duration: 5 * time.Second,
		Interval: 60 * time.Second,
	}
}

// Scanner performs Prana device discovery.
type Scanner struct {
	tr     transport.Transport
	reg    *registry.Registry
	logger *logrus.Logger
	opts   Options
}

// New creates a scanner feeding reg.
func New(tr transport.Transport, reg *registry.Registry, opts Options, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Duration <= 0 {
		opts.Duration = DefaultOptions().Duration
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultOptions().Interval
	}
	return &Scanner{
		tr:     tr,
		reg:    reg,
		logger: logger,
		opts:   opts,
	}
}

// friendlyName derives the human name from the advertised one.
func friendlyName(btName string) string {
	return strings.TrimSpace(strings.TrimPrefix(btName, DeviceNamePrefix))
}

// Scan listens for advertisements for the given duration (0 uses the
// configured default), registers every Prana device seen, and returns
// them sorted by address.
func (s *Scanner) Scan(ctx context.Context, duration time.Duration) ([]registry.DeviceInfo, error) {
	if duration <= 0 {
		duration = s.opts.Duration
	}

	s.logger.WithField("duration", duration).Info("Starting device discovery...")
	seen := hashmap.New[string, registry.DeviceInfo]()

	err := s.tr.Scan(ctx, duration, func(adv transport.Advertisement) {
		name := adv.LocalName()
		if !strings.HasPrefix(name, DeviceNamePrefix) {
			return
		}
		info := registry.DeviceInfo{
			Address: adv.Addr(),
			Name:    friendlyName(name),
			BTName:  strings.TrimSpace(name),
			RSSI:    adv.RSSI(),
			SeenAt:  time.Now(),
		}
		if _, existed := seen.Get(info.Address); !existed {
			s.logger.WithFields(logrus.Fields{
				"device": info.Address,
				"name":   info.Name,
				"rssi":   info.RSSI,
			}).Info("Discovered Prana device")
		}
		seen.Set(info.Address, info)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}

	devices := make([]registry.DeviceInfo, 0, seen.Len())
	seen.Range(func(_ string, info registry.DeviceInfo) bool {
		s.reg.Register(info)
		devices = append(devices, info)
		return true
	})
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Address < devices[j].Address
	})

	s.logger.WithField("device_count", len(devices)).Info("Discovery completed")
	return devices, nil
}

// Run scans on the configured interval until ctx is done. An initial
// scan runs immediately. Failures are logged and retried on the next
// tick; they are never fatal.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.Scan(ctx, 0); err != nil {
			s.logger.WithField("error", err).Warn("Background discovery failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
