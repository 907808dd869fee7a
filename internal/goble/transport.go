// Package goble implements the transport boundary on top of go-ble/ble.
// It owns the process-wide radio device and resolves the Prana control
// characteristic on connect.
package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/OxideDevX/prana-rc/pkg/transport"
)

const (
	// ControlServiceUUID is the Prana vendor service.
	ControlServiceUUID = "0000baba-0000-1000-8000-00805f9b34fb"
	// ControlCharacteristicUUID is the single read/write/notify
	// characteristic all commands and responses go through.
	ControlCharacteristicUUID = "0000cccc-0000-1000-8000-00805f9b34fb"

	// notificationBuffer bounds queued notifications per connection.
	notificationBuffer = 16
)

// normalizeUUID converts a UUID string to the go-ble internal format
// (lowercase, no dashes).
func normalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}

// Transport is the go-ble backed radio. Safe for concurrent use; the
// underlying ble.Device supports independent connections to distinct
// peripherals.
type Transport struct {
	logger *logrus.Logger

	mu  sync.Mutex
	dev ble.Device
}

// New creates a transport. The radio device itself is opened lazily on
// first use so that constructing the gateway never touches the adapter.
func New(logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{logger: logger}
}

// device opens the radio once and reuses it for every connection/scan.
func (t *Transport) device() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev != nil {
		return t.dev, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		return nil, transport.NewError(transport.RadioUnavailable, "", err)
	}
	ble.SetDefaultDevice(dev)
	t.dev = dev
	return dev, nil
}

// Connect dials the device, discovers its GATT profile and resolves the
// Prana control characteristic. The returned Conn owns the link.
func (t *Transport) Connect(ctx context.Context, addr string) (transport.Conn, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, transport.NewError(transport.ConnectFailed, addr, errors.New("device address is empty"))
	}

	if _, err := t.device(); err != nil {
		return nil, err
	}

	t.logger.WithField("address", addr).Debug("Dialing BLE device...")
	client, err := ble.Dial(ctx, ble.NewAddr(addr))
	if err != nil {
		return nil, transport.NewError(transport.ConnectFailed, addr, err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			t.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection after profile discovery failure")
		}
		return nil, transport.NewError(transport.ConnectFailed, addr, fmt.Errorf("discover profile: %w", err))
	}

	char := findCharacteristic(profile, ControlServiceUUID, ControlCharacteristicUUID)
	if char == nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			t.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection to non-Prana device")
		}
		return nil, transport.NewError(transport.ConnectFailed, addr,
			fmt.Errorf("control characteristic %s not found", ControlCharacteristicUUID))
	}

	c := &conn{
		addr:          addr,
		client:        client,
		char:          char,
		notifications: make(chan []byte, notificationBuffer),
		logger:        t.logger,
	}

	if err := client.Subscribe(char, false, c.handleNotification); err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			t.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection after subscribe failure")
		}
		return nil, transport.NewError(transport.ConnectFailed, addr, fmt.Errorf("subscribe: %w", err))
	}

	t.logger.WithFields(logrus.Fields{
		"address":  addr,
		"services": len(profile.Services),
	}).Info("BLE device connected")
	return c, nil
}

// Scan listens for advertisements for the given duration. A duration of
// zero scans until the context is cancelled.
func (t *Transport) Scan(ctx context.Context, duration time.Duration, handler func(transport.Advertisement)) error {
	dev, err := t.device()
	if err != nil {
		return err
	}

	scanCtx := ctx
	if duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	err = dev.Scan(scanCtx, false, func(adv ble.Advertisement) {
		handler(&advertisement{adv: adv})
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return transport.NewError(transport.RadioUnavailable, "", err)
	}
	return nil
}

func findCharacteristic(profile *ble.Profile, serviceUUID, charUUID string) *ble.Characteristic {
	wantSvc := normalizeUUID(serviceUUID)
	wantChar := normalizeUUID(charUUID)
	for _, svc := range profile.Services {
		if normalizeUUID(svc.UUID.String()) != wantSvc {
			continue
		}
		for _, char := range svc.Characteristics {
			if normalizeUUID(char.UUID.String()) == wantChar {
				return char
			}
		}
	}
	return nil
}

// advertisement adapts ble.Advertisement to the transport boundary.
type advertisement struct {
	adv ble.Advertisement
}

func (a *advertisement) Addr() string      { return a.adv.Addr().String() }
func (a *advertisement) LocalName() string { return a.adv.LocalName() }
func (a *advertisement) RSSI() int         { return a.adv.RSSI() }

// conn is an exclusive link to one Prana device.
type conn struct {
	addr          string
	client        ble.Client
	char          *ble.Characteristic
	notifications chan []byte
	logger        *logrus.Logger

	mu     sync.Mutex
	closed bool
}

func (c *conn) handleNotification(data []byte) {
	// The callback's buffer belongs to go-ble; copy before queueing.
	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case c.notifications <- buf:
	default:
		// Queue full: drop the oldest so the freshest frame wins.
		select {
		case <-c.notifications:
		default:
		}
		select {
		case c.notifications <- buf:
		default:
		}
	}
}

// Write sends a frame with response. Stale notifications are drained
// first so the next AwaitNotification sees the answer to this write.
func (c *conn) Write(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.NewError(transport.WriteFailed, c.addr, errors.New("connection closed"))
	}
	c.mu.Unlock()

	for {
		select {
		case <-c.notifications:
			continue
		default:
		}
		break
	}

	if err := c.client.WriteCharacteristic(c.char, data, false); err != nil {
		return transport.NewError(transport.WriteFailed, c.addr, err)
	}
	return nil
}

// AwaitNotification blocks for the next device notification.
func (c *conn) AwaitNotification(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.notifications:
		return data, nil
	case <-ctx.Done():
		return nil, transport.NewError(transport.NotifyTimeout, c.addr, ctx.Err())
	}
}

// Close releases the link. Idempotent.
func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.client.Unsubscribe(c.char, false); err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": c.addr,
			"error":   err,
		}).Debug("Unsubscribe failed during close")
	}
	if err := c.client.CancelConnection(); err != nil {
		return transport.NewError(transport.ConnectFailed, c.addr, err)
	}
	return nil
}
