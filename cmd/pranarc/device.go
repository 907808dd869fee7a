package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/OxideDevX/prana-rc/internal/goble"
	"github.com/OxideDevX/prana-rc/pkg/session"
)

// withSession runs a one-shot operation against a device: connect, run,
// disconnect. Ctrl+C aborts the operation.
func withSession(parent context.Context, addr string, logger *logrus.Logger, fn func(context.Context, *session.Session) (*session.DeviceState, error)) (*session.DeviceState, error) {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := session.New(addr, goble.New(logger), session.DefaultPolicy(), logger)
	defer func() {
		if err := s.Close(); err != nil {
			logger.WithError(err).Debug("Session close failed")
		}
	}()

	return fn(ctx, s)
}
