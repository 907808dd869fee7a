// Package httpapi exposes the gateway over HTTP. It translates JSON
// requests into registry/session calls; callers never need to know BLE
// exists.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/OxideDevX/prana-rc/pkg/discovery"
	"github.com/OxideDevX/prana-rc/pkg/registry"
)

// Server wires the HTTP surface to the gateway core.
type Server struct {
	reg     *registry.Registry
	scanner *discovery.Scanner
	logger  *logrus.Logger
	timeout time.Duration
}

// New creates the HTTP server facade. timeout bounds request handling
// end to end.
func New(reg *registry.Registry, scanner *discovery.Scanner, timeout time.Duration, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		reg:     reg,
		scanner: scanner,
		logger:  logger,
		timeout: timeout,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/discover", s.handleDiscover)

			r.Route("/{address}", func(r chi.Router) {
				r.Get("/state", s.handleGetState)
				r.Get("/details", s.handleGetDetails)
				r.Post("/command", s.handleCommand)
				r.Post("/speed", s.handleSetSpeed)
				r.Delete("/", s.handleForget)
			})
		})
	})

	return r
}

// ListenAndServe runs the server until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.timeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("Shutting down HTTP API...")
	return srv.Shutdown(shutdownCtx)
}
