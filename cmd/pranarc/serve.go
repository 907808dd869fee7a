package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/OxideDevX/prana-rc/internal/goble"
	"github.com/OxideDevX/prana-rc/internal/groutine"
	"github.com/OxideDevX/prana-rc/internal/httpapi"
	"github.com/OxideDevX/prana-rc/pkg/config"
	"github.com/OxideDevX/prana-rc/pkg/discovery"
	"github.com/OxideDevX/prana-rc/pkg/registry"
	"github.com/OxideDevX/prana-rc/pkg/session"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway",
	Long: `Runs the gateway: background BLE discovery, managed device sessions
with cached state, and the HTTP API.

Configuration is read from the optional YAML file given with --config;
every value has a documented default.`,
	RunE: runServe,
}

var (
	serveConfigPath  string
	serveListen      string
	serveNoDiscovery bool
)

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to YAML config file")
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoDiscovery, "no-discovery", false, "Disable background discovery")
}

// sessionPolicy maps config onto the session policy knobs.
func sessionPolicy(cfg *config.Config) session.Policy {
	return session.Policy{
		ConnectTimeout:  cfg.BLE.ConnectTimeout,
		CommandTimeout:  cfg.BLE.CommandTimeout,
		ConnectAttempts: cfg.Session.ConnectAttempts,
		BackoffBase:     cfg.Session.BackoffBase,
		BackoffCap:      cfg.Session.BackoffCap,
		ExecuteRetries:  cfg.Session.ExecuteRetries,
		Staleness:       cfg.Session.Staleness,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.HTTP.Listen = serveListen
	}

	// --log-level flag wins over the config file.
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	logger := cfg.NewLogger()

	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tr := goble.New(logger)
	reg := registry.New(tr, sessionPolicy(cfg), logger)
	scanner := discovery.New(tr, reg, discovery.Options{
		Duration: cfg.Discovery.Duration,
		Interval: cfg.Discovery.Interval,
	}, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	groutine.Go(ctx, "session-evictor", func(ctx context.Context) {
		defer wg.Done()
		reg.RunEvictor(ctx, cfg.Session.EvictInterval, cfg.Session.IdleTimeout)
	})
	if !serveNoDiscovery {
		wg.Add(1)
		groutine.Go(ctx, "discovery", func(ctx context.Context) {
			defer wg.Done()
			scanner.Run(ctx)
		})
	}

	srv := httpapi.New(reg, scanner, cfg.HTTP.RequestTimeout, logger)
	err = srv.ListenAndServe(ctx, cfg.HTTP.Listen)

	stop()
	wg.Wait()
	reg.CloseAll()
	logger.Info("Gateway stopped")

	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
