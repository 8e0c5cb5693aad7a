// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/jobwatch/internal/config"
	"github.com/autobrr/jobwatch/internal/hub"
	"github.com/autobrr/jobwatch/internal/logger"
	"github.com/autobrr/jobwatch/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func RunHubCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Run the in-memory job service hub",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closer, err := loadConfig(configDir)
			if err != nil {
				return err
			}
			defer closer.Close()

			cfg.WatchLogLevel(logger.SetLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serveHub(ctx, cfg, nil)
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "Config directory or config.toml path")
	return cmd
}

// serveHub runs the hub until ctx is done. When listener is nil the hub
// listens on the configured host and port.
func serveHub(ctx context.Context, cfg *config.AppConfig, listener net.Listener) error {
	h := hub.New()

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Config.Host, strconv.Itoa(cfg.Config.Port)),
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if listener != nil {
			log.Info().Str("addr", listener.Addr().String()).Msg("hub listening")
			err = srv.Serve(listener)
		} else {
			log.Info().Str("addr", srv.Addr).Msg("hub listening")
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	var metricsServer *metrics.Server
	if cfg.Config.MetricsEnabled {
		metricsServer = metrics.NewMetricsServer(metrics.NewManager(nil, h),
			cfg.Config.MetricsHost, cfg.Config.MetricsPort, cfg.Config.MetricsBasicAuthUsers)
		g.Go(metricsServer.ListenAndServe)
	}

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Close sessions first; open event streams would otherwise hold
		// http.Server.Shutdown until the timeout.
		if err := h.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("hub shutdown failed")
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("metrics server shutdown failed")
			}
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
