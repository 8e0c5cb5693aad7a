// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/jobwatch/internal/config"
	"github.com/autobrr/jobwatch/internal/itemfilter"
	"github.com/autobrr/jobwatch/internal/logger"
	"github.com/autobrr/jobwatch/internal/metrics"
	"github.com/autobrr/jobwatch/internal/monitor"
	"github.com/autobrr/jobwatch/internal/remote"
	"github.com/autobrr/jobwatch/pkg/dispatch"
)

func RunWatchCommand() *cobra.Command {
	var (
		configDir   string
		useDispatch bool
		refresh     bool
		filter      string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print job service notifications until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closer, err := loadConfig(configDir)
			if err != nil {
				return err
			}
			defer closer.Close()

			cfg.WatchLogLevel(logger.SetLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			f, err := itemfilter.Compile(filter)
			if err != nil {
				return err
			}

			return watch(ctx, cfg, watchOptions{dispatch: useDispatch, refresh: refresh, filter: f}, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "Config directory or config.toml path")
	cmd.Flags().BoolVar(&useDispatch, "dispatch", false, "Deliver events on a single dispatch loop")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Request a snapshot every time the connection comes up")
	cmd.Flags().StringVar(&filter, "filter", "", `Only print items matching an expression, e.g. 'id startsWith "build-"'`)

	return cmd
}

type watchOptions struct {
	dispatch bool
	refresh  bool
	filter   *itemfilter.Filter
}

// lineWriter serializes event lines from concurrent handlers.
type lineWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *lineWriter) printf(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, _ = fmt.Fprintf(w.out, format+"\n", args...)
}

func watch(ctx context.Context, cfg *config.AppConfig, opts watchOptions, out io.Writer) error {
	registry := monitor.NewRegistry(monitor.Options{
		Transport: cfg.Config.Transport,
		Endpoint: remote.Endpoint{
			URL:            cfg.Config.RemoteURL,
			RequestTimeout: cfg.RequestTimeout(),
		},
		RetryInterval: cfg.RetryInterval(),
	})
	if !registry.IsSupported() {
		return errors.Wrapf(monitor.ErrNotSupported, "transport %q (available: %s)",
			cfg.Config.Transport, strings.Join(remote.Transports(), ", "))
	}
	defer registry.Wait()

	acquireCtx := ctx
	if opts.dispatch {
		loop := dispatch.New()
		defer loop.Stop()
		acquireCtx = monitor.WithDispatcher(ctx, loop)
	}

	proxy, err := registry.Acquire(acquireCtx, opts.dispatch)
	if err != nil {
		return err
	}
	defer proxy.Close()

	w := &lineWriter{out: out}

	if _, err := proxy.Subscribe(monitor.StreamConnectivity, func(ev monitor.Event) {
		if !ev.Connected {
			log.Warn().Str("remote", cfg.Config.RemoteURL).Msg("job service disconnected")
			w.printf("disconnected")
			return
		}

		log.Info().Str("remote", cfg.Config.RemoteURL).Str("transport", cfg.Config.Transport).Msg("job service connected")
		w.printf("connected")

		if opts.refresh {
			if err := proxy.Refresh(); err != nil {
				log.Debug().Err(err).Msg("refresh skipped")
			}
		}
	}); err != nil {
		return err
	}

	if _, err := proxy.Subscribe(monitor.StreamItemsChanged, func(ev monitor.Event) {
		items := opts.filter.Select(ev.Items, func(item remote.Item, err error) {
			log.Debug().Err(err).Str("item", item.ID).Msg("filter skipped item")
		})
		for _, item := range items {
			w.printf("%s %s %s", ev.Kind, item.ID, item.Data)
		}
	}); err != nil {
		return err
	}

	if _, err := proxy.Subscribe(monitor.StreamAllCleared, func(monitor.Event) {
		w.printf("cleared")
	}); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Config.MetricsEnabled {
		server := metrics.NewMetricsServer(metrics.NewManager(registry, nil),
			cfg.Config.MetricsHost, cfg.Config.MetricsPort, cfg.Config.MetricsBasicAuthUsers)

		g.Go(server.ListenAndServe)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	log.Info().Str("remote", cfg.Config.RemoteURL).Msg("watching job service")
	return g.Wait()
}
