// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/autorules/internal/buildinfo"
	"github.com/autobrr/autorules/internal/metrics"
	"github.com/autobrr/autorules/internal/metrics/collector"
	"github.com/autobrr/autorules/internal/web"
)

func RunServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the automation engine and its HTTP surface",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.cfg.Config.ValidateQBittorrent(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	log.Info().Str("version", buildinfo.Version).Msg("autorules: starting")

	var (
		manager    *metrics.Manager
		automation *collector.AutomationCollector
		registry   *prometheus.Registry
		client     = a.newClient()
	)
	if a.cfg.Config.MetricsEnabled {
		manager = metrics.NewManager()
		automation = manager.Automation()
		registry = manager.GetRegistry()
	}

	// the item source reconnects on demand, so a failed first login is not fatal
	if err := client.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("autorules: qbittorrent unavailable, will retry on next snapshot")
	}

	engine := a.newEngine(client, automation)
	if manager != nil {
		manager.AttachEngine(engine, a.db)
	}

	if err := engine.Start(ctx); err != nil {
		return err
	}

	server := web.NewServer(web.Config{
		Host:           a.cfg.Config.Host,
		Port:           a.cfg.Config.Port,
		AllowedOrigins: a.cfg.Config.CORSAllowedOrigins,
	}, engine, registry)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		engine.Stop()
		return nil
	})

	err := g.Wait()
	log.Info().Msg("autorules: stopped")
	return err
}
