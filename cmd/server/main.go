// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// TixSight Ingestion Service
//
// Entry point for the long-running ingestion service. It:
//  1. Loads configuration from config.yaml
//  2. Connects to the ticket store and Redis
//  3. Serves the webhook endpoint that queues transcript events
//  4. Runs a pool of queue workers feeding the pipeline
//  5. Polls the transcript channel for messages the webhook missed
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tixsight/ingestion/internal/app"
	"github.com/tixsight/ingestion/internal/config"
	"github.com/tixsight/ingestion/internal/models"
	"github.com/tixsight/ingestion/internal/pipeline"
	"github.com/tixsight/ingestion/internal/poller"
	"github.com/tixsight/ingestion/internal/queue"
	"github.com/tixsight/ingestion/internal/webhook"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:          "tixsight-ingest",
		Short:        "Ingest closed-ticket transcripts into the ticket store",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configPath != "" {
				os.Setenv("CONFIG_PATH", configPath)
			}
			return run()
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config.yaml (overrides CONFIG_PATH)")
	return cmd
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return err
	}
	app.SetupLogging(cfg.LogLevel)

	slog.Info("starting TixSight ingestion service",
		"workers", cfg.Workers,
		"poll_interval", cfg.PollInterval,
		"queue", cfg.EventsQueue,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	svc, err := app.Build(ctx, cfg)
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		return err
	}
	defer svc.Close()

	publisher := queue.NewPublisher(svc.Redis, cfg.EventsQueue)
	consumer := queue.NewConsumer(svc.Redis, cfg.EventsQueue, cfg.MaxAttempts, cfg.RetryDelay)

	g, gctx := errgroup.WithContext(ctx)

	// --- Webhook ingress ---
	ready, err := webhook.Serve(gctx, cfg.WebhookPort, webhook.NewHandler(publisher, cfg.WebhookSecret, cfg.ChannelID))
	if err != nil {
		slog.Error("failed to start webhook server", "error", err)
		return err
	}
	<-ready

	// --- Queue workers ---
	for i := 0; i < cfg.Workers; i++ {
		g.Go(func() error {
			return consumer.Run(gctx, processEvent(svc.Coordinator))
		})
	}

	// --- Channel poller ---
	if cfg.PollingEnabled() {
		p := poller.NewPoller(svc.Discord, svc.Store, cfg.ChannelID, cfg.PollInterval, publisher.Publish)
		g.Go(func() error { return p.Run(gctx) })
	} else {
		slog.Info("channel poller disabled")
	}

	// --- Health check server ---
	checks := map[string]webhook.Check{
		"redis":    publisher.Ping,
		"database": svc.Store.Ping,
	}
	g.Go(func() error { return serveHealth(gctx, cfg.Port, webhook.HealthHandler(checks)) })

	if err := g.Wait(); err != nil {
		slog.Error("ingestion service failed", "error", err)
		return err
	}

	slog.Info("ingestion service stopped")
	return nil
}

// processEvent adapts the coordinator to a queue handler. Returned errors
// cause redelivery.
func processEvent(c *pipeline.Coordinator) queue.Handler {
	return func(ctx context.Context, event *models.SourceEvent) error {
		out, err := c.Process(ctx, event)
		if err != nil {
			return err
		}
		slog.Info("event processed",
			"event_id", event.ID,
			"status", out.Status,
			"reason", out.Reason,
			"ticket_id", out.TicketID,
		)
		return nil
	}
}

func serveHealth(ctx context.Context, port int, health http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/health", health)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("health server shutdown error", "error", err)
		}
	}()

	slog.Info("health server listening", "addr", server.Addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
