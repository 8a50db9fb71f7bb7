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

// TixSight Historical Backfill Command
//
// Standalone CLI tool that walks the transcript channel's history back to a
// cutoff and runs every ticket through the ingestion pipeline. Intended for
// seeding data on new deployments; already-stored tickets are skipped.
//
// Usage:
//
//	go run ./cmd/backfill/ [--days 90] [--delay 2s] [--channel <id>]
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tixsight/ingestion/internal/app"
	"github.com/tixsight/ingestion/internal/backfill"
	"github.com/tixsight/ingestion/internal/config"
)

type options struct {
	configPath string
	channelID  string
	days       int
	delay      time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:          "backfill",
		Short:        "Ingest historical ticket transcripts from the channel",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "path to config.yaml (overrides CONFIG_PATH)")
	cmd.Flags().StringVar(&opts.channelID, "channel", "", "channel to backfill (default: discord.channel_id)")
	cmd.Flags().IntVar(&opts.days, "days", backfill.DefaultDays, "how many days of history to ingest")
	cmd.Flags().DurationVar(&opts.delay, "delay", backfill.DefaultDelay, "minimum gap between processed tickets (negative disables)")
	return cmd
}

func run(opts options) error {
	if opts.configPath != "" {
		os.Setenv("CONFIG_PATH", opts.configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return err
	}
	app.SetupLogging(cfg.LogLevel)

	channelID := opts.channelID
	if channelID == "" {
		channelID = cfg.ChannelID
	}
	if channelID == "" {
		return errors.New("no channel: set --channel or discord.channel_id")
	}
	if cfg.DiscordToken == "" {
		return errors.New("discord.token is required for backfill")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	svc, err := app.Build(ctx, cfg)
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		return err
	}
	defer svc.Close()

	runner := backfill.NewRunner(backfill.RunnerConfig{
		Client:    svc.Discord,
		Processor: svc.Coordinator,
		Delay:     opts.delay,
	})

	res, err := runner.Run(ctx, channelID, opts.days)
	if err != nil {
		slog.Error("backfill aborted",
			"processed", res.Processed,
			"skipped", res.Skipped,
			"errors", res.Errors,
			"error", err,
		)
		return err
	}

	slog.Info("backfill finished",
		"channel_id", res.ChannelID,
		"since", res.Cutoff.Format(time.RFC3339),
		"processed", res.Processed,
		"skipped", res.Skipped,
		"errors", res.Errors,
		"elapsed", res.Elapsed.String(),
	)
	return nil
}
