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

// Package app assembles the ingestion pipeline from configuration. Both
// the long-running service and the backfill command build their
// dependencies here so they process events identically.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/tixsight/ingestion/internal/classify"
	"github.com/tixsight/ingestion/internal/config"
	"github.com/tixsight/ingestion/internal/dedup"
	"github.com/tixsight/ingestion/internal/discord"
	"github.com/tixsight/ingestion/internal/persist"
	"github.com/tixsight/ingestion/internal/pipeline"
	"github.com/tixsight/ingestion/internal/sheets"
	"github.com/tixsight/ingestion/internal/store"
	"github.com/tixsight/ingestion/internal/transcript"
)

// Services holds the connected dependencies of a running pipeline.
type Services struct {
	Store       store.Store
	Redis       *redis.Client
	Discord     *discord.Client // nil without a bot token
	Coordinator *pipeline.Coordinator
}

// SetupLogging installs the JSON slog handler at the configured level.
func SetupLogging(level slog.Level) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

// Build connects the store and Redis and wires the coordinator.
func Build(ctx context.Context, cfg *config.Config) (*Services, error) {
	st, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.DatabaseDriver, err)
	}
	slog.Info("connected to database", "driver", cfg.DatabaseDriver)

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		st.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	slog.Info("connected to Redis")

	svc := &Services{Store: st, Redis: rdb}

	if cfg.DiscordToken != "" {
		svc.Discord = discord.NewClient(discord.NewBotHTTPClient(ctx, cfg.DiscordToken), cfg.DiscordBaseURL)
	}

	completer, err := classify.NewCompleter(cfg.ClassifierProvider, classify.ClientConfig{
		APIKey:    cfg.ClassifierAPIKey,
		Model:     cfg.ClassifierModel,
		BaseURL:   cfg.ClassifierBaseURL,
		MaxTokens: cfg.ClassifierMaxTokens,
	})
	if err != nil {
		svc.Close()
		return nil, err
	}

	pcfg := pipeline.Config{
		Store: st,
		Fetcher: transcript.NewFetcher(transcript.FetcherConfig{
			Timeout:  cfg.FetchTimeout,
			Retries:  cfg.FetchRetries,
			Backoff:  cfg.FetchBackoff,
			CDNHosts: cfg.CDNHosts,
		}),
		Classifier:     classify.NewAdapter(completer),
		Persister:      persist.NewEngine(st),
		Claimer:        dedup.NewClaimer(rdb, cfg.ClaimTTL),
		SupportBotName: cfg.SupportBotName,
	}

	if cfg.SheetsEnabled() {
		sink, err := sheets.NewGoogleSink(ctx, cfg.SpreadsheetID, cfg.SheetName, cfg.SheetsCredentialsFile)
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("sheets: %w", err)
		}
		pcfg.Replicator = sheets.NewReplicator(st, sink)
		slog.Info("sheet replication enabled", "spreadsheet_id", cfg.SpreadsheetID)
	}

	svc.Coordinator = pipeline.NewCoordinator(pcfg)

	slog.Info("pipeline ready",
		"classifier", cfg.ClassifierProvider,
		"discord", svc.Discord != nil,
		"sheets", cfg.SheetsEnabled(),
	)
	return svc, nil
}

// Close waits for background replication and releases connections.
func (s *Services) Close() {
	if s.Coordinator != nil {
		s.Coordinator.Wait()
	}
	s.Redis.Close()
	s.Store.Close()
}
