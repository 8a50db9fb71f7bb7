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

// Package backfill provides historical ticket ingestion by paging a
// channel's message history backwards to a cutoff and running each
// message through the ingestion pipeline.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/tixsight/ingestion/internal/discord"
	"github.com/tixsight/ingestion/internal/models"
	"github.com/tixsight/ingestion/internal/pipeline"
)

const (
	// DefaultDays is the lookback window when none is given.
	DefaultDays = 90
	// DefaultDelay spaces out processed events.
	DefaultDelay = 2 * time.Second
)

// Lister pages channel history.
type Lister interface {
	ListMessages(ctx context.Context, channelID string, opts discord.PageOptions) ([]discord.Message, error)
}

// Processor runs one event through the pipeline.
type Processor interface {
	Process(ctx context.Context, event *models.SourceEvent) (pipeline.Outcome, error)
}

// Result summarises a completed backfill run.
type Result struct {
	ChannelID string
	Cutoff    time.Time
	Processed int
	Skipped   int
	Errors    int
	Pages     int
	Elapsed   time.Duration
}

// Runner performs historical channel backfill.
type Runner struct {
	client    Lister
	processor Processor
	limiter   *rate.Limiter
	now       func() time.Time
}

// RunnerConfig holds dependencies for the backfill runner.
type RunnerConfig struct {
	Client    Lister
	Processor Processor
	// Delay is the minimum gap between processed events. Zero means
	// DefaultDelay; a negative value disables pacing.
	Delay time.Duration
}

// NewRunner creates a backfill runner.
func NewRunner(cfg RunnerConfig) *Runner {
	delay := cfg.Delay
	if delay == 0 {
		delay = DefaultDelay
	}
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Runner{
		client:    cfg.Client,
		processor: cfg.Processor,
		limiter:   rate.NewLimiter(limit, 1),
		now:       time.Now,
	}
}

// Run walks the channel from newest to oldest, stopping at the first
// message older than now minus days. Per-message failures are counted and
// the run continues; only listing failures abort it.
func (r *Runner) Run(ctx context.Context, channelID string, days int) (*Result, error) {
	if days <= 0 {
		days = DefaultDays
	}
	start := r.now()
	cutoff := start.UTC().AddDate(0, 0, -days)

	slog.Info("starting historical backfill",
		"channel_id", channelID,
		"days", days,
		"since", cutoff.Format(time.RFC3339),
	)

	res := &Result{ChannelID: channelID, Cutoff: cutoff}
	before := ""

	for {
		page, err := r.client.ListMessages(ctx, channelID, discord.PageOptions{
			Limit:  discord.MaxPageSize,
			Before: before,
		})
		if err != nil {
			return res, fmt.Errorf("fetch page %d: %w", res.Pages, err)
		}
		if len(page) == 0 {
			break
		}
		res.Pages++

		done := false
		for _, msg := range page {
			if msg.Timestamp.Before(cutoff) {
				done = true
				break
			}
			before = msg.ID

			if msg.Author.Bot || msg.Author.System {
				continue
			}

			if err := r.limiter.Wait(ctx); err != nil {
				return res, err
			}
			r.processOne(ctx, msg, res)
		}

		slog.Info("backfill page complete",
			"channel_id", channelID,
			"page", res.Pages,
			"processed", res.Processed,
			"errors", res.Errors,
		)

		if done || len(page) < discord.MaxPageSize {
			break
		}
	}

	res.Elapsed = time.Since(start)

	slog.Info("historical backfill complete",
		"channel_id", channelID,
		"processed", res.Processed,
		"skipped", res.Skipped,
		"errors", res.Errors,
		"pages", res.Pages,
		"elapsed", res.Elapsed,
	)

	return res, nil
}

func (r *Runner) processOne(ctx context.Context, msg discord.Message, res *Result) {
	outcome, err := r.processor.Process(ctx, msg.ToSourceEvent())
	if err != nil {
		slog.Warn("backfill: process failed",
			"message_id", msg.ID,
			"error", err,
		)
		res.Errors++
		return
	}

	if outcome.Status == pipeline.StatusSkipped {
		slog.Debug("backfill: message skipped",
			"message_id", msg.ID,
			"reason", outcome.Reason,
		)
		res.Skipped++
		return
	}
	res.Processed++
}
