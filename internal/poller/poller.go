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

// Package poller runs a background loop that periodically lists new
// messages in the transcript channel and hands them to the ingestion
// queue. A per-channel cursor persisted in the store marks the newest
// message already handed off, so restarts neither miss nor replay
// messages.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/tixsight/ingestion/internal/discord"
	"github.com/tixsight/ingestion/internal/models"
)

// pageInterval spaces out history requests to stay under Discord's
// per-route rate limit.
const pageInterval = 500 * time.Millisecond

// MessageLister pages channel history.
type MessageLister interface {
	ListMessages(ctx context.Context, channelID string, opts discord.PageOptions) ([]discord.Message, error)
}

// CursorStore persists the per-channel cursor.
type CursorStore interface {
	LoadCursor(ctx context.Context, channelID string) (string, error)
	SaveCursor(ctx context.Context, channelID, messageID string) error
}

// EventCallback is called for each new message, oldest first.
type EventCallback func(ctx context.Context, event *models.SourceEvent) error

// Poller periodically checks a channel for new messages.
type Poller struct {
	client    MessageLister
	store     CursorStore
	channelID string
	interval  time.Duration
	onEvent   EventCallback
	pages     *rate.Limiter
}

// NewPoller creates a poller that checks for new messages at the given interval.
func NewPoller(client MessageLister, store CursorStore, channelID string, interval time.Duration, onEvent EventCallback) *Poller {
	return &Poller{
		client:    client,
		store:     store,
		channelID: channelID,
		interval:  interval,
		onEvent:   onEvent,
		pages:     rate.NewLimiter(rate.Every(pageInterval), 1),
	}
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	slog.Info("channel poller starting",
		"channel_id", p.channelID,
		"interval", p.interval,
	)

	// Do an initial poll immediately
	p.pollLogged(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("channel poller stopping")
			return nil
		case <-ticker.C:
			p.pollLogged(ctx)
		}
	}
}

func (p *Poller) pollLogged(ctx context.Context) {
	n, err := p.Poll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("channel poll failed", "channel_id", p.channelID, "error", err)
		}
		return
	}
	if n > 0 {
		slog.Info("channel poll dispatched messages", "channel_id", p.channelID, "count", n)
	}
}

// Poll dispatches every message newer than the cursor and returns how many
// were handed off. Without a cursor it only records the newest message id;
// history is the backfill's job.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	cursor, err := p.store.LoadCursor(ctx, p.channelID)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}

	if cursor == "" {
		return 0, p.initialCursor(ctx)
	}

	dispatched := 0
	for {
		if err := p.pages.Wait(ctx); err != nil {
			return dispatched, err
		}
		page, err := p.client.ListMessages(ctx, p.channelID, discord.PageOptions{
			Limit: discord.MaxPageSize,
			After: cursor,
		})
		if err != nil {
			return dispatched, fmt.Errorf("list messages after %s: %w", cursor, err)
		}
		if len(page) == 0 {
			return dispatched, nil
		}

		sort.Slice(page, func(i, j int) bool { return discord.SnowflakeLess(page[i].ID, page[j].ID) })

		for _, msg := range page {
			if !discord.SnowflakeLess(cursor, msg.ID) {
				continue
			}
			if err := p.onEvent(ctx, msg.ToSourceEvent()); err != nil {
				return dispatched, fmt.Errorf("dispatch message %s: %w", msg.ID, err)
			}
			if err := p.store.SaveCursor(ctx, p.channelID, msg.ID); err != nil {
				return dispatched, fmt.Errorf("save cursor: %w", err)
			}
			cursor = msg.ID
			dispatched++
		}

		if len(page) < discord.MaxPageSize {
			return dispatched, nil
		}
	}
}

// initialCursor records the newest message so polling starts from now.
func (p *Poller) initialCursor(ctx context.Context) error {
	page, err := p.client.ListMessages(ctx, p.channelID, discord.PageOptions{Limit: 1})
	if err != nil {
		return fmt.Errorf("initial cursor: %w", err)
	}
	if len(page) == 0 {
		// Empty channel: "0" sorts before every real snowflake.
		return p.store.SaveCursor(ctx, p.channelID, "0")
	}

	slog.Info("channel cursor initialised", "channel_id", p.channelID, "message_id", page[0].ID)
	return p.store.SaveCursor(ctx, p.channelID, page[0].ID)
}
