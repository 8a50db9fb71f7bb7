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

// Package pipeline drives one source event through fetch, parse, classify
// and persist. The idempotency check is always the first action so a
// redelivered event never reaches the network or the classifier.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tixsight/ingestion/internal/models"
	"github.com/tixsight/ingestion/internal/parser"
)

// Skip reasons.
const (
	ReasonAlreadyProcessed    = "already-processed"
	ReasonBotAuthor           = "bot-author"
	ReasonBotOnlyParticipants = "bot-only-participants"
	ReasonInFlight            = "in-flight"
	ReasonNoTranscript        = "no-transcript-found"
)

// replicationTimeout bounds one background sheet write.
const replicationTimeout = time.Minute

// Status is the kind of outcome.
type Status string

const (
	StatusSkipped Status = "skipped"
	StatusStored  Status = "stored"
)

// Outcome is the result of processing one event.
type Outcome struct {
	Status   Status
	Reason   string
	TicketID string
}

// Skipped returns a skip outcome.
func Skipped(reason string) Outcome { return Outcome{Status: StatusSkipped, Reason: reason} }

// Stored returns a success outcome.
func Stored(ticketID string) Outcome { return Outcome{Status: StatusStored, TicketID: ticketID} }

// Fetcher locates and downloads the transcript for an event.
type Fetcher interface {
	Fetch(ctx context.Context, event *models.SourceEvent) (*models.TranscriptSource, error)
}

// Classifier produces an Analysis for transcript text.
type Classifier interface {
	Classify(ctx context.Context, text string, vocabulary []models.Category) (*models.Analysis, error)
}

// Store is the read side the coordinator needs.
type Store interface {
	TicketExists(ctx context.Context, sourceEventID string) (bool, error)
	ListCategories(ctx context.Context) ([]models.Category, error)
}

// Persister writes a classified transcript.
type Persister interface {
	Store(ctx context.Context, event *models.SourceEvent, src *models.TranscriptSource, parsed models.ParsedTranscript, analysis *models.Analysis) (string, error)
}

// Claimer prevents two workers from processing one event concurrently.
type Claimer interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// Replicator copies a stored ticket to the secondary sink.
type Replicator interface {
	Replicate(ctx context.Context, ticketID string) error
}

// Config holds the coordinator's collaborators. Claimer and Replicator are
// optional.
type Config struct {
	Store      Store
	Fetcher    Fetcher
	Classifier Classifier
	Persister  Persister
	Claimer    Claimer
	Replicator Replicator

	// SupportBotName marks participant summary lines that belong to the
	// support bot itself. Empty disables the bot-only check.
	SupportBotName string
}

// Coordinator orchestrates one pipeline run per event. It is safe for
// concurrent use; runs for different events share nothing but the store.
type Coordinator struct {
	cfg   Config
	parse func(string) models.ParsedTranscript
	wg    sync.WaitGroup
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	return &Coordinator{cfg: cfg, parse: parser.Parse}
}

// Process runs the pipeline for one event. Errors mean the event was not
// recorded and may be retried; skips and successes are both nil-error
// outcomes.
func (c *Coordinator) Process(ctx context.Context, event *models.SourceEvent) (Outcome, error) {
	log := slog.With("event_id", event.ID)

	exists, err := c.cfg.Store.TicketExists(ctx, event.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("check existing ticket: %w", err)
	}
	if exists {
		log.Debug("event already processed")
		return Skipped(ReasonAlreadyProcessed), nil
	}

	if event.AuthorIsSystem {
		log.Debug("skipping bot-authored event", "author", event.AuthorName)
		return Skipped(ReasonBotAuthor), nil
	}

	participants := ParseParticipants(event.Text)
	if OnlySupportBot(participants, c.cfg.SupportBotName) {
		log.Info("skipping ticket with only the support bot participating")
		return Skipped(ReasonBotOnlyParticipants), nil
	}

	if c.cfg.Claimer != nil {
		claimed, err := c.cfg.Claimer.Claim(ctx, event.ID)
		if err != nil {
			log.Warn("in-flight claim failed, proceeding", "error", err)
		} else if !claimed {
			log.Info("event is being processed elsewhere")
			return Skipped(ReasonInFlight), nil
		} else {
			defer func() {
				if err := c.cfg.Claimer.Release(context.WithoutCancel(ctx), event.ID); err != nil {
					log.Warn("failed to release in-flight claim", "error", err)
				}
			}()
		}
	}

	src, err := c.cfg.Fetcher.Fetch(ctx, event)
	if err != nil {
		return Outcome{}, fmt.Errorf("fetch transcript: %w", err)
	}
	if src == nil {
		log.Info("no transcript found")
		return Skipped(ReasonNoTranscript), nil
	}
	log.Info("transcript fetched", "url", src.URL, "origin", src.Origin, "bytes", len(src.Raw))

	parsed := c.parse(src.Raw)
	if len(participants) > 0 {
		ApplyParticipants(&parsed, participants)
	}
	log.Info("transcript parsed",
		"format", parsed.Format,
		"messages", parsed.MessageCount,
		"participants", parsed.ParticipantCount,
	)

	vocabulary, err := c.cfg.Store.ListCategories(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("load categories: %w", err)
	}

	analysis, err := c.cfg.Classifier.Classify(ctx, parsed.RawText, vocabulary)
	if err != nil {
		return Outcome{}, fmt.Errorf("classify transcript: %w", err)
	}
	log.Info("transcript classified",
		"categories", analysis.CategoryNames,
		"severity", analysis.Severity,
		"resolved", analysis.Resolved,
	)

	ticketID, err := c.cfg.Persister.Store(ctx, event, src, parsed, analysis)
	if err != nil {
		return Outcome{}, fmt.Errorf("store ticket: %w", err)
	}
	log.Info("ticket stored", "ticket_id", ticketID)

	c.replicate(ctx, ticketID)

	return Stored(ticketID), nil
}

// replicate launches the sheet write in the background. Its result never
// reaches the caller.
func (c *Coordinator) replicate(ctx context.Context, ticketID string) {
	if c.cfg.Replicator == nil {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replicationTimeout)
		defer cancel()

		if err := c.cfg.Replicator.Replicate(rctx, ticketID); err != nil {
			slog.Warn("sheet replication failed", "ticket_id", ticketID, "error", err)
		}
	}()
}

// Wait blocks until every background replication has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
