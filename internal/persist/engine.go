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

// Package persist records classified transcripts as tickets. The primary
// ticket upsert is the only step whose failure aborts a store; category,
// link and insight writes degrade to log lines so a usable classification
// is never discarded because a join-table write failed.
package persist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tixsight/ingestion/internal/models"
)

// Repository is the storage capability the engine writes through. Each
// method is a separate logical operation; no transaction spans them.
type Repository interface {
	// UpsertTicket inserts or overwrites the ticket keyed by its source event
	// id and returns the row id.
	UpsertTicket(ctx context.Context, t *models.Ticket) (string, error)
	// InsertCategory adds an auto-created category unless one with the same
	// name (case-insensitive) already exists.
	InsertCategory(ctx context.Context, name, description string) error
	ListCategories(ctx context.Context) ([]models.Category, error)
	DeleteCategoryLinks(ctx context.Context, ticketID string) error
	InsertCategoryLinks(ctx context.Context, ticketID string, categoryIDs []string) error
	DeleteInsights(ctx context.Context, ticketID string) error
	InsertInsights(ctx context.Context, ticketID string, insights []models.Insight) error
}

// Engine performs the idempotent ticket write.
type Engine struct {
	repo Repository
	now  func() time.Time
}

// NewEngine creates a persistence engine.
func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo, now: time.Now}
}

// Store writes the ticket and replaces its category links and insights.
// It returns an error only when the ticket row itself could not be written.
func (e *Engine) Store(ctx context.Context, event *models.SourceEvent, src *models.TranscriptSource, parsed models.ParsedTranscript, analysis *models.Analysis) (string, error) {
	ticket := BuildTicket(event, src, parsed, analysis, e.now().UTC())

	ticketID, err := e.repo.UpsertTicket(ctx, ticket)
	if err != nil {
		return "", fmt.Errorf("upsert ticket %s: %w", event.ID, err)
	}

	if p := analysis.NewCategory; p != nil {
		if err := e.repo.InsertCategory(ctx, p.Name, p.Description); err != nil {
			slog.Warn("failed to create proposed category",
				"ticket_id", ticketID,
				"category", p.Name,
				"error", err,
			)
		} else {
			slog.Info("proposed category recorded", "ticket_id", ticketID, "category", p.Name)
		}
	}

	e.replaceLinks(ctx, ticketID, analysis.CategoryNames)
	e.replaceInsights(ctx, ticketID, analysis.Insights)

	return ticketID, nil
}

func (e *Engine) replaceLinks(ctx context.Context, ticketID string, names []string) {
	// Re-read so a category created a moment ago is linkable.
	vocabulary, err := e.repo.ListCategories(ctx)
	if err != nil {
		slog.Warn("failed to load categories, links left unchanged", "ticket_id", ticketID, "error", err)
		return
	}
	ids := ResolveCategoryIDs(names, vocabulary)

	if err := e.repo.DeleteCategoryLinks(ctx, ticketID); err != nil {
		slog.Warn("failed to clear category links", "ticket_id", ticketID, "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}
	if err := e.repo.InsertCategoryLinks(ctx, ticketID, ids); err != nil {
		slog.Warn("failed to link categories", "ticket_id", ticketID, "error", err)
		return
	}
	slog.Debug("category links replaced", "ticket_id", ticketID, "count", len(ids))
}

func (e *Engine) replaceInsights(ctx context.Context, ticketID string, insights []models.Insight) {
	if err := e.repo.DeleteInsights(ctx, ticketID); err != nil {
		slog.Warn("failed to clear insights", "ticket_id", ticketID, "error", err)
		return
	}
	if len(insights) == 0 {
		return
	}
	if err := e.repo.InsertInsights(ctx, ticketID, insights); err != nil {
		slog.Warn("failed to store insights", "ticket_id", ticketID, "error", err)
	}
}

// ResolveCategoryIDs maps names onto vocabulary ids by case-insensitive
// match. Unknown names are dropped and each id appears at most once.
func ResolveCategoryIDs(names []string, vocabulary []models.Category) []string {
	byName := make(map[string]string, len(vocabulary))
	for _, c := range vocabulary {
		key := strings.ToLower(strings.TrimSpace(c.Name))
		if _, ok := byName[key]; !ok {
			byName[key] = c.ID
		}
	}

	ids := []string{}
	seen := make(map[string]bool)
	for _, name := range names {
		id, ok := byName[strings.ToLower(strings.TrimSpace(name))]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// BuildTicket assembles the ticket row from one pipeline run.
func BuildTicket(event *models.SourceEvent, src *models.TranscriptSource, parsed models.ParsedTranscript, analysis *models.Analysis, processedAt time.Time) *models.Ticket {
	return &models.Ticket{
		SourceEventID:    event.ID,
		TranscriptURL:    src.URL,
		RawText:          parsed.RawText,
		Summary:          analysis.Summary,
		Severity:         analysis.Severity,
		Resolved:         analysis.Resolved,
		Sentiment:        analysis.Sentiment,
		ParticipantCount: parsed.ParticipantCount,
		MessageCount:     parsed.MessageCount,
		OpenedAt:         parsed.OpenedAt,
		ClosedAt:         parsed.ClosedAt,
		PostedAt:         event.CreatedAt.UTC(),
		ProcessedAt:      processedAt,
	}
}
