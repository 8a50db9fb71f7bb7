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

package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tixsight/ingestion/internal/models"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres creates a pool for url and ensures the schema exists.
func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s, err := NewPostgres(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgres wraps an existing pool. It ensures the tables exist on
// creation.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	s := &Postgres{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure ticket schema: %w", err)
	}
	slog.Info("postgres ticket store initialised")
	return s, nil
}

func (s *Postgres) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tickets (
			id                TEXT PRIMARY KEY,
			source_event_id   TEXT NOT NULL UNIQUE,
			transcript_url    TEXT NOT NULL DEFAULT '',
			raw_text          TEXT NOT NULL DEFAULT '',
			summary           TEXT NOT NULL DEFAULT '',
			severity          TEXT NOT NULL DEFAULT 'medium',
			resolved          BOOLEAN NOT NULL DEFAULT FALSE,
			sentiment         TEXT NOT NULL DEFAULT 'neutral',
			participant_count INTEGER NOT NULL DEFAULT 1,
			message_count     INTEGER NOT NULL DEFAULT 1,
			opened_at         TIMESTAMPTZ,
			closed_at         TIMESTAMPTZ,
			posted_at         TIMESTAMPTZ NOT NULL,
			processed_at      TIMESTAMPTZ NOT NULL,
			sheets_synced_at  TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_tickets_posted ON tickets(posted_at);

		CREATE TABLE IF NOT EXISTS categories (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL UNIQUE,
			description  TEXT,
			auto_created BOOLEAN NOT NULL DEFAULT FALSE,
			created_at   TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_categories_name_lower ON categories(LOWER(name));

		CREATE TABLE IF NOT EXISTS ticket_categories (
			ticket_id   TEXT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
			category_id TEXT NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
			PRIMARY KEY (ticket_id, category_id)
		);

		CREATE TABLE IF NOT EXISTS insights (
			id         TEXT PRIMARY KEY,
			ticket_id  TEXT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
			text       TEXT NOT NULL,
			type       TEXT NOT NULL DEFAULT 'general',
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_insights_ticket ON insights(ticket_id);

		CREATE TABLE IF NOT EXISTS ingest_cursors (
			channel_id      TEXT PRIMARY KEY,
			last_message_id TEXT NOT NULL,
			updated_at      TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

// Close releases the pool.
func (s *Postgres) Close() { s.pool.Close() }

// Ping checks the database connection.
func (s *Postgres) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// TicketExists reports whether a ticket row exists for the event id.
func (s *Postgres) TicketExists(ctx context.Context, sourceEventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tickets WHERE source_event_id = $1)`,
		sourceEventID,
	).Scan(&exists)
	return exists, err
}

// UpsertTicket inserts or overwrites the ticket keyed on source_event_id.
// The unique key decides concurrent writers for the same event.
func (s *Postgres) UpsertTicket(ctx context.Context, t *models.Ticket) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tickets
			(id, source_event_id, transcript_url, raw_text, summary, severity, resolved,
			 sentiment, participant_count, message_count, opened_at, closed_at,
			 posted_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (source_event_id) DO UPDATE SET
			transcript_url    = EXCLUDED.transcript_url,
			raw_text          = EXCLUDED.raw_text,
			summary           = EXCLUDED.summary,
			severity          = EXCLUDED.severity,
			resolved          = EXCLUDED.resolved,
			sentiment         = EXCLUDED.sentiment,
			participant_count = EXCLUDED.participant_count,
			message_count     = EXCLUDED.message_count,
			opened_at         = EXCLUDED.opened_at,
			closed_at         = EXCLUDED.closed_at,
			posted_at         = EXCLUDED.posted_at,
			processed_at      = EXCLUDED.processed_at
		RETURNING id
	`, uuid.NewString(), t.SourceEventID, t.TranscriptURL, t.RawText, t.Summary,
		string(t.Severity), t.Resolved, string(t.Sentiment), t.ParticipantCount,
		t.MessageCount, t.OpenedAt, t.ClosedAt, t.PostedAt, t.ProcessedAt,
	).Scan(&id)
	if err != nil {
		return "", err
	}
	t.ID = id
	return id, nil
}

// InsertCategory adds an auto-created category. Existing names, compared
// case-insensitively, are left untouched.
func (s *Postgres) InsertCategory(ctx context.Context, name, description string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO categories (id, name, description, auto_created)
		VALUES ($1, $2, NULLIF($3, ''), TRUE)
		ON CONFLICT DO NOTHING
	`, uuid.NewString(), name, description)
	return err
}

// ListCategories returns the vocabulary ordered by name.
func (s *Postgres) ListCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, auto_created
		FROM categories
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.AutoCreated); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// DeleteCategoryLinks removes every category link of a ticket.
func (s *Postgres) DeleteCategoryLinks(ctx context.Context, ticketID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM ticket_categories WHERE ticket_id = $1`, ticketID)
	return err
}

// InsertCategoryLinks links a ticket to each category id.
func (s *Postgres) InsertCategoryLinks(ctx context.Context, ticketID string, categoryIDs []string) error {
	batch := &pgx.Batch{}
	for _, id := range categoryIDs {
		batch.Queue(`
			INSERT INTO ticket_categories (ticket_id, category_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, ticketID, id)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

// DeleteInsights removes every insight of a ticket.
func (s *Postgres) DeleteInsights(ctx context.Context, ticketID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM insights WHERE ticket_id = $1`, ticketID)
	return err
}

// InsertInsights stores insights for a ticket.
func (s *Postgres) InsertInsights(ctx context.Context, ticketID string, insights []models.Insight) error {
	batch := &pgx.Batch{}
	for _, in := range insights {
		batch.Queue(`
			INSERT INTO insights (id, ticket_id, text, type)
			VALUES ($1, $2, $3, $4)
		`, uuid.NewString(), ticketID, in.Text, in.Type)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

// TicketSummary loads a ticket with its category names and insights.
func (s *Postgres) TicketSummary(ctx context.Context, ticketID string) (*models.TicketSummary, error) {
	var t models.Ticket
	var severity, sentiment string
	err := s.pool.QueryRow(ctx, `
		SELECT id, source_event_id, transcript_url, raw_text, summary, severity,
		       resolved, sentiment, participant_count, message_count, opened_at,
		       closed_at, posted_at, processed_at, sheets_synced_at
		FROM tickets
		WHERE id = $1
	`, ticketID).Scan(
		&t.ID, &t.SourceEventID, &t.TranscriptURL, &t.RawText, &t.Summary, &severity,
		&t.Resolved, &sentiment, &t.ParticipantCount, &t.MessageCount, &t.OpenedAt,
		&t.ClosedAt, &t.PostedAt, &t.ProcessedAt, &t.SheetsSyncedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Severity = models.Severity(severity)
	t.Sentiment = models.Sentiment(sentiment)

	summary := &models.TicketSummary{Ticket: t, CategoryNames: []string{}, Insights: []models.Insight{}}

	rows, err := s.pool.Query(ctx, `
		SELECT c.name
		FROM ticket_categories tc
		JOIN categories c ON c.id = tc.category_id
		WHERE tc.ticket_id = $1
		ORDER BY c.name
	`, ticketID)
	if err != nil {
		return nil, err
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	summary.CategoryNames = append(summary.CategoryNames, names...)

	rows, err = s.pool.Query(ctx, `
		SELECT text, type FROM insights WHERE ticket_id = $1 ORDER BY created_at, id
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var in models.Insight
		if err := rows.Scan(&in.Text, &in.Type); err != nil {
			return nil, err
		}
		summary.Insights = append(summary.Insights, in)
	}
	return summary, rows.Err()
}

// MarkSheetsSynced records a successful replication.
func (s *Postgres) MarkSheetsSynced(ctx context.Context, ticketID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE tickets SET sheets_synced_at = $1 WHERE id = $2`, at, ticketID)
	return err
}

// LoadCursor returns the stored cursor for a channel.
func (s *Postgres) LoadCursor(ctx context.Context, channelID string) (string, error) {
	var cursor string
	err := s.pool.QueryRow(ctx,
		`SELECT last_message_id FROM ingest_cursors WHERE channel_id = $1`, channelID,
	).Scan(&cursor)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	return cursor, err
}

// SaveCursor persists the newest processed message id for a channel.
func (s *Postgres) SaveCursor(ctx context.Context, channelID, messageID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingest_cursors (channel_id, last_message_id)
		VALUES ($1, $2)
		ON CONFLICT (channel_id) DO UPDATE SET
			last_message_id = EXCLUDED.last_message_id,
			updated_at      = NOW()
	`, channelID, messageID)
	return err
}
