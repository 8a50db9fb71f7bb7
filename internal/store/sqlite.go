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
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tixsight/ingestion/internal/models"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

const timeLayout = time.RFC3339Nano

// SQLite implements Store on a single-writer SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path. ":memory:" gives a
// private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	slog.Info("sqlite ticket store initialised", "path", path)
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() {
	if err := s.db.Close(); err != nil {
		slog.Warn("failed to close sqlite store", "error", err)
	}
}

// Ping checks the database connection.
func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// TicketExists reports whether a ticket row exists for the event id.
func (s *SQLite) TicketExists(ctx context.Context, sourceEventID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM tickets WHERE source_event_id = ?)`,
		sourceEventID,
	).Scan(&exists)
	return exists, err
}

// UpsertTicket inserts or overwrites the ticket keyed on source_event_id.
func (s *SQLite) UpsertTicket(ctx context.Context, t *models.Ticket) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tickets
			(id, source_event_id, transcript_url, raw_text, summary, severity, resolved,
			 sentiment, participant_count, message_count, opened_at, closed_at,
			 posted_at, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_event_id) DO UPDATE SET
			transcript_url    = excluded.transcript_url,
			raw_text          = excluded.raw_text,
			summary           = excluded.summary,
			severity          = excluded.severity,
			resolved          = excluded.resolved,
			sentiment         = excluded.sentiment,
			participant_count = excluded.participant_count,
			message_count     = excluded.message_count,
			opened_at         = excluded.opened_at,
			closed_at         = excluded.closed_at,
			posted_at         = excluded.posted_at,
			processed_at      = excluded.processed_at
		RETURNING id
	`, uuid.NewString(), t.SourceEventID, t.TranscriptURL, t.RawText, t.Summary,
		string(t.Severity), t.Resolved, string(t.Sentiment), t.ParticipantCount,
		t.MessageCount, formatTimePtr(t.OpenedAt), formatTimePtr(t.ClosedAt),
		formatTime(t.PostedAt), formatTime(t.ProcessedAt),
	).Scan(&id)
	if err != nil {
		return "", err
	}
	t.ID = id
	return id, nil
}

// InsertCategory adds an auto-created category unless the name exists.
func (s *SQLite) InsertCategory(ctx context.Context, name, description string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, description, auto_created)
		VALUES (?, ?, NULLIF(?, ''), 1)
		ON CONFLICT DO NOTHING
	`, uuid.NewString(), name, description)
	return err
}

// ListCategories returns the vocabulary ordered by name.
func (s *SQLite) ListCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
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
		var desc sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &desc, &c.AutoCreated); err != nil {
			return nil, err
		}
		if desc.Valid {
			c.Description = &desc.String
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// DeleteCategoryLinks removes every category link of a ticket.
func (s *SQLite) DeleteCategoryLinks(ctx context.Context, ticketID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM ticket_categories WHERE ticket_id = ?`, ticketID)
	return err
}

// InsertCategoryLinks links a ticket to each category id.
func (s *SQLite) InsertCategoryLinks(ctx context.Context, ticketID string, categoryIDs []string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range categoryIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO ticket_categories (ticket_id, category_id)
				VALUES (?, ?)
				ON CONFLICT DO NOTHING
			`, ticketID, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteInsights removes every insight of a ticket.
func (s *SQLite) DeleteInsights(ctx context.Context, ticketID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM insights WHERE ticket_id = ?`, ticketID)
	return err
}

// InsertInsights stores insights for a ticket.
func (s *SQLite) InsertInsights(ctx context.Context, ticketID string, insights []models.Insight) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, in := range insights {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO insights (id, ticket_id, text, type)
				VALUES (?, ?, ?, ?)
			`, uuid.NewString(), ticketID, in.Text, in.Type); err != nil {
				return err
			}
		}
		return nil
	})
}

// TicketSummary loads a ticket with its category names and insights.
func (s *SQLite) TicketSummary(ctx context.Context, ticketID string) (*models.TicketSummary, error) {
	var (
		t                                   models.Ticket
		severity, sentiment, posted, procAt string
		opened, closed, synced              sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source_event_id, transcript_url, raw_text, summary, severity,
		       resolved, sentiment, participant_count, message_count, opened_at,
		       closed_at, posted_at, processed_at, sheets_synced_at
		FROM tickets
		WHERE id = ?
	`, ticketID).Scan(
		&t.ID, &t.SourceEventID, &t.TranscriptURL, &t.RawText, &t.Summary, &severity,
		&t.Resolved, &sentiment, &t.ParticipantCount, &t.MessageCount, &opened,
		&closed, &posted, &procAt, &synced,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Severity = models.Severity(severity)
	t.Sentiment = models.Sentiment(sentiment)
	t.OpenedAt = parseTimePtr(opened)
	t.ClosedAt = parseTimePtr(closed)
	t.SheetsSyncedAt = parseTimePtr(synced)
	t.PostedAt, _ = time.Parse(timeLayout, posted)
	t.ProcessedAt, _ = time.Parse(timeLayout, procAt)

	summary := &models.TicketSummary{Ticket: t, CategoryNames: []string{}, Insights: []models.Insight{}}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.name
		FROM ticket_categories tc
		JOIN categories c ON c.id = tc.category_id
		WHERE tc.ticket_id = ?
		ORDER BY c.name
	`, ticketID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		summary.CategoryNames = append(summary.CategoryNames, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT text, type FROM insights WHERE ticket_id = ? ORDER BY seq
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
func (s *SQLite) MarkSheetsSynced(ctx context.Context, ticketID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tickets SET sheets_synced_at = ? WHERE id = ?`, formatTime(at), ticketID)
	return err
}

// LoadCursor returns the stored cursor for a channel.
func (s *SQLite) LoadCursor(ctx context.Context, channelID string) (string, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_message_id FROM ingest_cursors WHERE channel_id = ?`, channelID,
	).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return cursor, err
}

// SaveCursor persists the newest processed message id for a channel.
func (s *SQLite) SaveCursor(ctx context.Context, channelID, messageID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_cursors (channel_id, last_message_id)
		VALUES (?, ?)
		ON CONFLICT (channel_id) DO UPDATE SET
			last_message_id = excluded.last_message_id,
			updated_at      = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
	`, channelID, messageID)
	return err
}

func (s *SQLite) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}
