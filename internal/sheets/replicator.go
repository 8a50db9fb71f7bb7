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

// Package sheets replicates stored tickets to a spreadsheet, one flat row
// per ticket. Replication is best effort: callers log failures and never
// let them affect ingestion.
package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tixsight/ingestion/internal/models"
)

// Header is written to the first row of an empty sheet.
var Header = []string{
	"Message ID", "Posted At", "Summary", "Categories",
	"Severity", "Resolved", "Sentiment", "Participants",
	"Messages", "Insights", "Transcript URL",
}

// Sink is a spreadsheet that accepts rows.
type Sink interface {
	// EnsureHeader writes header when the sheet's first row is empty.
	EnsureHeader(ctx context.Context, header []string) error
	AppendRow(ctx context.Context, row []string) error
}

// Store is the ticket lookup and bookkeeping the replicator needs.
type Store interface {
	TicketSummary(ctx context.Context, ticketID string) (*models.TicketSummary, error)
	MarkSheetsSynced(ctx context.Context, ticketID string, at time.Time) error
}

// Replicator copies tickets from the store to a sink.
type Replicator struct {
	store Store
	sink  Sink
	now   func() time.Time

	mu          sync.Mutex
	headerReady bool
}

// NewReplicator creates a replicator.
func NewReplicator(store Store, sink Sink) *Replicator {
	return &Replicator{store: store, sink: sink, now: time.Now}
}

// Replicate appends the ticket's row and records the sync time.
func (r *Replicator) Replicate(ctx context.Context, ticketID string) error {
	summary, err := r.store.TicketSummary(ctx, ticketID)
	if err != nil {
		return fmt.Errorf("load ticket %s: %w", ticketID, err)
	}
	if summary == nil {
		return fmt.Errorf("ticket %s not found", ticketID)
	}

	if err := r.ensureHeader(ctx); err != nil {
		// A missing header is cosmetic; the row still goes in.
		slog.Warn("could not check or set sheet header", "error", err)
	}

	if err := r.sink.AppendRow(ctx, BuildRow(summary)); err != nil {
		return fmt.Errorf("append row: %w", err)
	}

	if err := r.store.MarkSheetsSynced(ctx, ticketID, r.now().UTC()); err != nil {
		return fmt.Errorf("mark ticket %s synced: %w", ticketID, err)
	}

	slog.Info("ticket replicated to sheet", "ticket_id", ticketID)
	return nil
}

func (r *Replicator) ensureHeader(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.headerReady {
		return nil
	}
	if err := r.sink.EnsureHeader(ctx, Header); err != nil {
		return err
	}
	r.headerReady = true
	return nil
}

// BuildRow flattens a ticket into the sheet's column order.
func BuildRow(s *models.TicketSummary) []string {
	t := s.Ticket

	insights := make([]string, 0, len(s.Insights))
	for _, in := range s.Insights {
		insights = append(insights, fmt.Sprintf("[%s] %s", in.Type, in.Text))
	}

	resolved := "No"
	if t.Resolved {
		resolved = "Yes"
	}

	posted := ""
	if !t.PostedAt.IsZero() {
		posted = t.PostedAt.UTC().Format(time.RFC3339)
	}

	return []string{
		t.SourceEventID,
		posted,
		t.Summary,
		strings.Join(s.CategoryNames, ", "),
		string(t.Severity),
		resolved,
		string(t.Sentiment),
		strconv.Itoa(t.ParticipantCount),
		strconv.Itoa(t.MessageCount),
		strings.Join(insights, "; "),
		t.TranscriptURL,
	}
}
