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

// Package store provides the relational backends for tickets, the category
// vocabulary, join rows, insights and channel cursors. Postgres is the
// production backend; SQLite serves single-node deployments and tests.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tixsight/ingestion/internal/models"
	"github.com/tixsight/ingestion/internal/persist"
)

// Store is the full set of operations the service needs from a backend.
type Store interface {
	persist.Repository

	// TicketExists reports whether a ticket is recorded for the event id.
	TicketExists(ctx context.Context, sourceEventID string) (bool, error)
	// TicketSummary loads a ticket with its category names and insights.
	// It returns nil, nil when the ticket does not exist.
	TicketSummary(ctx context.Context, ticketID string) (*models.TicketSummary, error)
	MarkSheetsSynced(ctx context.Context, ticketID string, at time.Time) error

	// LoadCursor returns the newest processed message id for a channel, or
	// "" when the channel has never been polled.
	LoadCursor(ctx context.Context, channelID string) (string, error)
	SaveCursor(ctx context.Context, channelID, messageID string) error

	Ping(ctx context.Context) error
	Close()
}

// Open connects to the backend named by driver ("postgres" or "sqlite")
// and ensures its schema.
func Open(ctx context.Context, driver, url string) (Store, error) {
	switch strings.ToLower(driver) {
	case "", "postgres", "postgresql", "pgx":
		s, err := OpenPostgres(ctx, url)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite", "sqlite3":
		s, err := OpenSQLite(ctx, url)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
