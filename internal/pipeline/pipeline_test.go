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

package pipeline_test

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tixsight/ingestion/internal/classify"
	"github.com/tixsight/ingestion/internal/models"
	"github.com/tixsight/ingestion/internal/persist"
	"github.com/tixsight/ingestion/internal/pipeline"
	"github.com/tixsight/ingestion/internal/store"
	"github.com/tixsight/ingestion/internal/transcript"
)

type scriptedCompleter struct {
	calls atomic.Int32
	reply string
}

func (s *scriptedCompleter) Complete(context.Context, string) (string, error) {
	s.calls.Add(1)
	return s.reply, nil
}

// TestPipeline_EndToEnd runs a real fetch, parse, classify and persist
// against SQLite, then redelivers the same event.
func TestPipeline_EndToEnd(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte(`[
		{"username":"alice","content":"my invoice is wrong","created":1714560000000},
		{"username":"support","nick":"Sam","content":"refunded","created":1714560600000}
	]`))
	page := fmt.Sprintf(`<html><script>let messages = "%s";</script></html>`, payload)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page))
	}))
	defer srv.Close()

	ctx := context.Background()
	db, err := store.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.InsertCategory(ctx, "Billing", "Invoices and refunds"))

	completer := &scriptedCompleter{reply: "```json\n" + `{
		"categories": ["billing"],
		"new_category": {"name": "Refunds", "description": "Money returned"},
		"summary": "Customer was refunded for a wrong invoice.",
		"severity": "medium",
		"resolved": true,
		"sentiment": "positive",
		"insights": [{"text": "Invoice totals confuse users", "type": "ux_issue"}]
	}` + "\n```"}

	c := pipeline.NewCoordinator(pipeline.Config{
		Store:      db,
		Fetcher:    transcript.NewFetcher(transcript.FetcherConfig{HTTPClient: srv.Client(), Backoff: time.Millisecond}),
		Classifier: classify.NewAdapter(completer),
		Persister:  persist.NewEngine(db),
	})

	event := &models.SourceEvent{
		ID:        "1200",
		Text:      "Ticket closed",
		CreatedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		Attachments: []models.Attachment{
			{Name: "transcript-0042.html", URL: srv.URL + "/transcript-0042.html"},
		},
	}

	out, err := c.Process(ctx, event)
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusStored, out.Status)

	summary, err := db.TicketSummary(ctx, out.TicketID)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, "Customer was refunded for a wrong invoice.", summary.Ticket.Summary)
	assert.Equal(t, 2, summary.Ticket.MessageCount)
	assert.Equal(t, 2, summary.Ticket.ParticipantCount)
	assert.Contains(t, summary.Ticket.RawText, "alice: my invoice is wrong")
	assert.Contains(t, summary.Ticket.RawText, "Sam: refunded")
	require.NotNil(t, summary.Ticket.ClosedAt)
	assert.Equal(t, []string{"Billing", "Refunds"}, summary.CategoryNames)
	assert.Equal(t, []models.Insight{{Text: "Invoice totals confuse users", Type: "ux_issue"}}, summary.Insights)

	// Redelivery performs no fetch and no classification.
	again, err := c.Process(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, pipeline.Skipped(pipeline.ReasonAlreadyProcessed), again)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, int32(1), completer.calls.Load())
}
