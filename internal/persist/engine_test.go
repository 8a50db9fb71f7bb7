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

package persist

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tixsight/ingestion/internal/models"
)

// fakeRepo is an in-memory Repository with per-step failure injection.
type fakeRepo struct {
	tickets    map[string]*models.Ticket // by source event id
	categories []models.Category
	links      map[string][]string
	insights   map[string][]models.Insight

	failUpsert, failCategory, failList, failDeleteLinks, failInsertLinks, failDeleteInsights, failInsertInsights bool
}

func newFakeRepo(names ...string) *fakeRepo {
	r := &fakeRepo{
		tickets:  make(map[string]*models.Ticket),
		links:    make(map[string][]string),
		insights: make(map[string][]models.Insight),
	}
	for _, n := range names {
		r.categories = append(r.categories, models.Category{ID: "cat-" + strings.ToLower(n), Name: n})
	}
	return r
}

var errBoom = errors.New("boom")

func (r *fakeRepo) UpsertTicket(_ context.Context, t *models.Ticket) (string, error) {
	if r.failUpsert {
		return "", errBoom
	}
	if existing, ok := r.tickets[t.SourceEventID]; ok {
		t.ID = existing.ID
	} else {
		t.ID = fmt.Sprintf("ticket-%d", len(r.tickets)+1)
	}
	r.tickets[t.SourceEventID] = t
	return t.ID, nil
}

func (r *fakeRepo) InsertCategory(_ context.Context, name, description string) error {
	if r.failCategory {
		return errBoom
	}
	for _, c := range r.categories {
		if strings.EqualFold(c.Name, name) {
			return nil
		}
	}
	r.categories = append(r.categories, models.Category{ID: "cat-" + strings.ToLower(name), Name: name, Description: &description, AutoCreated: true})
	return nil
}

func (r *fakeRepo) ListCategories(context.Context) ([]models.Category, error) {
	if r.failList {
		return nil, errBoom
	}
	return append([]models.Category(nil), r.categories...), nil
}

func (r *fakeRepo) DeleteCategoryLinks(_ context.Context, ticketID string) error {
	if r.failDeleteLinks {
		return errBoom
	}
	delete(r.links, ticketID)
	return nil
}

func (r *fakeRepo) InsertCategoryLinks(_ context.Context, ticketID string, ids []string) error {
	if r.failInsertLinks {
		return errBoom
	}
	r.links[ticketID] = append(r.links[ticketID], ids...)
	return nil
}

func (r *fakeRepo) DeleteInsights(_ context.Context, ticketID string) error {
	if r.failDeleteInsights {
		return errBoom
	}
	delete(r.insights, ticketID)
	return nil
}

func (r *fakeRepo) InsertInsights(_ context.Context, ticketID string, in []models.Insight) error {
	if r.failInsertInsights {
		return errBoom
	}
	r.insights[ticketID] = append(r.insights[ticketID], in...)
	return nil
}

func fixture() (*models.SourceEvent, *models.TranscriptSource, models.ParsedTranscript) {
	opened := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &models.SourceEvent{ID: "evt-1", CreatedAt: time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)},
		&models.TranscriptSource{URL: "https://cdn.example.com/transcript-1.html", Origin: models.OriginAttachment},
		models.ParsedTranscript{RawText: "alice: hi", MessageCount: 3, ParticipantCount: 2, OpenedAt: &opened}
}

func analysisWith(names ...string) *models.Analysis {
	return &models.Analysis{
		CategoryNames: names,
		Summary:       "summary",
		Severity:      models.SeverityHigh,
		Sentiment:     models.SentimentNegative,
		Insights:      []models.Insight{{Text: "needs export", Type: "feature_request"}},
	}
}

func newTestEngine(repo Repository) *Engine {
	e := NewEngine(repo)
	e.now = func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) }
	return e
}

func TestStore_WritesTicket(t *testing.T) {
	repo := newFakeRepo("Billing", "Login")
	event, src, parsed := fixture()

	id, err := newTestEngine(repo).Store(context.Background(), event, src, parsed, analysisWith("billing"))
	require.NoError(t, err)

	ticket := repo.tickets["evt-1"]
	require.NotNil(t, ticket)
	assert.Equal(t, id, ticket.ID)
	assert.Equal(t, src.URL, ticket.TranscriptURL)
	assert.Equal(t, "alice: hi", ticket.RawText)
	assert.Equal(t, models.SeverityHigh, ticket.Severity)
	assert.Equal(t, 3, ticket.MessageCount)
	assert.Equal(t, event.CreatedAt, ticket.PostedAt)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), ticket.ProcessedAt)
	assert.Nil(t, ticket.ClosedAt)

	assert.Equal(t, []string{"cat-billing"}, repo.links[id])
	assert.Len(t, repo.insights[id], 1)
}

func TestStore_ReplacesLinksAndInsights(t *testing.T) {
	repo := newFakeRepo("Billing", "Login", "Performance")
	event, src, parsed := fixture()
	e := newTestEngine(repo)

	first, err := e.Store(context.Background(), event, src, parsed, analysisWith("Billing", "Login"))
	require.NoError(t, err)

	second := analysisWith("Performance")
	second.Insights = []models.Insight{{Text: "slow dashboard", Type: "pain_point"}, {Text: "timeouts", Type: "bug_report"}}
	id, err := e.Store(context.Background(), event, src, parsed, second)
	require.NoError(t, err)

	assert.Equal(t, first, id)
	assert.Equal(t, []string{"cat-performance"}, repo.links[id])
	assert.Equal(t, second.Insights, repo.insights[id])
	assert.Len(t, repo.tickets, 1)
}

func TestStore_EmptyClassificationClearsLinks(t *testing.T) {
	repo := newFakeRepo("Billing")
	event, src, parsed := fixture()
	e := newTestEngine(repo)

	id, err := e.Store(context.Background(), event, src, parsed, analysisWith("Billing"))
	require.NoError(t, err)

	empty := analysisWith()
	empty.Insights = nil
	_, err = e.Store(context.Background(), event, src, parsed, empty)
	require.NoError(t, err)

	assert.Empty(t, repo.links[id])
	assert.Empty(t, repo.insights[id])
}

func TestStore_ProposedCategoryIsLinkable(t *testing.T) {
	repo := newFakeRepo("Billing")
	event, src, parsed := fixture()

	a := analysisWith("Billing", "Webhooks")
	a.NewCategory = &models.CategoryProposal{Name: "Webhooks", Description: "Delivery failures"}

	id, err := newTestEngine(repo).Store(context.Background(), event, src, parsed, a)
	require.NoError(t, err)

	links := append([]string(nil), repo.links[id]...)
	sort.Strings(links)
	assert.Equal(t, []string{"cat-billing", "cat-webhooks"}, links)
	assert.True(t, repo.categories[1].AutoCreated)
}

func TestStore_UnknownCategoriesDropped(t *testing.T) {
	repo := newFakeRepo("Billing")
	event, src, parsed := fixture()

	id, err := newTestEngine(repo).Store(context.Background(), event, src, parsed, analysisWith("Nonexistent", "BILLING", "billing"))
	require.NoError(t, err)
	assert.Equal(t, []string{"cat-billing"}, repo.links[id])
}

func TestStore_TicketFailureIsFatal(t *testing.T) {
	repo := newFakeRepo("Billing")
	repo.failUpsert = true
	event, src, parsed := fixture()

	_, err := newTestEngine(repo).Store(context.Background(), event, src, parsed, analysisWith("Billing"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Empty(t, repo.links)
	assert.Empty(t, repo.insights)
}

func TestStore_SecondaryFailuresAreRecovered(t *testing.T) {
	tests := []struct {
		name         string
		breakRepo    func(*fakeRepo)
		wantLinks    bool
		wantInsights bool
	}{
		{"category insert", func(r *fakeRepo) { r.failCategory = true }, true, true},
		{"list categories", func(r *fakeRepo) { r.failList = true }, false, true},
		{"delete links", func(r *fakeRepo) { r.failDeleteLinks = true }, false, true},
		{"insert links", func(r *fakeRepo) { r.failInsertLinks = true }, false, true},
		{"delete insights", func(r *fakeRepo) { r.failDeleteInsights = true }, true, false},
		{"insert insights", func(r *fakeRepo) { r.failInsertInsights = true }, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo("Billing")
			tt.breakRepo(repo)
			event, src, parsed := fixture()

			a := analysisWith("Billing")
			a.NewCategory = &models.CategoryProposal{Name: "Exports"}

			id, err := newTestEngine(repo).Store(context.Background(), event, src, parsed, a)
			require.NoError(t, err)
			require.NotEmpty(t, id)
			assert.Contains(t, repo.tickets, "evt-1")
			assert.Equal(t, tt.wantLinks, len(repo.links[id]) > 0)
			assert.Equal(t, tt.wantInsights, len(repo.insights[id]) > 0)
		})
	}
}

func TestResolveCategoryIDs(t *testing.T) {
	vocab := []models.Category{{ID: "1", Name: "Billing"}, {ID: "2", Name: " Login "}}
	assert.Equal(t, []string{"2", "1"}, ResolveCategoryIDs([]string{"login", "Other", "BILLING", "billing"}, vocab))
	assert.Equal(t, []string{}, ResolveCategoryIDs(nil, vocab))
}
