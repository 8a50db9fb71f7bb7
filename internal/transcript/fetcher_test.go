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

package transcript

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tixsight/ingestion/internal/models"
)

// hitCounter records requests per path.
type hitCounter struct {
	mu   sync.Mutex
	hits map[string]int
}

func (h *hitCounter) inc(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hits == nil {
		h.hits = make(map[string]int)
	}
	h.hits[path]++
	return h.hits[path]
}

func (h *hitCounter) get(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits[path]
}

func newTestFetcher(client *http.Client) *Fetcher {
	return NewFetcher(FetcherConfig{
		HTTPClient: client,
		Timeout:    2 * time.Second,
		Backoff:    time.Millisecond,
	})
}

// TestFetch_AttachmentWinsOverInlineURL verifies candidate priority.
func TestFetch_AttachmentWinsOverInlineURL(t *testing.T) {
	var hits hitCounter
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.inc(r.URL.Path)
		w.Write([]byte("<html>transcript for " + r.URL.Path + "</html>"))
	}))
	defer server.Close()

	event := &models.SourceEvent{
		ID:   "evt-1",
		Text: "Ticket closed, see " + server.URL + "/inline/transcript-42.html",
		Attachments: []models.Attachment{
			{Name: "transcript-42.html", URL: server.URL + "/attachments/transcript-42.html"},
		},
	}

	src, err := newTestFetcher(server.Client()).Fetch(context.Background(), event)
	require.NoError(t, err)
	require.NotNil(t, src)

	assert.Equal(t, models.OriginAttachment, src.Origin)
	assert.Equal(t, server.URL+"/attachments/transcript-42.html", src.URL)
	assert.Equal(t, 1, hits.get("/attachments/transcript-42.html"))
	assert.Equal(t, 0, hits.get("/inline/transcript-42.html"), "inline URL must never be requested")
}

// TestFetch_RetriesThenSucceeds verifies a transient failure is retried.
func TestFetch_RetriesThenSucceeds(t *testing.T) {
	var hits hitCounter
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.inc(r.URL.Path) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer server.Close()

	event := &models.SourceEvent{
		ID:          "evt-2",
		Attachments: []models.Attachment{{Name: "log.htm", URL: server.URL + "/a.htm"}},
	}

	src, err := newTestFetcher(server.Client()).Fetch(context.Background(), event)
	require.NoError(t, err)
	require.NotNil(t, src)
	assert.Equal(t, "<html><body>ok</body></html>", src.Raw)
	assert.Equal(t, 2, hits.get("/a.htm"))
}

// TestFetch_RetryBudgetExhausted verifies three failures yield nothing and no
// fourth attempt is made.
func TestFetch_RetryBudgetExhausted(t *testing.T) {
	var hits hitCounter
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.inc(r.URL.Path)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	event := &models.SourceEvent{
		ID:          "evt-3",
		Attachments: []models.Attachment{{Name: "transcript.html", URL: server.URL + "/t.html"}},
	}

	src, err := newTestFetcher(server.Client()).Fetch(context.Background(), event)
	require.NoError(t, err)
	assert.Nil(t, src)
	assert.Equal(t, 1+DefaultRetries, hits.get("/t.html"))
}

// TestFetch_NetworkFailureRetried verifies dropped connections count as
// retryable failures.
func TestFetch_NetworkFailureRetried(t *testing.T) {
	var hits hitCounter
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.inc(r.URL.Path) == 1 {
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		w.Write([]byte("<p>recovered</p>"))
	}))
	defer server.Close()

	event := &models.SourceEvent{
		ID:          "evt-4",
		Attachments: []models.Attachment{{Name: "x.html", URL: server.URL + "/x.html"}},
	}

	src, err := newTestFetcher(server.Client()).Fetch(context.Background(), event)
	require.NoError(t, err)
	require.NotNil(t, src)
	assert.Equal(t, "<p>recovered</p>", src.Raw)
}

// TestFetch_LinkedPageNeedsMarkup verifies placeholder pages are skipped and
// the embed candidate is used instead.
func TestFetch_LinkedPageNeedsMarkup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/inline/transcript":
			w.Write([]byte("Redirecting..."))
		case "/embed/ticket-9":
			w.Write([]byte("<div class='message'>hi</div>"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	event := &models.SourceEvent{
		ID:     "evt-5",
		Text:   "links: https://example.com/unrelated " + server.URL + "/inline/transcript",
		Embeds: []models.Embed{{URL: server.URL + "/embed/ticket-9"}},
	}

	src, err := newTestFetcher(server.Client()).Fetch(context.Background(), event)
	require.NoError(t, err)
	require.NotNil(t, src)
	assert.Equal(t, models.OriginEmbedURL, src.Origin)
	assert.Equal(t, server.URL+"/embed/ticket-9", src.URL)
}

// TestFetch_SendsBrowserHeaders verifies the request headers.
func TestFetch_SendsBrowserHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "Mozilla/5.0") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if !strings.Contains(r.Header.Get("Accept"), "text/html") {
			w.WriteHeader(http.StatusNotAcceptable)
			return
		}
		w.Write([]byte("<html></html>"))
	}))
	defer server.Close()

	event := &models.SourceEvent{
		ID:          "evt-6",
		Attachments: []models.Attachment{{Name: "export", ContentType: "text/html; charset=utf-8", URL: server.URL + "/export"}},
	}

	src, err := newTestFetcher(server.Client()).Fetch(context.Background(), event)
	require.NoError(t, err)
	require.NotNil(t, src)
}

// TestFetch_NoCandidates verifies events without transcript references.
func TestFetch_NoCandidates(t *testing.T) {
	event := &models.SourceEvent{
		ID:          "evt-7",
		Text:        "just chatting, see https://example.com/pricing",
		Attachments: []models.Attachment{{Name: "screenshot.png", ContentType: "image/png", URL: "https://example.com/s.png"}},
	}

	src, err := newTestFetcher(http.DefaultClient).Fetch(context.Background(), event)
	require.NoError(t, err)
	assert.Nil(t, src)
}

// TestFetch_CancelledContext verifies cancellation is surfaced.
func TestFetch_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	event := &models.SourceEvent{
		ID:          "evt-8",
		Attachments: []models.Attachment{{Name: "t.html", URL: server.URL + "/t.html"}},
	}

	_, err := newTestFetcher(server.Client()).Fetch(ctx, event)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLooksLikeTranscript(t *testing.T) {
	f := NewFetcher(FetcherConfig{})

	tests := []struct {
		url  string
		want bool
	}{
		{"https://tickettool.xyz/transcript/abc", true},
		{"https://example.com/Ticket-123", true},
		{"https://example.com/export.html", true},
		{"https://cdn.discordapp.com/attachments/1/2/file", true},
		{"https://example.com/pricing", false},
		{"https://cdn.example.com/file.png", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, f.looksLikeTranscript(tt.url))
		})
	}
}
