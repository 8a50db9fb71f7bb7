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

package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tixsight/ingestion/internal/models"
)

type capturePublisher struct {
	events []*models.SourceEvent
	err    error
}

func (c *capturePublisher) Publish(_ context.Context, e *models.SourceEvent) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, e)
	return nil
}

const messageBody = `{
	"id": "1200",
	"channel_id": "42",
	"content": "Transcript for ticket-0042",
	"timestamp": "2026-05-01T12:00:00+00:00",
	"author": {"id": "8", "username": "alice"},
	"attachments": [{"id": "9", "filename": "transcript.html", "url": "https://cdn.discordapp.com/a/b/transcript.html"}],
	"embeds": []
}`

func post(h *Handler, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeEvents(rr, req)
	return rr
}

// TestServeEvents_Queues verifies a valid message is converted and queued.
func TestServeEvents_Queues(t *testing.T) {
	pub := &capturePublisher{}
	h := NewHandler(pub, "", "")

	rr := post(h, messageBody, nil)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusAccepted)
	}
	if len(pub.events) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.events))
	}
	e := pub.events[0]
	if e.ID != "1200" || e.ChannelID != "42" {
		t.Errorf("event = %+v", e)
	}
	if len(e.Attachments) != 1 || e.Attachments[0].Name != "transcript.html" {
		t.Errorf("attachments = %+v", e.Attachments)
	}
	if !strings.Contains(rr.Body.String(), `"event_id":"1200"`) {
		t.Errorf("body = %q", rr.Body.String())
	}
}

// TestServeEvents_Secret verifies the shared-secret check.
func TestServeEvents_Secret(t *testing.T) {
	pub := &capturePublisher{}
	h := NewHandler(pub, "s3cret", "")

	if rr := post(h, messageBody, nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("missing secret: status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
	if rr := post(h, messageBody, map[string]string{SecretHeader: "wrong"}); rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
	if rr := post(h, messageBody, map[string]string{SecretHeader: "s3cret"}); rr.Code != http.StatusAccepted {
		t.Errorf("good secret: status = %d, want %d", rr.Code, http.StatusAccepted)
	}
	if len(pub.events) != 1 {
		t.Errorf("published %d events, want 1", len(pub.events))
	}
}

// TestServeEvents_OtherChannelIgnored verifies only the transcript channel
// is queued when one is configured.
func TestServeEvents_OtherChannelIgnored(t *testing.T) {
	pub := &capturePublisher{}
	h := NewHandler(pub, "", "77")

	rr := post(h, messageBody, nil)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusAccepted)
	}
	if len(pub.events) != 0 {
		t.Errorf("published %d events, want 0", len(pub.events))
	}
	if !strings.Contains(rr.Body.String(), `"status":"ignored"`) {
		t.Errorf("body = %q", rr.Body.String())
	}

	h = NewHandler(pub, "", "42")
	if rr := post(h, messageBody, nil); rr.Code != http.StatusAccepted {
		t.Errorf("matching channel: status = %d, want %d", rr.Code, http.StatusAccepted)
	}
	if len(pub.events) != 1 {
		t.Errorf("matching channel: published %d events, want 1", len(pub.events))
	}
}

// TestServeEvents_BadRequests verifies malformed payloads are rejected.
func TestServeEvents_BadRequests(t *testing.T) {
	h := NewHandler(&capturePublisher{}, "", "")

	for name, body := range map[string]string{
		"not json":   "not json",
		"missing id": `{"content":"hi"}`,
	} {
		if rr := post(h, body, nil); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", name, rr.Code, http.StatusBadRequest)
		}
	}
}

// TestServeEvents_NonPost verifies only POST is accepted.
func TestServeEvents_NonPost(t *testing.T) {
	h := NewHandler(&capturePublisher{}, "", "")

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	rr := httptest.NewRecorder()
	h.ServeEvents(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
}

// TestServeEvents_QueueDown verifies the sender is asked to retry.
func TestServeEvents_QueueDown(t *testing.T) {
	h := NewHandler(&capturePublisher{err: errors.New("redis down")}, "", "")

	if rr := post(h, messageBody, nil); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

// TestHealthHandler verifies dependency checks.
func TestHealthHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	rr := httptest.NewRecorder()
	HealthHandler(map[string]Check{"redis": ok, "store": ok})(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("healthy: status = %d, want %d", rr.Code, http.StatusOK)
	}

	rr = httptest.NewRecorder()
	HealthHandler(map[string]Check{"redis": ok, "store": down})(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy: status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
	if !strings.Contains(rr.Body.String(), "store unhealthy") {
		t.Errorf("body = %q", rr.Body.String())
	}
}
