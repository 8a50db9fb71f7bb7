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

// Package webhook accepts live source events over HTTP. A relay subscribed
// to the chat platform's gateway POSTs each new message in the transcript
// channel; the handler validates it and enqueues it for the pipeline
// workers, so the sender is never blocked on fetch or classification.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tixsight/ingestion/internal/discord"
	"github.com/tixsight/ingestion/internal/models"
)

const (
	// SecretHeader carries the shared secret when one is configured.
	SecretHeader = "X-Ingest-Secret"

	maxBodyBytes = 1 << 20
)

// Publisher enqueues events for processing.
type Publisher interface {
	Publish(ctx context.Context, event *models.SourceEvent) error
}

// Handler turns posted chat messages into queued source events.
type Handler struct {
	publisher Publisher
	secret    string
	channelID string
}

// NewHandler creates an event handler. An empty secret disables the
// shared-secret check; an empty channelID accepts messages from any channel.
func NewHandler(publisher Publisher, secret, channelID string) *Handler {
	return &Handler{publisher: publisher, secret: secret, channelID: channelID}
}

// ServeEvents handles POST /events.
//
//   - The body is a single chat message object
//   - We respond 202 Accepted once it is queued
//   - Messages from other channels are acknowledged with 202 and dropped
//   - 503 asks the sender to retry when the queue is unavailable
func (h *Handler) ServeEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.secret != "" {
		got := r.Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			slog.Warn("rejected event with bad secret", "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		slog.Error("failed to read event body", "error", err)
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	var msg discord.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		slog.Info("event body not valid JSON", "body_len", len(body))
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if msg.ID == "" {
		http.Error(w, "message id is required", http.StatusBadRequest)
		return
	}
	if h.channelID != "" && msg.ChannelID != h.channelID {
		slog.Debug("ignoring message from another channel",
			"event_id", msg.ID,
			"channel_id", msg.ChannelID,
		)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "ignored", "event_id": msg.ID})
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	event := msg.ToSourceEvent()
	if err := h.publisher.Publish(r.Context(), event); err != nil {
		slog.Error("publish failed", "event_id", event.ID, "error", err)
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "queued", "event_id": event.ID})
}

// Serve starts the webhook HTTP server on the given port.
// It binds the port immediately and signals readiness via the returned channel
// before starting to accept connections. The server stops when ctx is done.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", handler.ServeEvents)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind webhook port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	go func() {
		slog.Info("webhook server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("webhook server error", "error", err)
		}
	}()

	return ready, nil
}
