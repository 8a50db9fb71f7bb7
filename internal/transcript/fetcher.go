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

// Package transcript locates and downloads the raw transcript referenced by a
// source event. Candidates are tried in a fixed priority order (attachments,
// inline URLs, embed URLs) and each download is retried with linear backoff.
package transcript

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/tixsight/ingestion/internal/models"
)

const (
	// DefaultTimeout bounds a single download attempt.
	DefaultTimeout = 15 * time.Second
	// DefaultRetries is the number of retries after the first attempt.
	DefaultRetries = 2
	// DefaultBackoff is the base of the linear backoff (1s, 2s, ...).
	DefaultBackoff = time.Second

	// maxBodyBytes caps a downloaded transcript.
	maxBodyBytes = 25 << 20

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	accept    = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
)

// DefaultCDNHosts are hosts whose URLs are assumed to carry transcripts.
var DefaultCDNHosts = []string{"cdn.discordapp.com"}

var (
	urlPattern        = regexp.MustCompile(`https?://[^\s<>]+`)
	transcriptMarkers = []string{"transcript", "ticket", "tickettool"}
)

// Fetcher retrieves transcript bytes for a source event.
type Fetcher struct {
	httpClient *http.Client
	timeout    time.Duration
	retries    int
	backoff    time.Duration
	cdnHosts   []string
}

// FetcherConfig holds the tunables for a Fetcher. Zero values select the
// defaults; a negative Retries disables retrying.
type FetcherConfig struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Retries    int
	Backoff    time.Duration
	CDNHosts   []string
}

// NewFetcher creates a transcript fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	f := &Fetcher{
		httpClient: cfg.HTTPClient,
		timeout:    cfg.Timeout,
		retries:    cfg.Retries,
		backoff:    cfg.Backoff,
		cdnHosts:   cfg.CDNHosts,
	}
	if f.httpClient == nil {
		f.httpClient = &http.Client{}
	}
	if f.timeout <= 0 {
		f.timeout = DefaultTimeout
	}
	if f.retries == 0 {
		f.retries = DefaultRetries
	} else if f.retries < 0 {
		f.retries = 0
	}
	if f.backoff <= 0 {
		f.backoff = DefaultBackoff
	}
	if len(f.cdnHosts) == 0 {
		f.cdnHosts = DefaultCDNHosts
	}
	return f
}

// candidate is one location a transcript may be downloaded from.
type candidate struct {
	url    string
	origin models.Origin
}

// Fetch returns the first transcript that can be downloaded for the event.
// It returns (nil, nil) when every candidate is exhausted; the only error
// returned is cancellation of ctx.
func (f *Fetcher) Fetch(ctx context.Context, event *models.SourceEvent) (*models.TranscriptSource, error) {
	tried := make(map[string]bool)

	for _, c := range f.candidates(event) {
		if tried[c.url] {
			continue
		}
		tried[c.url] = true

		slog.Info("trying transcript candidate",
			"event_id", event.ID,
			"origin", c.origin,
			"url", c.url,
		)

		body, err := f.download(ctx, c.url)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("transcript candidate failed",
				"event_id", event.ID,
				"url", c.url,
				"error", err,
			)
			continue
		}

		if !acceptable(body, c.origin) {
			slog.Warn("transcript candidate rejected",
				"event_id", event.ID,
				"url", c.url,
				"bytes", len(body),
			)
			continue
		}

		return &models.TranscriptSource{URL: c.url, Raw: body, Origin: c.origin}, nil
	}

	return nil, nil
}

// candidates lists download locations in priority order.
func (f *Fetcher) candidates(event *models.SourceEvent) []candidate {
	var out []candidate

	for _, a := range event.Attachments {
		if a.URL != "" && isMarkupAttachment(a) {
			out = append(out, candidate{url: a.URL, origin: models.OriginAttachment})
		}
	}

	for _, u := range urlPattern.FindAllString(event.Text, -1) {
		if f.looksLikeTranscript(u) {
			out = append(out, candidate{url: u, origin: models.OriginInlineURL})
		}
	}

	for _, e := range event.Embeds {
		if e.URL != "" && f.looksLikeTranscript(e.URL) {
			out = append(out, candidate{url: e.URL, origin: models.OriginEmbedURL})
		}
	}

	return out
}

func isMarkupAttachment(a models.Attachment) bool {
	name := strings.ToLower(a.Name)
	if strings.HasSuffix(name, ".html") || strings.HasSuffix(name, ".htm") {
		return true
	}
	return strings.Contains(strings.ToLower(a.ContentType), "text/html")
}

// looksLikeTranscript filters inline and embed URLs before any request is made.
func (f *Fetcher) looksLikeTranscript(raw string) bool {
	lower := strings.ToLower(raw)
	for _, marker := range transcriptMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}

	u, err := url.Parse(lower)
	if err != nil {
		return strings.HasSuffix(lower, ".html")
	}
	if strings.HasSuffix(u.Path, ".html") || strings.HasSuffix(lower, ".html") {
		return true
	}
	for _, host := range f.cdnHosts {
		if strings.EqualFold(u.Hostname(), host) {
			return true
		}
	}
	return false
}

// acceptable applies the cheap sanity checks on a downloaded body. Linked
// pages must contain markup so that redirect or placeholder text pages are
// skipped; attachments only need to be non-empty.
func acceptable(body string, origin models.Origin) bool {
	if strings.TrimSpace(body) == "" {
		return false
	}
	if origin == models.OriginAttachment {
		return true
	}
	return strings.Contains(body, "<")
}

// download performs the GET with retries and linear backoff.
func (f *Fetcher) download(ctx context.Context, rawURL string) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * f.backoff
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := f.get(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		lastErr = err

		slog.Debug("transcript download attempt failed",
			"url", rawURL,
			"attempt", attempt+1,
			"error", err,
		)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	return "", fmt.Errorf("download %s after %d attempts: %w", rawURL, f.retries+1, lastErr)
}

// get performs a single bounded download attempt.
func (f *Fetcher) get(ctx context.Context, rawURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch transcript: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("transcript host returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read transcript body: %w", err)
	}
	return string(body), nil
}
