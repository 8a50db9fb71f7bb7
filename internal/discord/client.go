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

// Package discord implements the small slice of the Discord REST API the
// ingestion service needs: paging a channel's message history and turning
// a message into a source event.
//
// API docs: https://discord.com/developers/docs/resources/message
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
)

const (
	// DefaultBaseURL is the root of the Discord REST API.
	DefaultBaseURL = "https://discord.com/api/v10"
	// MaxPageSize is the largest page the messages endpoint returns.
	MaxPageSize = 100
)

// Client talks to the Discord REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a Discord client. The httpClient must already attach
// the bot authorization header; see NewBotHTTPClient.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// NewBotHTTPClient returns an HTTP client that sends "Authorization: Bot
// <token>" on every request.
func NewBotHTTPClient(ctx context.Context, token string) *http.Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bot",
	})
	return oauth2.NewClient(ctx, src)
}

// PageOptions selects a window of channel history. Before and After are
// message ids (snowflakes); at most one should be set.
type PageOptions struct {
	Limit  int
	Before string
	After  string
}

// ListMessages returns one page of channel messages, newest first, as the
// API orders them.
func (c *Client) ListMessages(ctx context.Context, channelID string, opts PageOptions) ([]Message, error) {
	limit := opts.Limit
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if opts.Before != "" {
		q.Set("before", opts.Before)
	}
	if opts.After != "" {
		q.Set("after", opts.After)
	}
	u := fmt.Sprintf("%s/channels/%s/messages?%s", c.baseURL, url.PathEscape(channelID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("list messages failed (HTTP %d): %s", resp.StatusCode, string(body))
	}

	var messages []Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return messages, nil
}
