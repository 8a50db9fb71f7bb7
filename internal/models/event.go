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

// Package models defines the data structures shared across the ingestion service.
package models

import "time"

// Attachment is a file attached to a source event.
type Attachment struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}

// Embed is a link preview attached to a source event.
type Embed struct {
	URL string `json:"url,omitempty"`
}

// SourceEvent is one transcript-posting occurrence delivered by the chat
// platform. It is immutable once received.
type SourceEvent struct {
	ID             string       `json:"id"`
	ChannelID      string       `json:"channel_id,omitempty"`
	Text           string       `json:"text"`
	Attachments    []Attachment `json:"attachments"`
	Embeds         []Embed      `json:"embeds"`
	CreatedAt      time.Time    `json:"created_at"`
	AuthorName     string       `json:"author_name,omitempty"`
	AuthorIsSystem bool         `json:"author_is_system"`
}

// Origin records where a transcript was found.
type Origin string

const (
	OriginAttachment Origin = "attachment"
	OriginInlineURL  Origin = "inline_url"
	OriginEmbedURL   Origin = "embed_url"
)

// TranscriptSource is the raw transcript acquired for one ingestion attempt.
type TranscriptSource struct {
	URL    string
	Raw    string
	Origin Origin
}
