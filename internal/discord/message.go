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

package discord

import (
	"time"

	"github.com/tixsight/ingestion/internal/models"
)

// Message is a channel message as returned by the REST API and by the
// gateway MESSAGE_CREATE event.
type Message struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channel_id"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	Author      Author       `json:"author"`
	WebhookID   string       `json:"webhook_id,omitempty"`
	Attachments []Attachment `json:"attachments"`
	Embeds      []Embed      `json:"embeds"`
}

// Author identifies who posted a message.
type Author struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name,omitempty"`
	Bot        bool   `json:"bot,omitempty"`
	System     bool   `json:"system,omitempty"`
}

// Attachment is a file uploaded with a message.
type Attachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// Embed is a link preview attached to a message.
type Embed struct {
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

// ToSourceEvent converts the message into the pipeline's input shape.
func (m Message) ToSourceEvent() *models.SourceEvent {
	event := &models.SourceEvent{
		ID:             m.ID,
		ChannelID:      m.ChannelID,
		Text:           m.Content,
		CreatedAt:      m.Timestamp.UTC(),
		AuthorName:     m.Author.displayName(),
		AuthorIsSystem: m.Author.Bot || m.Author.System,
		Attachments:    make([]models.Attachment, 0, len(m.Attachments)),
		Embeds:         make([]models.Embed, 0, len(m.Embeds)),
	}
	for _, a := range m.Attachments {
		event.Attachments = append(event.Attachments, models.Attachment{
			Name:        a.Filename,
			URL:         a.URL,
			ContentType: a.ContentType,
		})
	}
	for _, e := range m.Embeds {
		if e.URL != "" {
			event.Embeds = append(event.Embeds, models.Embed{URL: e.URL})
		}
	}
	return event
}

func (a Author) displayName() string {
	if a.GlobalName != "" {
		return a.GlobalName
	}
	return a.Username
}

// SnowflakeLess orders message ids by creation time. Snowflakes are decimal
// integers, so a shorter id is always older.
func SnowflakeLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
