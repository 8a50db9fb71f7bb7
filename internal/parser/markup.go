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

package parser

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"

	"github.com/tixsight/ingestion/internal/models"
)

// Selector variants seen across transcript exporters, most specific first.
const (
	messageGroupSelector = ".chatlog__message-group, .message-group, .message, .chat-message"
	authorSelector       = ".chatlog__author-name, .author-name, .username, .message-author"
	contentSelector      = ".chatlog__content, .message-content, .content, .message-text"
	markdownSelector     = ".chatlog__markdown, .markdown"
	stampSelector        = ".chatlog__timestamp, .timestamp, .message-timestamp"

	participantHintSelector = "[class*='author'], [class*='user'], [class*='name']"
	timestampScanSelector   = ".chatlog__timestamp, .timestamp, [class*='timestamp'], time, [data-timestamp]"
)

// maxParticipantNameRunes filters out text blocks that merely carry an
// author-ish class name.
const maxParticipantNameRunes = 50

type markupMessage struct {
	author    string
	content   string
	timestamp string
}

// parseMarkupDocument extracts message elements. It reports false when no
// element yields a non-empty body.
func parseMarkupDocument(doc *goquery.Document) (models.ParsedTranscript, bool) {
	var messages []markupMessage
	participants := make(map[string]struct{})
	counts := make(map[string]int)

	doc.Find(messageGroupSelector).Each(func(_ int, el *goquery.Selection) {
		author := firstNonEmpty(
			firstText(el, authorSelector),
			strings.TrimSpace(el.AttrOr("data-author", "")),
		)
		content := firstNonEmpty(
			firstText(el, contentSelector),
			firstText(el, markdownSelector),
		)
		timestamp := firstNonEmpty(
			firstText(el, stampSelector),
			strings.TrimSpace(el.AttrOr("data-timestamp", "")),
		)

		if author != "" {
			participants[author] = struct{}{}
		}
		if content == "" {
			return
		}
		if author != "" {
			counts[author]++
		}
		messages = append(messages, markupMessage{author: author, content: content, timestamp: timestamp})
	})

	if len(messages) == 0 {
		return models.ParsedTranscript{}, false
	}

	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		var b strings.Builder
		b.WriteString(m.author)
		if m.timestamp != "" {
			b.WriteString(" [")
			b.WriteString(m.timestamp)
			b.WriteString("]")
		}
		b.WriteString(": ")
		b.WriteString(m.content)
		lines = append(lines, b.String())
	}

	return models.ParsedTranscript{
		RawText:             strings.Join(lines, "\n"),
		MessageCount:        len(messages),
		ParticipantCount:    len(participants),
		AuthorMessageCounts: counts,
		Format:              models.FormatMarkupDocument,
	}, true
}

// parsePlainFallback summarises a document with no recognisable message
// structure from its visible text.
func parsePlainFallback(doc *goquery.Document) models.ParsedTranscript {
	text := doc.Find("body").Text()
	if strings.TrimSpace(text) == "" {
		text = doc.Text()
	}

	participants := make(map[string]struct{})
	doc.Find(participantHintSelector).Each(func(_ int, el *goquery.Selection) {
		name := strings.TrimSpace(el.Text())
		if name != "" && utf8.RuneCountInString(name) < maxParticipantNameRunes {
			participants[name] = struct{}{}
		}
	})

	return models.ParsedTranscript{
		RawText:          collapseWhitespace(text),
		MessageCount:     countNonEmptyLines(text),
		ParticipantCount: len(participants),
		Format:           models.FormatPlainFallback,
	}
}

// scanTimestamps returns the first parseable timestamp and, when at least two
// distinct instants were recovered, the last one.
func scanTimestamps(doc *goquery.Document) (opened, closed *time.Time) {
	var stamps []time.Time
	distinct := make(map[int64]struct{})

	doc.Find(timestampScanSelector).Each(func(_ int, el *goquery.Selection) {
		candidate := firstNonEmpty(
			strings.TrimSpace(el.AttrOr("datetime", "")),
			strings.TrimSpace(el.AttrOr("data-timestamp", "")),
			strings.TrimSpace(el.Text()),
		)
		if candidate == "" {
			return
		}
		if t, ok := parseTime(candidate); ok {
			stamps = append(stamps, t)
			distinct[t.UnixNano()] = struct{}{}
		}
	})

	if len(stamps) == 0 {
		return nil, nil
	}
	first := stamps[0]
	opened = &first
	if len(distinct) >= 2 {
		last := stamps[len(stamps)-1]
		closed = &last
	}
	return opened, closed
}

// Timestamps outside this window are treated as noise (e.g. a bare "5"
// parsed as a year).
var (
	earliestPlausible = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	latestPlausible   = time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC)
)

func parseTime(s string) (t time.Time, ok bool) {
	defer func() {
		if recover() != nil {
			t, ok = time.Time{}, false
		}
	}()

	parsed, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	parsed = parsed.UTC()
	if parsed.Before(earliestPlausible) || parsed.After(latestPlausible) {
		return time.Time{}, false
	}
	return parsed, true
}

func firstText(el *goquery.Selection, selector string) string {
	return strings.TrimSpace(el.Find(selector).First().Text())
}
