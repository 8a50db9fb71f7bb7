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

// Package parser converts raw transcript bytes into a models.ParsedTranscript.
//
// Transcripts come from several transcript-generating tools with no shared
// contract, so parsing is an ordered dispatch over a closed set of
// strategies:
//
//  1. structured payload: a base64-encoded JSON message array assigned to a
//     script variable (Ticket Tool exports)
//  2. markup document: rendered HTML with recognisable message elements
//  3. plain fallback: the visible text of whatever was received
//
// Parse is total. Malformed input degrades to a weaker strategy and never
// produces an error.
package parser

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/tixsight/ingestion/internal/models"
)

// Parse detects the transcript format and returns the normalised transcript.
func Parse(raw string) (parsed models.ParsedTranscript) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("transcript parser recovered from panic, using stripped text",
				"panic", r,
				"raw_len", len(raw),
			)
			parsed = finalize(parseStripped(raw))
		}
	}()

	if pt, ok := parseStructuredPayload(raw); ok {
		return finalize(pt)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		slog.Debug("transcript is not parseable markup", "error", err)
		return finalize(parseStripped(raw))
	}
	doc.Find("script, style, noscript").Remove()

	pt, ok := parseMarkupDocument(doc)
	if !ok {
		pt = parsePlainFallback(doc)
	}
	pt.OpenedAt, pt.ClosedAt = scanTimestamps(doc)

	return finalize(pt)
}

// finalize enforces the ParsedTranscript invariants.
func finalize(pt models.ParsedTranscript) models.ParsedTranscript {
	pt.RawText = truncateRunes(storableText(pt.RawText), models.MaxRawTextRunes)
	if pt.MessageCount < 1 {
		pt.MessageCount = 1
	}
	if pt.ParticipantCount < 1 {
		pt.ParticipantCount = 1
	}
	if pt.AuthorMessageCounts == nil {
		pt.AuthorMessageCounts = map[string]int{}
	}
	for name, n := range pt.AuthorMessageCounts {
		if clean := storableText(name); clean != name {
			delete(pt.AuthorMessageCounts, name)
			pt.AuthorMessageCounts[clean] += n
		}
	}
	return pt
}

// storableText replaces invalid UTF-8 and drops NUL bytes; text columns
// reject both.
func storableText(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// truncateRunes cuts s to at most n runes without splitting a code point.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

var (
	scriptBlock = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	anyTag      = regexp.MustCompile(`<[^>]+>`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// parseStripped is the last-resort path used when no DOM could be built.
func parseStripped(raw string) models.ParsedTranscript {
	text := scriptBlock.ReplaceAllString(raw, " ")
	text = anyTag.ReplaceAllString(text, "\n")

	return models.ParsedTranscript{
		RawText:      collapseWhitespace(text),
		MessageCount: countNonEmptyLines(text),
		Format:       models.FormatPlainFallback,
	}
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

func countNonEmptyLines(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}
