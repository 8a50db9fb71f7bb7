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
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tixsight/ingestion/internal/models"
)

// payloadMarker finds the base64 message array a Ticket Tool export assigns
// inside its embedded script.
var payloadMarker = regexp.MustCompile(`(?:let|var|const)\s+messages\s*=\s*["']([^"']+)["']`)

const unknownAuthor = "Unknown"

// parseStructuredPayload decodes the embedded message array. It reports false
// when there is no marker or the payload cannot be decoded, so that the caller
// falls through to markup parsing.
func parseStructuredPayload(raw string) (models.ParsedTranscript, bool) {
	m := payloadMarker.FindStringSubmatch(raw)
	if m == nil {
		return models.ParsedTranscript{}, false
	}

	data, err := decodeBase64(m[1])
	if err != nil {
		return models.ParsedTranscript{}, false
	}
	if !utf8.Valid(data) {
		data = bytes.ToValidUTF8(data, []byte("\uFFFD"))
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return models.ParsedTranscript{}, false
	}

	participants := make(map[string]struct{})
	counts := make(map[string]int)
	lines := make([]string, 0, len(items))
	var timestamps []int64

	for _, item := range items {
		dec := json.NewDecoder(bytes.NewReader(item))
		dec.UseNumber()

		var msg map[string]any
		if err := dec.Decode(&msg); err != nil || msg == nil {
			continue
		}

		author := firstNonEmpty(stringField(msg, "nick"), stringField(msg, "username"), unknownAuthor)
		participants[author] = struct{}{}
		counts[author]++

		if content := stringField(msg, "content"); content != "" {
			lines = append(lines, author+": "+content)
		}
		if created, ok := epochMillisField(msg, "created"); ok {
			timestamps = append(timestamps, created)
		}
	}

	pt := models.ParsedTranscript{
		RawText:             strings.Join(lines, "\n"),
		MessageCount:        len(items),
		ParticipantCount:    len(participants),
		AuthorMessageCounts: counts,
		Format:              models.FormatStructuredPayload,
	}

	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })
	if len(timestamps) > 0 {
		opened := time.UnixMilli(timestamps[0]).UTC()
		pt.OpenedAt = &opened
	}
	if len(timestamps) > 1 {
		closed := time.UnixMilli(timestamps[len(timestamps)-1]).UTC()
		pt.ClosedAt = &closed
	}

	return pt, true
}

// decodeBase64 accepts padded, unpadded and URL-safe encodings.
func decodeBase64(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if data, err := enc.DecodeString(s); err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("payload is not base64")
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

// epochMillisField reads a positive epoch-millisecond value that may be
// encoded as a JSON number or a numeric string.
func epochMillisField(m map[string]any, key string) (int64, bool) {
	var raw string
	switch v := m[key].(type) {
	case json.Number:
		raw = v.String()
	case string:
		raw = strings.TrimSpace(v)
	default:
		return 0, false
	}

	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n, n > 0
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && f > 0 {
		return int64(f), true
	}
	return 0, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
