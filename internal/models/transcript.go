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

package models

import "time"

// MaxRawTextRunes caps ParsedTranscript.RawText.
const MaxRawTextRunes = 50_000

// Format identifies which parse strategy produced a ParsedTranscript.
type Format string

const (
	FormatStructuredPayload Format = "structured_payload"
	FormatMarkupDocument    Format = "markup_document"
	FormatPlainFallback     Format = "plain_fallback"
)

// ParsedTranscript is the normalised form of a transcript regardless of the
// tool that generated it. MessageCount and ParticipantCount are never zero.
type ParsedTranscript struct {
	RawText             string
	MessageCount        int
	ParticipantCount    int
	AuthorMessageCounts map[string]int
	OpenedAt            *time.Time
	ClosedAt            *time.Time
	Format              Format
}
