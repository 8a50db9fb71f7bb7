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

package pipeline

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tixsight/ingestion/internal/models"
)

// participantLine matches summary lines such as "39 - @Chief - chief#0".
var participantLine = regexp.MustCompile(`^\s*(\d+)\s*-\s*@(.+?)\s*-`)

// Participant is one entry of a ticket bot's participant summary.
type Participant struct {
	Name  string
	Count int
}

// ParseParticipants extracts the participant summary from a posting's text.
func ParseParticipants(text string) []Participant {
	var out []Participant
	for _, line := range strings.Split(text, "\n") {
		m := participantLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, Participant{Name: strings.TrimSpace(m[2]), Count: n})
	}
	return out
}

// OnlySupportBot reports whether a non-empty summary lists nobody but the
// support bot.
func OnlySupportBot(participants []Participant, botName string) bool {
	botName = strings.ToLower(strings.TrimSpace(botName))
	if botName == "" || len(participants) == 0 {
		return false
	}
	for _, p := range participants {
		if !strings.Contains(strings.ToLower(p.Name), botName) {
			return false
		}
	}
	return true
}

// ApplyParticipants overrides parser-derived counts with the summary, which
// is authoritative when present.
func ApplyParticipants(parsed *models.ParsedTranscript, participants []Participant) {
	if len(participants) == 0 {
		return
	}
	counts := make(map[string]int, len(participants))
	total := 0
	for _, p := range participants {
		counts[p.Name] += p.Count
		total += p.Count
	}
	parsed.ParticipantCount = len(counts)
	parsed.MessageCount = max(total, 1)
	parsed.AuthorMessageCounts = counts
}
