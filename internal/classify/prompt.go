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

package classify

import (
	"strings"

	"github.com/tixsight/ingestion/internal/models"
)

// MaxTranscriptRunes caps the transcript text sent to the classifier.
const MaxTranscriptRunes = 30_000

const promptPreamble = "You are reviewing a customer support ticket transcript. Categorise it, summarise it and extract product insights."

const promptInstructions = `## Instructions
1. Choose 1-2 categories from the list above. If none fits, propose exactly one NEW category (2-4 words) and include its name in "categories" as well.
2. Summarise the issue in 1-2 sentences.
3. Rate severity as one of: low, medium, high, critical.
4. Decide whether the issue was resolved within the transcript.
5. Rate the user's sentiment as one of: positive, neutral, negative, frustrated.
6. List product insights (feature requests, pain points, UX issues, bug reports), or none.

## Response Format
Reply with a single JSON object and nothing else. No prose, no markdown fences.
{
  "categories": ["Category Name"],
  "new_category": null,
  "summary": "Short summary of the ticket",
  "severity": "low|medium|high|critical",
  "resolved": true,
  "sentiment": "positive|neutral|negative|frustrated",
  "insights": [
    {"text": "Description of the insight", "type": "feature_request|pain_point|ux_issue|bug_report|general"}
  ]
}
When proposing a category set "new_category" to {"name": "Category Name", "description": "One line description"}.`

// BuildPrompt renders the classification prompt for a transcript.
func BuildPrompt(text string, vocabulary []models.Category) string {
	var b strings.Builder

	b.WriteString(promptPreamble)
	b.WriteString("\n\n## Existing Categories\n")
	if len(vocabulary) == 0 {
		b.WriteString("(none yet)\n")
	}
	for _, c := range vocabulary {
		b.WriteString("- ")
		b.WriteString(c.Name)
		if c.Description != nil && strings.TrimSpace(*c.Description) != "" {
			b.WriteString(": ")
			b.WriteString(strings.TrimSpace(*c.Description))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(promptInstructions)
	b.WriteString("\n\n## Transcript\n")
	b.WriteString(truncateRunes(text, MaxTranscriptRunes))

	return b.String()
}

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
