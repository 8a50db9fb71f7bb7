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

// Severity of a ticket as judged by the classifier.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Sentiment of the requesting user.
type Sentiment string

const (
	SentimentPositive   Sentiment = "positive"
	SentimentNeutral    Sentiment = "neutral"
	SentimentNegative   Sentiment = "negative"
	SentimentFrustrated Sentiment = "frustrated"
)

// Valid reports whether s is one of the known sentiments.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative, SentimentFrustrated:
		return true
	}
	return false
}

// Category is one entry of the classification vocabulary.
type Category struct {
	ID          string
	Name        string
	Description *string
	AutoCreated bool
}

// CategoryProposal is a new category suggested by the classifier.
type CategoryProposal struct {
	Name        string
	Description string
}

// Insight is a typed product observation extracted from a transcript.
type Insight struct {
	Text string
	Type string
}

// Analysis is the normalised classifier output.
type Analysis struct {
	CategoryNames []string
	NewCategory   *CategoryProposal
	Summary       string
	Severity      Severity
	Resolved      bool
	Sentiment     Sentiment
	Insights      []Insight
}

// Ticket is the persisted aggregate for one source event.
type Ticket struct {
	ID               string
	SourceEventID    string
	TranscriptURL    string
	RawText          string
	Summary          string
	Severity         Severity
	Resolved         bool
	Sentiment        Sentiment
	ParticipantCount int
	MessageCount     int
	OpenedAt         *time.Time
	ClosedAt         *time.Time
	PostedAt         time.Time
	ProcessedAt      time.Time
	SheetsSyncedAt   *time.Time
}

// TicketSummary is a stored ticket joined with its category names and
// insights, as needed by replication.
type TicketSummary struct {
	Ticket        Ticket
	CategoryNames []string
	Insights      []Insight
}
