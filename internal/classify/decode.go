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
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tixsight/ingestion/internal/models"
)

// ErrMalformedResponse is returned when the classifier reply is not a JSON
// object. A reply that cannot be parsed at all makes the whole
// classification untrustworthy, so it is never silently defaulted.
var ErrMalformedResponse = errors.New("classifier returned a malformed response")

// Defaults applied field by field.
const (
	DefaultSummary     = "No summary available"
	DefaultSeverity    = models.SeverityMedium
	DefaultSentiment   = models.SentimentNeutral
	DefaultInsightType = "general"
)

var fencePattern = regexp.MustCompile("```(?:json|JSON)?")

// DecodeAnalysis parses a classifier reply. Markdown code fences are stripped
// first; once the JSON object is parsed every field is decoded independently
// and falls back to its default when missing or of the wrong shape.
func DecodeAnalysis(reply string) (*models.Analysis, error) {
	cleaned := strings.TrimSpace(fencePattern.ReplaceAllString(reply, ""))

	var raw map[string]any
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: reply is null", ErrMalformedResponse)
	}

	a := &models.Analysis{
		CategoryNames: decodeCategoryNames(raw["categories"]),
		NewCategory:   decodeProposal(raw["new_category"]),
		Summary:       decodeSummary(raw["summary"]),
		Severity:      decodeSeverity(raw["severity"]),
		Resolved:      decodeBool(raw["resolved"]),
		Sentiment:     decodeSentiment(raw["sentiment"]),
		Insights:      decodeInsights(raw["insights"]),
	}

	// The proposed category is linked even when the model forgot to list it.
	if a.NewCategory != nil && !containsFold(a.CategoryNames, a.NewCategory.Name) {
		a.CategoryNames = append(a.CategoryNames, a.NewCategory.Name)
	}

	return a, nil
}

func decodeCategoryNames(v any) []string {
	names := []string{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && !containsFold(names, s) {
			names = append(names, s)
		}
	}

	switch t := v.(type) {
	case string:
		add(t)
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	}
	return names
}

func decodeProposal(v any) *models.CategoryProposal {
	switch t := v.(type) {
	case string:
		if name := strings.TrimSpace(t); name != "" {
			return &models.CategoryProposal{Name: name}
		}
	case map[string]any:
		name, _ := t["name"].(string)
		desc, _ := t["description"].(string)
		if name = strings.TrimSpace(name); name != "" {
			return &models.CategoryProposal{Name: name, Description: strings.TrimSpace(desc)}
		}
	}
	return nil
}

func decodeSummary(v any) string {
	if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return DefaultSummary
}

func decodeSeverity(v any) models.Severity {
	s, _ := v.(string)
	if sev := models.Severity(strings.ToLower(strings.TrimSpace(s))); sev.Valid() {
		return sev
	}
	return DefaultSeverity
}

func decodeSentiment(v any) models.Sentiment {
	s, _ := v.(string)
	if sen := models.Sentiment(strings.ToLower(strings.TrimSpace(s))); sen.Valid() {
		return sen
	}
	return DefaultSentiment
}

func decodeBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes":
			return true
		}
	}
	return false
}

func decodeInsights(v any) []models.Insight {
	insights := []models.Insight{}

	items, ok := v.([]any)
	if !ok {
		return insights
	}
	for _, item := range items {
		var text, typ string
		switch t := item.(type) {
		case string:
			text = t
		case map[string]any:
			text, _ = t["text"].(string)
			typ, _ = t["type"].(string)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if typ = strings.TrimSpace(typ); typ == "" {
			typ = DefaultInsightType
		}
		insights = append(insights, models.Insight{Text: text, Type: typ})
	}
	return insights
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
