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

// Package classify turns a parsed transcript and the current category
// vocabulary into a request to an external language-model service, and
// decodes the reply defensively into a models.Analysis.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tixsight/ingestion/internal/models"
)

// Completer sends a single-turn prompt to a language model and returns the
// text of its reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Adapter classifies transcripts through a Completer.
type Adapter struct {
	completer Completer
}

// NewAdapter creates a classification adapter.
func NewAdapter(completer Completer) *Adapter {
	return &Adapter{completer: completer}
}

// Classify builds the prompt, performs one outbound call and decodes the
// reply. Transport failures and undecodable replies are returned as errors.
func (a *Adapter) Classify(ctx context.Context, text string, vocabulary []models.Category) (*models.Analysis, error) {
	prompt := BuildPrompt(text, vocabulary)

	start := time.Now()
	reply, err := a.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("classification call: %w", err)
	}

	analysis, err := DecodeAnalysis(reply)
	if err != nil {
		slog.Warn("classifier reply could not be decoded",
			"reply_len", len(reply),
			"error", err,
		)
		return nil, err
	}

	slog.Debug("classification complete",
		"categories", analysis.CategoryNames,
		"severity", analysis.Severity,
		"elapsed", time.Since(start),
	)
	return analysis, nil
}
