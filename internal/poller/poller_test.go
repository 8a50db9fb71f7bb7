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

package poller

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tixsight/ingestion/internal/discord"
	"github.com/tixsight/ingestion/internal/models"
)

// fakeChannel serves a fixed history the way Discord pages it: newest first.
type fakeChannel struct {
	messages []discord.Message
	calls    int
}

func (f *fakeChannel) ListMessages(_ context.Context, _ string, opts discord.PageOptions) ([]discord.Message, error) {
	f.calls++
	var out []discord.Message
	for _, m := range f.messages {
		if opts.After != "" && !discord.SnowflakeLess(opts.After, m.ID) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return discord.SnowflakeLess(out[j].ID, out[i].ID) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

type memCursors map[string]string

func (m memCursors) LoadCursor(_ context.Context, channelID string) (string, error) {
	return m[channelID], nil
}

func (m memCursors) SaveCursor(_ context.Context, channelID, messageID string) error {
	m[channelID] = messageID
	return nil
}

func history(ids ...string) []discord.Message {
	out := make([]discord.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, discord.Message{
			ID:      id,
			Content: "ticket " + id,
			Author:  discord.Author{ID: "u1", Username: "alice"},
		})
	}
	return out
}

func TestPoll_FirstRunOnlyRecordsCursor(t *testing.T) {
	ch := &fakeChannel{messages: history("101", "102", "103")}
	cursors := memCursors{}
	var seen []string
	p := NewPoller(ch, cursors, "chan", time.Minute, func(_ context.Context, e *models.SourceEvent) error {
		seen = append(seen, e.ID)
		return nil
	})

	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, seen)
	assert.Equal(t, "103", cursors["chan"])
}

func TestPoll_EmptyChannelStartsFromZero(t *testing.T) {
	cursors := memCursors{}
	p := NewPoller(&fakeChannel{}, cursors, "chan", time.Minute, func(context.Context, *models.SourceEvent) error {
		return nil
	})

	_, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0", cursors["chan"])
}

func TestPoll_DispatchesOldestFirst(t *testing.T) {
	ch := &fakeChannel{messages: history("99", "100", "1000", "101", "102")}
	cursors := memCursors{"chan": "100"}
	var seen []string
	p := NewPoller(ch, cursors, "chan", time.Minute, func(_ context.Context, e *models.SourceEvent) error {
		seen = append(seen, e.ID)
		return nil
	})

	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"101", "102", "1000"}, seen)
	assert.Equal(t, "1000", cursors["chan"])

	n, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPoll_StopsAtFailedDispatch(t *testing.T) {
	ch := &fakeChannel{messages: history("101", "102", "103")}
	cursors := memCursors{"chan": "100"}
	p := NewPoller(ch, cursors, "chan", time.Minute, func(_ context.Context, e *models.SourceEvent) error {
		if e.ID == "102" {
			return errors.New("queue down")
		}
		return nil
	})

	n, err := p.Poll(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "101", cursors["chan"], "cursor must not pass the failed message")
}

func TestRun_StopsOnCancel(t *testing.T) {
	ch := &fakeChannel{messages: history("101")}
	p := NewPoller(ch, memCursors{}, "chan", 10*time.Millisecond, func(context.Context, *models.SourceEvent) error {
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.GreaterOrEqual(t, ch.calls, 1)
}
