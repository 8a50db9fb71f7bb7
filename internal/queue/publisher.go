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

// Package queue carries source events between ingress (webhook, poller) and
// the pipeline workers over a Redis list. Envelopes record their delivery
// attempt so failed events are redelivered a bounded number of times.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tixsight/ingestion/internal/models"
)

// Envelope is the JSON message stored on the list.
type Envelope struct {
	ID         string              `json:"id"`
	Attempts   int                 `json:"attempts"`
	EnqueuedAt time.Time           `json:"enqueued_at"`
	LastError  string              `json:"last_error,omitempty"`
	Event      *models.SourceEvent `json:"event"`
}

// Publisher pushes source events onto a Redis list.
type Publisher struct {
	rdb       redis.Cmdable
	queueName string
}

// NewPublisher creates a new Redis publisher targeting the specified queue.
func NewPublisher(rdb redis.Cmdable, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// Publish enqueues a source event for processing.
func (p *Publisher) Publish(ctx context.Context, event *models.SourceEvent) error {
	env := Envelope{
		ID:         uuid.NewString(),
		EnqueuedAt: time.Now().UTC(),
		Event:      event,
	}
	if err := push(ctx, p.rdb, p.queueName, env); err != nil {
		return err
	}

	slog.Info("published source event to queue",
		"envelope_id", env.ID,
		"event_id", event.ID,
		"queue", p.queueName,
	)
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}

// push appends to the head of the list; consumers pop from the tail.
func push(ctx context.Context, rdb redis.Cmdable, queueName string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := rdb.LPush(ctx, queueName, data).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}
	return nil
}
