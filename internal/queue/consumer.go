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

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tixsight/ingestion/internal/models"
)

const (
	// DefaultMaxAttempts is how many times an event is handed to the
	// handler before it is parked on the dead-letter list.
	DefaultMaxAttempts = 3

	// DefaultRetryDelay is the wait before the first redelivery; each
	// further attempt doubles it up to maxRetryDelay.
	DefaultRetryDelay = 30 * time.Second
	maxRetryDelay     = 15 * time.Minute

	// popTimeout bounds each blocking pop so shutdown is noticed promptly.
	popTimeout = 5 * time.Second

	deadSuffix    = ":dead"
	delayedSuffix = ":delayed"

	// promoteBatch caps how many due envelopes one Next call moves back.
	promoteBatch = 100
)

// promoteScript moves due envelopes from the delay set back onto the list.
var promoteScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
for _, v in ipairs(due) do
	redis.call("ZREM", KEYS[1], v)
	redis.call("LPUSH", KEYS[2], v)
end
return #due
`)

// Handler processes one event. A returned error triggers redelivery.
type Handler func(ctx context.Context, event *models.SourceEvent) error

// Consumer pops envelopes and hands their events to a Handler.
type Consumer struct {
	rdb         redis.Cmdable
	queueName   string
	maxAttempts int
	retryDelay  time.Duration
	now         func() time.Time
}

// NewConsumer creates a consumer for queueName. A non-positive maxAttempts
// selects DefaultMaxAttempts and a non-positive retryDelay selects
// DefaultRetryDelay.
func NewConsumer(rdb redis.Cmdable, queueName string, maxAttempts int, retryDelay time.Duration) *Consumer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Consumer{
		rdb:         rdb,
		queueName:   queueName,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		now:         time.Now,
	}
}

// DeadLetterQueue is the list holding events that exhausted their attempts.
func (c *Consumer) DeadLetterQueue() string { return c.queueName + deadSuffix }

// DelayedSet is the sorted set holding failed envelopes until their retry
// time, scored by unix milliseconds.
func (c *Consumer) DelayedSet() string { return c.queueName + delayedSuffix }

// backoff is the wait before redelivering an envelope that has failed
// attempts times.
func (c *Consumer) backoff(attempts int) time.Duration {
	d := c.retryDelay
	for i := 1; i < attempts && d < maxRetryDelay; i++ {
		d *= 2
	}
	return min(d, maxRetryDelay)
}

// promoteDue returns envelopes whose retry time has passed to the list.
func (c *Consumer) promoteDue(ctx context.Context) error {
	now := c.now().UnixMilli()
	err := promoteScript.Run(ctx, c.rdb, []string{c.DelayedSet(), c.queueName}, now, promoteBatch).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("promote delayed envelopes: %w", err)
	}
	return nil
}

// schedule parks env in the delay set until its backoff has elapsed.
func (c *Consumer) schedule(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	due := c.now().Add(c.backoff(env.Attempts))
	if err := c.rdb.ZAdd(ctx, c.DelayedSet(), redis.Z{Score: float64(due.UnixMilli()), Member: data}).Err(); err != nil {
		return fmt.Errorf("redis ZADD: %w", err)
	}
	return nil
}

// Run consumes until ctx is cancelled. Several Run loops may share a queue.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	slog.Info("queue consumer started", "queue", c.queueName, "max_attempts", c.maxAttempts)
	for {
		if ctx.Err() != nil {
			return nil
		}

		_, err := c.Next(ctx, popTimeout, handle)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("queue consume failed", "queue", c.queueName, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// Next waits up to timeout for one envelope and handles it. It reports
// whether an envelope was consumed. Handler failures are not returned; they
// lead to delayed redelivery or dead-lettering.
func (c *Consumer) Next(ctx context.Context, timeout time.Duration, handle Handler) (bool, error) {
	if err := c.promoteDue(ctx); err != nil {
		return false, err
	}

	res, err := c.rdb.BRPop(ctx, timeout, c.queueName).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis BRPOP: %w", err)
	}

	// res is [key, value]
	var env Envelope
	if err := json.Unmarshal([]byte(res[1]), &env); err != nil || env.Event == nil {
		slog.Error("dropping undecodable envelope", "queue", c.queueName, "error", err)
		return true, nil
	}

	env.Attempts++
	herr := handle(ctx, env.Event)
	if herr == nil {
		return true, nil
	}
	env.LastError = herr.Error()

	// A shutdown mid-handle is not the event's fault.
	if ctx.Err() != nil {
		env.Attempts--
		return true, push(context.WithoutCancel(ctx), c.rdb, c.queueName, env)
	}

	if env.Attempts >= c.maxAttempts {
		slog.Error("event exhausted delivery attempts",
			"event_id", env.Event.ID,
			"attempts", env.Attempts,
			"error", herr,
		)
		return true, push(ctx, c.rdb, c.DeadLetterQueue(), env)
	}

	slog.Warn("event processing failed, retrying later",
		"event_id", env.Event.ID,
		"attempts", env.Attempts,
		"retry_in", c.backoff(env.Attempts),
		"error", herr,
	)
	return true, c.schedule(ctx, env)
}
