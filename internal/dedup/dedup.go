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

// Package dedup guards against two workers processing the same source event
// at once. The store's unique key remains the final arbiter; a claim only
// keeps redelivery storms from fetching and classifying the same transcript
// in parallel.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a crashed worker can hold a claim. It must
	// exceed the worst-case fetch plus classification time.
	DefaultTTL = 5 * time.Minute

	// keyPrefix namespaces claim keys in Redis.
	keyPrefix = "tix:inflight:"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired claim taken over by another worker is not released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Claimer hands out short-lived per-event processing claims.
type Claimer struct {
	rdb   redis.Cmdable
	ttl   time.Duration
	token string
}

// NewClaimer creates a claimer backed by Redis. A non-positive ttl selects
// DefaultTTL.
func NewClaimer(rdb redis.Cmdable, ttl time.Duration) *Claimer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Claimer{
		rdb:   rdb,
		ttl:   ttl,
		token: uuid.NewString(),
	}
}

// Claim returns true if this process now holds the claim for eventID.
func (c *Claimer) Claim(ctx context.Context, eventID string) (bool, error) {
	// SET NX = set only if key does not exist. Returns true if the key was set.
	set, err := c.rdb.SetNX(ctx, keyPrefix+eventID, c.token, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim SETNX: %w", err)
	}
	return set, nil
}

// Release drops a claim held by this process. Releasing a claim that has
// expired or belongs to another process is a no-op.
func (c *Claimer) Release(ctx context.Context, eventID string) error {
	if err := releaseScript.Run(ctx, c.rdb, []string{keyPrefix + eventID}, c.token).Err(); err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}
