// Package redis backs the counter store with Redis, where INCRBY gives the
// single atomic increment-and-return the admission path requires even with
// multiple gateway replicas.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/shule-ai/tutor-gateway/internal/app/domain/quota"
	"github.com/shule-ai/tutor-gateway/internal/app/storage"
)

// CounterStore implements storage.CounterStore on a Redis client.
type CounterStore struct {
	cli *goredis.Client
	now func() time.Time
}

var _ storage.CounterStore = (*CounterStore)(nil)

// NewCounterStore wraps an existing client; the caller owns its lifecycle.
func NewCounterStore(cli *goredis.Client) *CounterStore {
	return &CounterStore{cli: cli, now: time.Now}
}

// Add atomically increments the counter and returns the post-increment value.
// The first increment of a key sets its expiry to the remainder of the key's
// day; the expiry is never extended afterwards, so an expired key simply
// reads as zero the next day.
func (s *CounterStore) Add(ctx context.Context, key quota.Key, delta int64) (int64, error) {
	name := key.String()
	value, err := s.cli.IncrBy(ctx, name, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", name, err)
	}
	if value == delta {
		// First writer of the day owns the expiry.
		if err := s.cli.Expire(ctx, name, key.TTL(s.now())).Err(); err != nil {
			return value, fmt.Errorf("expire %s: %w", name, err)
		}
	}
	return value, nil
}

// Get reads a counter; an absent or expired key is zero, not an error.
func (s *CounterStore) Get(ctx context.Context, key quota.Key) (int64, error) {
	value, err := s.cli.Get(ctx, key.String()).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", key.String(), err)
	}
	return value, nil
}
