// Package attempt computes and persists submission attempts: the nonce, fee,
// gas and wait window of each on-wire try. Two pricing policies live behind
// one Manager contract, a legacy gas-price one and an EIP-1559 one.
package attempt

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vocdoni/txdispatch/types"
)

// lastAttemptKey is the single storage slot of the most recent on-wire
// attempt. It has no TTL: it is the crash-recovery anchor.
const lastAttemptKey = "last_attempt"

// Store is the durable single-slot attempt record.
type Store interface {
	// Get returns the stored attempt, or nil when none was written yet.
	Get(ctx context.Context) (*types.Attempt, error)
	// Save rewrites the slot.
	Save(ctx context.Context, attempt *types.Attempt) error
}

// RedisStore keeps the slot in the same store as the pool.
type RedisStore struct {
	rdb redis.UniversalClient
}

// NewRedisStore creates the attempt slot on the given client.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context) (*types.Attempt, error) {
	data, err := s.rdb.Get(ctx, lastAttemptKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load last attempt: %w", err)
	}
	return types.AttemptFromBytes(data)
}

func (s *RedisStore) Save(ctx context.Context, attempt *types.Attempt) error {
	if err := s.rdb.Set(ctx, lastAttemptKey, attempt.Bytes(), 0).Err(); err != nil {
		return fmt.Errorf("save last attempt: %w", err)
	}
	return nil
}
