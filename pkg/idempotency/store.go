package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a fast-path duplicate filter for consumers, keyed by message id.
// It is an optimization only: durable idempotency lives in the inventory
// ledger's applied-marker table and in the order status check, so losing a
// Redis key can never cause a double decrement.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) Key(queue, messageID string) string {
	return fmt.Sprintf("idem:%s:%s", queue, messageID)
}

// Seen marks the key and reports whether it was already present.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Forget releases the key so a requeued delivery is not flagged as a
// duplicate on redelivery.
func (s *Store) Forget(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
