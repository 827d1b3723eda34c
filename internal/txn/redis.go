package txn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "txn:"

// RedisStore persists records as JSON values with a per-key expiry.
type RedisStore struct {
	Client *redis.Client
	TTL    time.Duration
}

// NewRedisStore constructs a Redis-backed store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{Client: client, TTL: ttl}
}

func (s *RedisStore) Get(ctx context.Context, transactionID string) (Record, bool, error) {
	if s == nil || s.Client == nil {
		return Record{}, false, errors.New("txn: redis store not configured")
	}
	data, err := s.Client.Get(ctx, redisKeyPrefix+transactionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("txn: get %s: %w", transactionID, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("txn: decode %s: %w", transactionID, err)
	}
	return rec, true, nil
}

func (s *RedisStore) Put(ctx context.Context, rec Record) error {
	if s == nil || s.Client == nil {
		return errors.New("txn: redis store not configured")
	}
	if rec.TransactionID == "" {
		return errors.New("txn: transaction id is required")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("txn: encode %s: %w", rec.TransactionID, err)
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	if err := s.Client.Set(ctx, redisKeyPrefix+rec.TransactionID, data, ttl).Err(); err != nil {
		return fmt.Errorf("txn: put %s: %w", rec.TransactionID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, transactionID string) error {
	if s == nil || s.Client == nil {
		return errors.New("txn: redis store not configured")
	}
	if err := s.Client.Del(ctx, redisKeyPrefix+transactionID).Err(); err != nil {
		return fmt.Errorf("txn: delete %s: %w", transactionID, err)
	}
	return nil
}
