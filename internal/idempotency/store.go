// Package idempotency remembers signup progress per client-supplied key so a
// retried signup can reuse an already trained model.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "churnguard:signup:"

// DefaultTTL bounds how long a signup record is kept.
const DefaultTTL = 24 * time.Hour

// Record is the signup state stored under an idempotency key.
// ModelID is set once training succeeded; AccountID once the account exists.
type Record struct {
	Email     string  `json:"email"`
	ModelID   string  `json:"modelId"`
	Accuracy  float64 `json:"accuracy"`
	AccountID string  `json:"accountId,omitempty"`
}

// Done reports whether the signup completed.
func (r Record) Done() bool { return r.AccountID != "" }

// Store persists signup records.
type Store interface {
	// Get returns (nil, nil) when the key is unknown.
	Get(ctx context.Context, key string) (*Record, error)
	Put(ctx context.Context, key string, rec Record) error
}

// kv is the subset of redis.UniversalClient used by RedisStore.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisStore implements Store on Redis.
type RedisStore struct {
	client kv
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps a Redis client; ttl <= 0 uses DefaultTTL.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return newRedisStore(client, ttl)
}

func newRedisStore(client kv, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	b, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load signup record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode signup record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal signup record: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("persist signup record: %w", err)
	}
	return nil
}

// Noop stores nothing; signups without Redis are simply not resumable.
type Noop struct{}

var _ Store = Noop{}

func (Noop) Get(context.Context, string) (*Record, error) { return nil, nil }
func (Noop) Put(context.Context, string, Record) error    { return nil }
