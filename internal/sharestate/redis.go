// Package sharestate keeps short-lived social-share state in redis or memory.
package sharestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/reviv/pkg/ledger"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements ledger.ShareStateStore on redis.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Connect parses a redis:// url and checks the connection.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (store *RedisStore) Put(ctx context.Context, key ledger.ShareKey, state ledger.ShareState, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("share state ttl must be positive, got %s", ttl)
	}
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode share state: %w", err)
	}
	if err := store.client.Set(ctx, key.String(), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (store *RedisStore) Get(ctx context.Context, key ledger.ShareKey) (ledger.ShareState, bool, error) {
	raw, err := store.client.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return ledger.ShareState{}, false, nil
	}
	if err != nil {
		return ledger.ShareState{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var state ledger.ShareState
	if err := json.Unmarshal(raw, &state); err != nil {
		return ledger.ShareState{}, false, fmt.Errorf("decode share state: %w", err)
	}
	return state, true, nil
}

func (store *RedisStore) Delete(ctx context.Context, key ledger.ShareKey) error {
	if err := store.client.Del(ctx, key.String()).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
