package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces keys written by RedisStore.
const DefaultRedisPrefix = "stockpilot:"

// RedisStore persists entries in Redis under a key prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to the Redis instance described by a redis:// or rediss:// URL.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("kvstore.redis.parse_url: %w", err)
	}
	client := redis.NewClient(options)
	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		_ = client.Close()
		return nil, fmt.Errorf("kvstore.redis.ping: %w", pingErr)
	}
	return NewRedisStoreWithClient(client, DefaultRedisPrefix), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Get returns the value stored under key; redis.Nil maps to absence.
func (store *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	value, err := store.client.Get(ctx, store.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kvstore.get.redis: %w", err)
	}
	return value, true, nil
}

// Set stores value under key without expiry.
func (store *RedisStore) Set(ctx context.Context, key string, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := store.client.Set(ctx, store.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("kvstore.set.redis: %w", err)
	}
	return nil
}

// Remove deletes key.
func (store *RedisStore) Remove(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := store.client.Del(ctx, store.prefix+key).Err(); err != nil {
		return fmt.Errorf("kvstore.remove.redis: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (store *RedisStore) Close() error {
	return store.client.Close()
}
