package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/centraunit/modkit"
)

var _ modkit.Store[string, int] = (*RedisStore[int])(nil)

// RedisStore keeps JSON-encoded values under prefixed redis keys.
type RedisStore[V any] struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisOptions)

type redisOptions struct {
	prefix string
	ttl    time.Duration
}

// WithKeyPrefix namespaces every key. Defaults to "modkit:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(o *redisOptions) {
		o.prefix = prefix
	}
}

// WithTTL expires values after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(o *redisOptions) {
		o.ttl = ttl
	}
}

// NewRedisStore creates a store over client.
func NewRedisStore[V any](client redis.Cmdable, opts ...RedisOption) *RedisStore[V] {
	o := redisOptions{prefix: "modkit:"}
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisStore[V]{client: client, prefix: o.prefix, ttl: o.ttl}
}

// Key returns the redis key used for key.
func (s *RedisStore[V]) Key(key string) string {
	return s.prefix + key
}

func (s *RedisStore[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V
	raw, err := s.client.Get(ctx, s.Key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, fmt.Errorf("redis store: key %q: %w", key, modkit.ErrNotFound)
	}
	if err != nil {
		return zero, fmt.Errorf("redis store: get %q: %w", key, err)
	}
	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, fmt.Errorf("redis store: decode %q: %w", key, err)
	}
	return v, nil
}

func (s *RedisStore[V]) Put(ctx context.Context, key string, value V) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redis store: encode %q: %w", key, err)
	}
	if err := s.client.Set(ctx, s.Key(key), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis store: put %q: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (s *RedisStore[V]) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.Key(key)).Err(); err != nil {
		return fmt.Errorf("redis store: remove %q: %w", key, err)
	}
	return nil
}
