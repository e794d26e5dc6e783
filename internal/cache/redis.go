package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "pinnotify:"

// incrementIfPresent returns -1 for a missing key; stored values never go below zero.
var incrementIfPresent = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
local value = redis.call('INCRBY', KEYS[1], ARGV[1])
if value < 0 then
	redis.call('SET', KEYS[1], 0, 'KEEPTTL')
	value = 0
end
return value
`)

// RedisStore implements CounterStore on top of a go-redis client.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client. The caller owns the client lifecycle.
func NewRedisStore(client redis.UniversalClient) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis: client is required")
	}
	return &RedisStore{client: client}, nil
}

// Ping verifies connectivity so misconfiguration surfaces at startup.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// IncrementIfPresent adjusts an existing counter atomically.
func (s *RedisStore) IncrementIfPresent(ctx context.Context, key string, delta int64) (int64, bool, error) {
	value, err := incrementIfPresent.Run(ctx, s.client, []string{prefixed(key)}, delta).Int64()
	if err != nil {
		return 0, false, err
	}
	if value < 0 {
		return 0, false, nil
	}
	return value, true, nil
}

// Set stores a value with PX expiry semantics. A non-positive ttl never expires.
func (s *RedisStore) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return s.client.Set(ctx, prefixed(key), value, ttl).Err()
}

// Get retrieves the value associated with a key.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, bool, error) {
	value, err := s.client.Get(ctx, prefixed(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

// Delete removes one or more keys, ignoring missing keys.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, 0, len(keys))
	for _, key := range keys {
		full = append(full, prefixed(key))
	}
	return s.client.Del(ctx, full...).Err()
}

func prefixed(key string) string {
	normalized := normalizeKey(key)
	if strings.HasPrefix(normalized, redisKeyPrefix) {
		return normalized
	}
	return normalizeKey(redisKeyPrefix + normalized)
}

func normalizeKey(key string) string {
	if key == "" {
		return key
	}
	var builder strings.Builder
	builder.Grow(len(key))
	prevColon := false
	for i := 0; i < len(key); i++ {
		ch := key[i]
		if ch == ':' {
			if prevColon {
				continue
			}
			prevColon = true
		} else {
			prevColon = false
		}
		builder.WriteByte(ch)
	}
	return builder.String()
}
