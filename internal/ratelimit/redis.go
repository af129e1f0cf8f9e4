package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the counter and starts the window on the
// first hit. A counter that lost its expiry is given one again so a key can
// never be stuck over the limit. Returns {count, pttl}.
var fixedWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local window = tonumber(ARGV[1])

	local count = redis.call('INCR', key)
	local ttl = redis.call('PTTL', key)
	if count == 1 or ttl < 0 then
		redis.call('PEXPIRE', key, window)
		ttl = window
	end

	return {count, ttl}
`)

// RedisStore is a Store shared by every API instance.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a RedisStore on client.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// IncrementAndGet implements Store.
func (s *RedisStore) IncrementAndGet(ctx context.Context, key string, window time.Duration) (int64, error) {
	result, err := fixedWindowScript.Run(ctx, s.client,
		[]string{key},
		window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return 0, err
	}
	return result[0], nil
}

// TTL implements Store.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
