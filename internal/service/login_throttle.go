package service

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const loginFailureKeyPrefix = "login_failures:"

// LoginThrottle limits repeated failed logins per key (the normalized email).
type LoginThrottle interface {
	// Allow returns a positive retry-after while the key is blocked.
	Allow(ctx context.Context, key string) (time.Duration, error)
	RecordFailure(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}

// NoopLoginThrottle never blocks.
type NoopLoginThrottle struct{}

func (NoopLoginThrottle) Allow(context.Context, string) (time.Duration, error) { return 0, nil }
func (NoopLoginThrottle) RecordFailure(context.Context, string) error          { return nil }
func (NoopLoginThrottle) Reset(context.Context, string) error                  { return nil }

// RedisLoginThrottle counts failures in Redis. Each failure pushes the key's
// expiry out to a full window; once maxFailures is reached the key is blocked
// until it expires.
type RedisLoginThrottle struct {
	client      redis.Cmdable
	maxFailures int64
	window      time.Duration
}

// NewRedisLoginThrottle builds a throttle over client.
func NewRedisLoginThrottle(client redis.Cmdable, maxFailures int, window time.Duration) *RedisLoginThrottle {
	return &RedisLoginThrottle{client: client, maxFailures: int64(maxFailures), window: window}
}

func loginFailureKey(key string) string {
	return loginFailureKeyPrefix + key
}

// Allow implements LoginThrottle.
func (t *RedisLoginThrottle) Allow(ctx context.Context, key string) (time.Duration, error) {
	if t.maxFailures <= 0 {
		return 0, nil
	}
	k := loginFailureKey(key)
	count, err := t.client.Get(ctx, k).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if count < t.maxFailures {
		return 0, nil
	}

	ttl, err := t.client.TTL(ctx, k).Result()
	if err != nil {
		return 0, err
	}
	if ttl <= 0 {
		ttl = t.window
	}
	return ttl, nil
}

// RecordFailure implements LoginThrottle.
func (t *RedisLoginThrottle) RecordFailure(ctx context.Context, key string) error {
	if t.maxFailures <= 0 {
		return nil
	}
	k := loginFailureKey(key)
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, t.window)
		return nil
	})
	return err
}

// Reset implements LoginThrottle.
func (t *RedisLoginThrottle) Reset(ctx context.Context, key string) error {
	return t.client.Del(ctx, loginFailureKey(key)).Err()
}
