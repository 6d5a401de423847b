package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const redisBreakerName = "redis"

// RedisWrapper guards the Redis commands used by the session store.
// redis.Nil is a normal miss and never counts as a failure.
type RedisWrapper struct {
	client  *redis.Client
	cb      *CircuitBreaker
	service string
	logger  *zap.Logger
}

// NewRedisWrapper wraps client with the Redis preset.
func NewRedisWrapper(client *redis.Client, service string, logger *zap.Logger) *RedisWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := NewCircuitBreaker(redisBreakerName, GetRedisConfig().ToConfig(), logger)
	registry.track(service, redisBreakerName, cb)
	return &RedisWrapper{client: client, cb: cb, service: service, logger: logger}
}

// guard runs cmd through the breaker. When the breaker rejects the call the
// rejection is stored on fallback, which is returned instead.
func guard[C redis.Cmder](rw *RedisWrapper, ctx context.Context, fallback C, cmd func() C) C {
	var result C
	executed := false
	err := rw.cb.Execute(ctx, func() error {
		result = cmd()
		executed = true
		if errors.Is(result.Err(), redis.Nil) {
			return nil
		}
		return result.Err()
	})
	recordCall(rw.service, redisBreakerName, err)

	if !executed {
		fallback.SetErr(err)
		return fallback
	}
	return result
}

// Ping checks connectivity.
func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	return guard(rw, ctx, redis.NewStatusCmd(ctx), func() *redis.StatusCmd {
		return rw.client.Ping(ctx)
	})
}

// Get reads key.
func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	return guard(rw, ctx, redis.NewStringCmd(ctx), func() *redis.StringCmd {
		return rw.client.Get(ctx, key)
	})
}

// Set writes key with an expiration; zero keeps it forever.
func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	return guard(rw, ctx, redis.NewStatusCmd(ctx), func() *redis.StatusCmd {
		return rw.client.Set(ctx, key, value, expiration)
	})
}

// Del removes keys.
func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	return guard(rw, ctx, redis.NewIntCmd(ctx), func() *redis.IntCmd {
		return rw.client.Del(ctx, keys...)
	})
}

// ZAdd adds members to a sorted set.
func (rw *RedisWrapper) ZAdd(ctx context.Context, key string, members ...*redis.Z) *redis.IntCmd {
	return guard(rw, ctx, redis.NewIntCmd(ctx), func() *redis.IntCmd {
		return rw.client.ZAdd(ctx, key, members...)
	})
}

// ZRevRange lists sorted set members from highest score.
func (rw *RedisWrapper) ZRevRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	return guard(rw, ctx, redis.NewStringSliceCmd(ctx), func() *redis.StringSliceCmd {
		return rw.client.ZRevRange(ctx, key, start, stop)
	})
}

// ZRem removes members from a sorted set.
func (rw *RedisWrapper) ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	return guard(rw, ctx, redis.NewIntCmd(ctx), func() *redis.IntCmd {
		return rw.client.ZRem(ctx, key, members...)
	})
}

// Close closes the underlying client.
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// GetClient returns the unguarded client.
func (rw *RedisWrapper) GetClient() *redis.Client {
	return rw.client
}

// IsCircuitBreakerOpen reports whether calls are currently rejected.
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}
