package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newMiniredisWrapper(t *testing.T) (*RedisWrapper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisWrapper(client, "test-store", zaptest.NewLogger(t)), mr
}

func TestRedisWrapper_Commands(t *testing.T) {
	rw, mr := newMiniredisWrapper(t)
	ctx := context.Background()

	require.NoError(t, rw.Ping(ctx).Err())

	require.NoError(t, rw.Set(ctx, "research:session:a", "payload", time.Minute).Err())
	val, err := rw.Get(ctx, "research:session:a").Result()
	require.NoError(t, err)
	assert.Equal(t, "payload", val)
	assert.Equal(t, time.Minute, mr.TTL("research:session:a"))

	require.NoError(t, rw.ZAdd(ctx, "idx", &redis.Z{Score: 1, Member: "a"}, &redis.Z{Score: 2, Member: "b"}).Err())
	members, err := rw.ZRevRange(ctx, "idx", 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, members)

	removed, err := rw.ZRem(ctx, "idx", "a").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	deleted, err := rw.Del(ctx, "research:session:a").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestRedisWrapper_NilIsNotFailure(t *testing.T) {
	rw, _ := newMiniredisWrapper(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		assert.ErrorIs(t, rw.Get(ctx, "missing").Err(), redis.Nil)
	}
	assert.False(t, rw.IsCircuitBreakerOpen())
}

func TestRedisWrapper_OpensOnConnectionErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	rw := NewRedisWrapper(client, "test-down", zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.Error(t, rw.Ping(ctx).Err())
	}
	assert.True(t, rw.IsCircuitBreakerOpen())
	assert.ErrorIs(t, rw.Get(ctx, "any").Err(), ErrCircuitBreakerOpen)
}
