package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentprobe_api/internal/clock"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return client, mr
}

func TestRedisStore_Check(t *testing.T) {
	t.Run("allows requests within limit", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		clk := clock.NewFake(start)
		limiter := NewLimiter(NewRedisStore(client, time.Hour*24), clk, true)
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			res, err := limiter.Check(ctx, "redis-key-1", 5)
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, 5-i-1, res.Remaining)
			assert.Equal(t, start.Add(Window), res.ResetAt)
		}
	})

	t.Run("blocks requests over limit", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		limiter := NewLimiter(NewRedisStore(client, 0), clock.NewFake(start), true)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			res, err := limiter.Check(ctx, "redis-key-2", 3)
			require.NoError(t, err)
			assert.True(t, res.Allowed)
		}

		res, err := limiter.Check(ctx, "redis-key-2", 3)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, 0, res.Remaining)
		assert.Equal(t, 3600, res.RetryAfter)
	})

	t.Run("resets after window expires", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		clk := clock.NewFake(start)
		limiter := NewLimiter(NewRedisStore(client, 0), clk, true)
		ctx := context.Background()

		for i := 0; i < 2; i++ {
			_, err := limiter.Check(ctx, "redis-key-3", 2)
			require.NoError(t, err)
		}
		res, _ := limiter.Check(ctx, "redis-key-3", 2)
		require.False(t, res.Allowed)

		clk.Advance(Window + time.Second)

		res, err := limiter.Check(ctx, "redis-key-3", 2)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 1, res.Remaining)
	})

	t.Run("sets expiry on the window key", func(t *testing.T) {
		client, mr := setupTestRedis(t)
		limiter := NewLimiter(NewRedisStore(client, 2*time.Hour), clock.NewFake(start), true)

		_, err := limiter.Check(context.Background(), "redis-key-4", 2)
		require.NoError(t, err)

		assert.True(t, mr.Exists("ratelimit:redis-key-4"))
		assert.Equal(t, 2*time.Hour, mr.TTL("ratelimit:redis-key-4"))
	})
}

func TestRedisStore_StatusResetCleanup(t *testing.T) {
	client, mr := setupTestRedis(t)
	clk := clock.NewFake(start)
	store := NewRedisStore(client, 0)
	limiter := NewLimiter(store, clk, true)
	ctx := context.Background()

	assert.Equal(t, 4, limiter.Status(ctx, "usage", 4).Remaining)

	for i := 0; i < 3; i++ {
		_, err := limiter.Check(ctx, "usage", 4)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, limiter.Status(ctx, "usage", 4).Remaining)

	require.NoError(t, limiter.Reset(ctx, "usage"))
	assert.False(t, mr.Exists("ratelimit:usage"))

	_, _ = limiter.Check(ctx, "stale", 4)
	clk.Advance(30 * time.Hour)
	_, _ = limiter.Check(ctx, "fresh", 4)

	removed, err := limiter.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.False(t, mr.Exists("ratelimit:stale"))
	assert.True(t, mr.Exists("ratelimit:fresh"))
}

func TestRedisStore_FailOpenWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	limiter := NewLimiter(NewRedisStore(client, 0), clock.NewFake(start), true)
	mr.Close()

	res, err := limiter.Check(context.Background(), "down", 10)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.True(t, res.FailedOpen)
}
