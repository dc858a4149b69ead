package service

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("TEST_REDIS_URL not set")
	}

	opts, err := redis.ParseURL(redisURL)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.FlushDB(context.Background()).Err())
	return client
}

func TestRateLimiter_Basic(t *testing.T) {
	redisClient := setupTestRedis(t)
	ctx := context.Background()

	mockClock := clock.NewMock()
	mockClock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewRateLimiter(redisClient, mockClock)

	t.Run("allows requests within limit", func(t *testing.T) {
		key := "test:ip1"
		limit := 3
		window := 10 * time.Second

		for i := 0; i < limit; i++ {
			allowed, _, err := limiter.CheckLimit(ctx, key, limit, window)
			require.NoError(t, err)
			assert.True(t, allowed, "Request %d should be allowed", i+1)
		}

		allowed, resetAt, err := limiter.CheckLimit(ctx, key, limit, window)
		require.NoError(t, err)
		assert.False(t, allowed, "Request should be rate limited")
		assert.True(t, resetAt.After(mockClock.Now()), "Reset time should be in future")
	})

	t.Run("sliding window behavior", func(t *testing.T) {
		key := "test:ip2"
		limit := 2
		window := 2 * time.Second

		allowed, _, _ := limiter.CheckLimit(ctx, key, limit, window)
		assert.True(t, allowed)
		allowed, _, _ = limiter.CheckLimit(ctx, key, limit, window)
		assert.True(t, allowed)

		allowed, _, _ = limiter.CheckLimit(ctx, key, limit, window)
		assert.False(t, allowed)

		mockClock.Add(3 * time.Second)

		allowed, _, _ = limiter.CheckLimit(ctx, key, limit, window)
		assert.True(t, allowed)
	})

	t.Run("different keys are independent", func(t *testing.T) {
		limit := 1
		window := 10 * time.Second

		allowed, _, _ := limiter.CheckLimit(ctx, "test:independent1", limit, window)
		assert.True(t, allowed)
		allowed, _, _ = limiter.CheckLimit(ctx, "test:independent1", limit, window)
		assert.False(t, allowed)

		allowed, _, _ = limiter.CheckLimit(ctx, "test:independent2", limit, window)
		assert.True(t, allowed)
	})
}

func TestRateLimiter_RedisFailure(t *testing.T) {
	invalidClient := redis.NewClient(&redis.Options{
		Addr:        "localhost:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer invalidClient.Close()

	limiter := NewRateLimiter(invalidClient, nil)

	allowed, resetAt, err := limiter.CheckLimit(context.Background(), "test:key", 1, time.Minute)
	require.Error(t, err)
	assert.False(t, allowed)
	assert.True(t, resetAt.After(time.Now()))
}
