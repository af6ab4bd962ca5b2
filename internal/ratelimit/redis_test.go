package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLimiter_FallsBackWhenUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	limiter := NewRedisLimiter(client, time.Minute, nil)
	ctx := context.Background()

	allowed, _, _ := limiter.Check(ctx, "owner", 1)
	assert.True(t, allowed)
	allowed, _, _ = limiter.Check(ctx, "owner", 1)
	assert.False(t, allowed, "fallback limiter still enforces the limit")
}

func TestRedisLimiter_SlidingWindow(t *testing.T) {
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(redisURL)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	limiter := NewRedisLimiter(client, 10*time.Second, nil)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	for i := 0; i < 3; i++ {
		allowed, remaining, _ := limiter.Check(ctx, key, 3)
		assert.True(t, allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 3-i-1, remaining)
	}

	allowed, _, resetAt := limiter.Check(ctx, key, 3)
	assert.False(t, allowed)
	assert.Greater(t, resetAt, time.Now().Unix())
}
