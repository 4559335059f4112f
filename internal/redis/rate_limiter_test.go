package redis

import (
	"context"
	"testing"
	"time"

	"ghibli-go/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, limit int64, window time.Duration) (*miniredis.Miniredis, *redisRateLimiter) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := NewRedisRateLimiter(client, config.RateLimitConfig{Enabled: true, Requests: limit, Window: window})
	return mr, limiter.(*redisRateLimiter)
}

func TestRedisRateLimiterAllow(t *testing.T) {
	mr, limiter := newTestLimiter(t, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i+1)
	}

	allowed, retryAfter, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, time.Minute, retryAfter)

	// 其他客户端不受影响
	allowed, _, err = limiter.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, allowed)

	mr.FastForward(time.Minute + time.Second)

	allowed, _, err = limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, allowed, "window should reset after expiry")
}

func TestRedisRateLimiterRepairsMissingTTL(t *testing.T) {
	mr, limiter := newTestLimiter(t, 1, time.Minute)
	require.NoError(t, mr.Set(rateLimitKeyPrefix+"10.0.0.9", "5"))

	allowed, retryAfter, err := limiter.Allow(context.Background(), "10.0.0.9")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, time.Minute, retryAfter)
	assert.Equal(t, time.Minute, mr.TTL(rateLimitKeyPrefix+"10.0.0.9"))
}

func TestRedisRateLimiterUnavailable(t *testing.T) {
	mr, limiter := newTestLimiter(t, 1, time.Minute)
	mr.Close()

	_, _, err := limiter.Allow(context.Background(), "10.0.0.1")
	assert.Error(t, err)
}
