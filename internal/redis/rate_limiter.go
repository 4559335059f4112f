package redis

import (
	"context"
	"fmt"
	"time"

	"ghibli-go/internal/config"
	"ghibli-go/internal/middleware"

	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "rl:convert:"

// redisRateLimiter 是 middleware.RateLimiter 的 Redis 固定窗口实现。
type redisRateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// NewRedisRateLimiter 创建一个新的 redisRateLimiter 实例。
func NewRedisRateLimiter(client *redis.Client, cfg config.RateLimitConfig) middleware.RateLimiter {
	return &redisRateLimiter{client: client, limit: cfg.Requests, window: cfg.Window}
}

// Allow 对 key 计数, 窗口内第一次请求时设置过期时间。
// 超出限制时返回 false 以及距窗口结束的剩余时间。
func (r *redisRateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	redisKey := rateLimitKeyPrefix + key

	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, 0, fmt.Errorf("Redis 计数失败 for key %s: %w", key, err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, redisKey, r.window).Err(); err != nil {
			return false, 0, fmt.Errorf("设置 Redis 过期时间失败 for key %s: %w", key, err)
		}
	}
	if count <= r.limit {
		return true, 0, nil
	}

	ttl, err := r.client.TTL(ctx, redisKey).Result()
	if err != nil {
		return false, 0, fmt.Errorf("读取 Redis TTL 失败 for key %s: %w", key, err)
	}
	if ttl < 0 {
		// 键没有过期时间 (例如 EXPIRE 之前进程退出), 重新设置避免永久封禁
		if err := r.client.Expire(ctx, redisKey, r.window).Err(); err != nil {
			return false, 0, fmt.Errorf("设置 Redis 过期时间失败 for key %s: %w", key, err)
		}
		ttl = r.window
	}
	return false, ttl, nil
}
