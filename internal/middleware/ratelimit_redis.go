package middleware

import (
	"context"
	"fmt"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a Limiter backed by the GCRA implementation of redis_rate, so
// every instance behind the load balancer shares the same budget.
type RedisLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

// NewRedisLimiter builds a shared limiter from the same config as RateLimiter.
func NewRedisLimiter(rdb redis.UniversalClient, cfg RateLimitConfig) *RedisLimiter {
	return &RedisLimiter{
		limiter: redis_rate.NewLimiter(rdb),
		limit:   redisLimit(cfg),
		prefix:  "shr:ratelimit:",
	}
}

func redisLimit(cfg RateLimitConfig) redis_rate.Limit {
	period := cfg.Period
	if period <= 0 {
		period = DefaultRateLimitConfig().Period
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.Requests
	}
	return redis_rate.Limit{Rate: cfg.Requests, Burst: burst, Period: period}
}

// Allow implements Limiter
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := l.limiter.Allow(ctx, l.prefix+key, l.limit)
	if err != nil {
		return Decision{}, fmt.Errorf("redis rate limit: %w", err)
	}
	return Decision{
		Allowed:    res.Allowed > 0,
		Limit:      res.Limit.Rate,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}
