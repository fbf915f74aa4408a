package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const rateWindow = time.Minute

// DistributedRateLimiter counts requests per fixed one-minute window in Redis,
// so the limit is shared by every replica using the same server. Each window
// has its own key that expires one window after it closes.
type DistributedRateLimiter struct {
	redis  *redis.Client
	limit  int64
	prefix string
	now    func() time.Time
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config.RequestsPerMinute <= 0 {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ghauth:ratelimit"
	}

	return &DistributedRateLimiter{
		redis:  redisClient,
		limit:  int64(config.RequestsPerMinute + config.Burst),
		prefix: prefix,
		now:    time.Now,
	}
}

// Allow counts the request against the current window of key and reports
// whether the window is still within RequestsPerMinute plus Burst.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := rl.windowKey(key)

	var count *redis.IntCmd
	_, err := rl.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, 2*rateWindow)
		return nil
	})
	if err != nil {
		return true, fmt.Errorf("rate limit counter: %w", err)
	}

	return count.Val() <= rl.limit, nil
}

// Reset clears the current window of key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.windowKey(key)).Err()
}

func (rl *DistributedRateLimiter) windowKey(key string) string {
	window := rl.now().Unix() / int64(rateWindow/time.Second)
	return fmt.Sprintf("%s:%s:%d", rl.prefix, key, window)
}
