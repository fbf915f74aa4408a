package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/platinummonkey/spoke-ghauth/pkg/httputil"
	"github.com/platinummonkey/spoke-ghauth/pkg/observability"
)

const maxTrackedClients = 10000

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained rate per client
	RequestsPerMinute int
	// Burst allows temporary bursts above the rate
	Burst int
}

// DefaultRateLimitConfig returns default rate limit settings
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
		Burst:             10,
	}
}

// Limiter decides whether a request identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimiter is an in-process token bucket per key. Idle keys are forgotten
// after a few minutes and at most maxTrackedClients keys are tracked.
type RateLimiter struct {
	config RateLimitConfig

	mu       sync.Mutex
	limiters *lru.LRU[string, *rate.Limiter]
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.RequestsPerMinute <= 0 {
		config = DefaultRateLimitConfig()
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}

	return &RateLimiter{
		config:   config,
		limiters: lru.NewLRU[string, *rate.Limiter](maxTrackedClients, nil, 5*time.Minute),
	}
}

// Allow checks if a request is allowed for the given key
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return rl.limiter(key).Allow(), nil
}

// limiter returns the bucket of key, creating it on first use
func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.config.RequestsPerMinute)), rl.config.Burst)
		rl.limiters.Add(key, limiter)
	}
	return limiter
}

// RateLimit rejects requests from clients over their limit with 429. Limiter
// errors let the request through.
func RateLimit(limiter Limiter, route string, metrics *observability.Metrics, logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + httputil.ClientIP(r)

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				observability.FromContext(r.Context(), logger).WithError(err).Warn("Rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				metrics.ObserveRateLimited(route)
				w.Header().Set("Retry-After", strconv.Itoa(60))
				httputil.WriteTooManyRequests(w, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
