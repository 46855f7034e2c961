// ratelimit.go provides Gin middleware that enforces per-client rate limits and
// answers 429 when a client runs out of budget. Limits come from a Limiter: the
// in-process token bucket below, or RedisLimiter when several instances share Redis.
package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shelter-registry/shelter-registry/internal/safego"
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	// Requests is the number of requests refilled per Period
	Requests int
	// Period is the refill window (defaults to one minute)
	Period time.Duration
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
	// CleanupInterval is how often idle entries are evicted
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns the general API limits
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Requests:        200,
		Period:          time.Minute,
		BurstSize:       50,
		CleanupInterval: 5 * time.Minute,
	}
}

// AuthRateLimitConfig returns stricter limits for login endpoints
func AuthRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Requests:        10,
		Period:          time.Minute,
		BurstSize:       5,
		CleanupInterval: 5 * time.Minute,
	}
}

// PasswordResetRateLimitConfig allows perHour reset requests per client
func PasswordResetRateLimitConfig(perHour int) RateLimitConfig {
	if perHour <= 0 {
		perHour = 5
	}
	return RateLimitConfig{
		Requests:        perHour,
		Period:          time.Hour,
		BurstSize:       perHour,
		CleanupInterval: 10 * time.Minute,
	}
}

func (c RateLimitConfig) perSecond() float64 {
	period := c.Period
	if period <= 0 {
		period = time.Minute
	}
	return float64(c.Requests) / period.Seconds()
}

// rateLimitEntry tracks the bucket of a single client
type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter is an in-process token bucket limiter
type RateLimiter struct {
	config  RateLimitConfig
	entries map[string]*rateLimitEntry
	mu      sync.RWMutex
	stopCh  chan struct{}
	done    chan struct{}
	now     func() time.Time
}

// NewRateLimiter creates a limiter and starts its cleanup goroutine
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:  config,
		entries: make(map[string]*rateLimitEntry),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	safego.Go("ratelimit-cleanup", rl.cleanup)
	return rl
}

// idleTTL is how long an untouched entry is kept: long enough to refill completely.
func (rl *RateLimiter) idleTTL() time.Duration {
	perSecond := rl.config.perSecond()
	if perSecond <= 0 {
		return 10 * time.Minute
	}
	return max(10*time.Minute, time.Duration(float64(rl.config.BurstSize)/perSecond*float64(time.Second)))
}

func (rl *RateLimiter) cleanup() {
	defer close(rl.done)
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			ttl := rl.idleTTL()
			for key, entry := range rl.entries {
				if now.Sub(entry.lastUpdate) > ttl {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop ends the cleanup goroutine and waits for it to exit
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
	<-rl.done
}

// Allow implements Limiter
func (rl *RateLimiter) Allow(_ context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	burst := float64(rl.config.BurstSize)
	entry, exists := rl.entries[key]
	if !exists {
		entry = &rateLimitEntry{tokens: burst, lastUpdate: now}
		rl.entries[key] = entry
	} else {
		elapsed := now.Sub(entry.lastUpdate).Seconds()
		entry.tokens = math.Min(burst, entry.tokens+elapsed*rl.config.perSecond())
		entry.lastUpdate = now
	}

	d := Decision{Limit: rl.config.Requests}
	if entry.tokens >= 1 {
		entry.tokens--
		d.Allowed = true
	} else if perSecond := rl.config.perSecond(); perSecond > 0 {
		d.RetryAfter = time.Duration((1 - entry.tokens) / perSecond * float64(time.Second))
	}
	d.Remaining = int(entry.tokens)
	return d, nil
}

// RateLimitMiddleware rejects requests the limiter refuses. Keys are prefixed
// with scope so several limiters can share one backend. Limiter errors fail open.
func RateLimitMiddleware(limiter Limiter, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := scope + ":" + rateLimitKey(c)

		d, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			slog.Warn("rate limiter unavailable, allowing request", "scope", scope, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			retry := int(math.Ceil(d.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retry,
			})
			return
		}

		c.Next()
	}
}

// rateLimitKey prefers the session subject and falls back to the client IP
func rateLimitKey(c *gin.Context) string {
	if subject := Subject(c); subject != "" {
		return "session:" + subject
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
