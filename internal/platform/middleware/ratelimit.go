package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/juju/ratelimit"
	"github.com/labstack/echo/v4"

	"github.com/clinic/his/internal/platform/metrics"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

// rateLimiterStore holds one token bucket per client IP.
type rateLimiterStore struct {
	buckets map[string]*ratelimit.Bucket
	mu      sync.RWMutex
	config  RateLimitConfig
}

func newRateLimiterStore(cfg RateLimitConfig) *rateLimiterStore {
	if cfg.RequestsPerSecond <= 0 || cfg.BurstSize <= 0 {
		cfg = DefaultRateLimitConfig()
	}
	return &rateLimiterStore{
		buckets: make(map[string]*ratelimit.Bucket),
		config:  cfg,
	}
}

func (s *rateLimiterStore) getBucket(key string) *ratelimit.Bucket {
	s.mu.RLock()
	bucket, ok := s.buckets[key]
	s.mu.RUnlock()
	if ok {
		return bucket
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket, ok := s.buckets[key]; ok {
		return bucket
	}
	bucket = ratelimit.NewBucketWithRate(s.config.RequestsPerSecond, int64(s.config.BurstSize))
	s.buckets[key] = bucket
	metrics.RateLimiterBucketsTotal.Set(float64(len(s.buckets)))
	return bucket
}

// cleanup drops buckets that have refilled completely; those clients have
// been idle long enough that a fresh bucket is equivalent.
func (s *rateLimiterStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, bucket := range s.buckets {
		if bucket.Available() == bucket.Capacity() {
			delete(s.buckets, key)
		}
	}
	metrics.RateLimiterBucketsTotal.Set(float64(len(s.buckets)))
}

// startCleanup runs cleanup every interval until ctx is done. The returned
// channel is closed once the goroutine has exited.
func (s *rateLimiterStore) startCleanup(ctx context.Context, every time.Duration) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(every)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	}()
	return done
}

// RateLimit returns a per-client-IP rate limiting middleware. Idle buckets
// are swept in the background until ctx is cancelled.
func RateLimit(ctx context.Context, cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newRateLimiterStore(cfg)
	store.startCleanup(ctx, 10*time.Minute)
	limit := strconv.FormatFloat(store.config.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			bucket := store.getBucket(c.RealIP())
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)

			if bucket.TakeAvailable(1) == 0 {
				retryAfter := int(1/bucket.Rate()) + 1
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(bucket.Available(), 10))
			return next(c)
		}
	}
}
