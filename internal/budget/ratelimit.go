package budget

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cartrita/mcp/internal/mcperr"
)

// TokenBucket is a simple refill-rate rate limiter, the same shape the
// upstream gateway uses for HTTP request throttling, repurposed here for
// per-user/session/agent task admission.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	lastAccess time.Time
}

// NewTokenBucket creates a bucket refilling at requestsPerMinute with a burst
// capacity of burstSize.
func NewTokenBucket(requestsPerMinute, burstSize int) *TokenBucket {
	rate := float64(requestsPerMinute) / 60.0
	now := time.Now()
	return &TokenBucket{
		tokens:     float64(burstSize),
		maxTokens:  float64(burstSize),
		refillRate: rate,
		lastRefill: now,
		lastAccess: now,
	}
}

// Allow consumes one token if available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}
	tb.lastRefill = now
	tb.lastAccess = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

// RetryAfter estimates the wait, in seconds, until the next token is
// available. Used to populate the RATE_LIMITED hint (spec §4.7).
func (tb *TokenBucket) RetryAfter() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if tb.tokens >= 1.0 || tb.refillRate <= 0 {
		return 0
	}
	return (1.0 - tb.tokens) / tb.refillRate
}

func (tb *TokenBucket) LastAccess() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastAccess
}

// RateLimiter enforces per-key (user/session/agent) rate limits using token
// buckets, keyed lazily on first use.
type RateLimiter struct {
	mu                sync.RWMutex
	buckets           map[string]*TokenBucket
	requestsPerMinute int
	burstSize         int
}

// NewRateLimiter builds a RateLimiter. A zero requestsPerMinute/burstSize
// defaults to 60 rpm / burst 10.
func NewRateLimiter(requestsPerMinute, burstSize int) *RateLimiter {
	if requestsPerMinute == 0 {
		requestsPerMinute = 60
	}
	if burstSize == 0 {
		burstSize = 10
	}
	return &RateLimiter{
		buckets:           make(map[string]*TokenBucket),
		requestsPerMinute: requestsPerMinute,
		burstSize:         burstSize,
	}
}

// Allow admits one request under key, returning RATE_LIMITED with a
// Retry-After hint (in seconds) when the bucket is empty.
func (rl *RateLimiter) Allow(key string) error {
	bucket := rl.getBucket(key)
	if bucket.Allow() {
		return nil
	}
	retryAfter := bucket.RetryAfter()
	return mcperr.New(mcperr.RateLimited, fmt.Sprintf("rate limit exceeded for %q, retry after %.2fs", key, retryAfter))
}

func (rl *RateLimiter) getBucket(key string) *TokenBucket {
	rl.mu.RLock()
	bucket, exists := rl.buckets[key]
	rl.mu.RUnlock()
	if exists {
		return bucket
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if bucket, exists = rl.buckets[key]; exists {
		return bucket
	}
	bucket = NewTokenBucket(rl.requestsPerMinute, rl.burstSize)
	rl.buckets[key] = bucket
	return bucket
}

// StartEviction launches a background goroutine pruning buckets unused for
// maxAge, preventing unbounded growth from one-off callers.
func (rl *RateLimiter) StartEviction(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.EvictStale(maxAge)
			}
		}
	}()
}

// EvictStale removes buckets not accessed within maxAge.
func (rl *RateLimiter) EvictStale(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	evicted := 0
	for key, bucket := range rl.buckets {
		if bucket.LastAccess().Before(cutoff) {
			delete(rl.buckets, key)
			evicted++
		}
	}
	if evicted > 0 {
		slog.Debug("rate limiter eviction", "evicted", evicted, "remaining", len(rl.buckets))
	}
}

// BucketCount reports the number of tracked buckets.
func (rl *RateLimiter) BucketCount() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.buckets)
}
