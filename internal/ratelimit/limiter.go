// Package ratelimit provides the quota checks consulted by the secret
// engine. The store treats a rejection as a hard failure, never a
// retryable condition.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter reports whether an action keyed by an opaque identifier (an
// owner fingerprint, a share identifier) may proceed right now.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// TokenBucket is an in-memory per-key token bucket limiter.
type TokenBucket struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   int

	now func() time.Time
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// NewTokenBucket creates a limiter refilling at rate tokens/second with
// the given burst capacity.
func NewTokenBucket(rate float64, burst int) *TokenBucket {
	return &TokenBucket{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		now:     time.Now,
	}
}

func (tb *TokenBucket) Allow(ctx context.Context, key string) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(tb.burst), lastCheck: tb.now()}
		tb.buckets[key] = b
	}
	now := tb.now()
	elapsed := now.Sub(b.lastCheck).Seconds()
	b.tokens += elapsed * tb.rate
	if b.tokens > float64(tb.burst) {
		b.tokens = float64(tb.burst)
	}
	b.lastCheck = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Unlimited never rejects. Used where quota enforcement is disabled.
type Unlimited struct{}

func (Unlimited) Allow(ctx context.Context, key string) bool { return true }
