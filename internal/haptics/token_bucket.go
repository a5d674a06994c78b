package haptics

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket is a thread-safe token bucket with throttling counters.
//
// The bucket has a fixed capacity and refills at a constant rate.
// Each vibration consumes one token. When the bucket is empty,
// vibrations are dropped until tokens refill.
type TokenBucket struct {
	limiter    *rate.Limiter
	now        func() time.Time
	hitCount   atomic.Int64 // requests that were throttled
	totalCount atomic.Int64 // requests seen
}

// NewTokenBucket creates a new token bucket with the specified capacity and
// refill rate (tokens per second). The bucket starts full.
func NewTokenBucket(capacity, refillRate int) *TokenBucket {
	return newTokenBucketWithClock(capacity, refillRate, time.Now)
}

func newTokenBucketWithClock(capacity, refillRate int, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		limiter: rate.NewLimiter(rate.Limit(refillRate), capacity),
		now:     now,
	}
}

// Allow attempts to consume one token from the bucket.
func (tb *TokenBucket) Allow() bool {
	tb.totalCount.Add(1)
	if tb.limiter.AllowN(tb.now(), 1) {
		return true
	}
	tb.hitCount.Add(1)
	return false
}

// Stats returns how many requests were throttled and how many were seen.
func (tb *TokenBucket) Stats() (hits, total int64) {
	return tb.hitCount.Load(), tb.totalCount.Load()
}
