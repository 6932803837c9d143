package ratelimit

import (
	"math"
	"sync"
	"time"
)

// TokenBucket refills continuously at rate tokens per second up to capacity.
// A bucket of capacity 20 and rate 5 admits a burst of 20, then 5 per second.
type TokenBucket struct {
	mu       sync.Mutex
	capacity float64
	rate     float64
	tokens   float64
	stamp    time.Time
	clock    func() time.Time
}

// NewTokenBucket returns a full bucket.
func NewTokenBucket(capacity, rate float64) *TokenBucket {
	return newTokenBucketAt(capacity, rate, time.Now)
}

func newTokenBucketAt(capacity, rate float64, clock func() time.Time) *TokenBucket {
	return &TokenBucket{capacity: capacity, rate: rate, tokens: capacity, stamp: clock(), clock: clock}
}

// Allow takes one token.
func (tb *TokenBucket) Allow() bool {
	ok, _ := tb.take(1)
	return ok
}

// AllowN takes n tokens, or none if fewer than n are available.
func (tb *TokenBucket) AllowN(n float64) bool {
	ok, _ := tb.take(n)
	return ok
}

// Remaining reports the tokens available now.
func (tb *TokenBucket) Remaining() float64 {
	_, left := tb.take(0)
	return left
}

// Reset fills the bucket.
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	tb.tokens = tb.capacity
	tb.stamp = tb.clock()
	tb.mu.Unlock()
}

// WaitTime is how long until one whole token is available.
func (tb *TokenBucket) WaitTime() time.Duration {
	left := tb.Remaining()
	if left >= 1 {
		return 0
	}
	return refillDuration(1-left, tb.rate)
}

// take refills for the time elapsed since the last call, then removes n
// tokens if that many are present. It returns the balance after the attempt.
func (tb *TokenBucket) take(n float64) (bool, float64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := tb.clock()
	tb.tokens = math.Min(tb.capacity, tb.tokens+now.Sub(tb.stamp).Seconds()*tb.rate)
	tb.stamp = now
	if tb.tokens < n {
		return false, tb.tokens
	}
	tb.tokens -= n
	return true, tb.tokens
}

// refillDuration is how long rate needs to produce missing tokens.
func refillDuration(missing, rate float64) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(missing / rate * float64(time.Second))
}
