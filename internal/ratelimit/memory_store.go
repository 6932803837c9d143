package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

var _ Store = (*MemoryStore)(nil)

const (
	defaultMaxKeys = 100_000
	defaultIdleTTL = 5 * time.Minute
)

// MemoryStore keeps one token bucket per key in process. Buckets untouched for
// the idle TTL are evicted; a returning user starts with a full bucket, which
// is what an idle bucket would have refilled to anyway.
type MemoryStore struct {
	mu      sync.Mutex
	buckets *expirable.LRU[string, *TokenBucket]
}

// NewMemoryStore holds up to 100k buckets with a five minute idle TTL.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithIdleTTL(defaultMaxKeys, defaultIdleTTL)
}

// NewMemoryStoreWithIdleTTL bounds the store to maxKeys buckets, evicting
// any bucket idle for longer than ttl.
func NewMemoryStoreWithIdleTTL(maxKeys int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{buckets: expirable.NewLRU[string, *TokenBucket](maxKeys, nil, ttl)}
}

// Allow consumes one token from key's bucket.
func (s *MemoryStore) Allow(_ context.Context, key string, capacity, refillRate float64) (bool, float64, error) {
	b := s.bucket(key, capacity, refillRate)
	ok := b.Allow()
	return ok, b.Remaining(), nil
}

// Remaining returns key's available tokens.
func (s *MemoryStore) Remaining(_ context.Context, key string, capacity, refillRate float64) (float64, error) {
	return s.bucket(key, capacity, refillRate).Remaining(), nil
}

// Reset drops key's bucket so the next request starts full.
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets.Remove(key)
	return nil
}

// Close empties the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets.Purge()
	return nil
}

// Size returns the number of live buckets.
func (s *MemoryStore) Size() int {
	return s.buckets.Len()
}

// bucket returns key's bucket, creating it full, and re-adds it so the idle
// TTL counts from this access.
func (s *MemoryStore) bucket(key string, capacity, refillRate float64) *TokenBucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets.Get(key)
	if !ok {
		b = NewTokenBucket(capacity, refillRate)
	}
	s.buckets.Add(key, b)
	return b
}
