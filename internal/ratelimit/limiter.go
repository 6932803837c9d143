package ratelimit

import (
	"context"

	"github.com/rs/zerolog"
)

// Store holds bucket state. MemoryStore serves a single instance; RedisStore
// shares buckets across instances.
type Store interface {
	// Allow consumes one token from key's bucket.
	Allow(ctx context.Context, key string, capacity, refillRate float64) (allowed bool, remaining float64, err error)
	Remaining(ctx context.Context, key string, capacity, refillRate float64) (float64, error)
	Reset(ctx context.Context, key string) error
	Close() error
}

// Config holds configuration for the rate limiter.
type Config struct {
	// Store defaults to a MemoryStore.
	Store Store
	// RequestsPerSecond is the sustained per-user rate.
	RequestsPerSecond float64
	// BurstSize is the bucket capacity.
	BurstSize float64
	Logger    zerolog.Logger
}

// DefaultConfig suits the gated generation endpoints.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 5,
		BurstSize:         20,
		Logger:            zerolog.Nop(),
	}
}

// Limiter applies a per-user token bucket. Store failures fail open.
type Limiter struct {
	store      Store
	capacity   float64
	refillRate float64
	log        zerolog.Logger
}

// NewLimiter creates a new rate limiter with the given configuration.
func NewLimiter(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = def.BurstSize
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	return &Limiter{
		store:      store,
		capacity:   cfg.BurstSize,
		refillRate: cfg.RequestsPerSecond,
		log:        cfg.Logger.With().Str("component", "ratelimit").Logger(),
	}
}

// Allow reports whether userID may make another request. Anonymous callers
// are not limited here.
func (l *Limiter) Allow(ctx context.Context, userID string) bool {
	allowed, _ := l.Take(ctx, userID)
	return allowed
}

// Take consumes a token for userID and returns the tokens left. A failing
// store admits the request and reports a full bucket.
func (l *Limiter) Take(ctx context.Context, userID string) (bool, float64) {
	if userID == "" {
		return true, l.capacity
	}
	allowed, remaining, err := l.store.Allow(ctx, userKey(userID), l.capacity, l.refillRate)
	if err != nil {
		l.log.Warn().Err(err).Str("user_id", userID).Msg("rate limit store unavailable, allowing request")
		return true, l.capacity
	}
	return allowed, remaining
}

// Remaining returns the tokens left for userID.
func (l *Limiter) Remaining(ctx context.Context, userID string) float64 {
	if userID == "" {
		return l.capacity
	}
	remaining, err := l.store.Remaining(ctx, userKey(userID), l.capacity, l.refillRate)
	if err != nil {
		return l.capacity
	}
	return remaining
}

// Reset refills userID's bucket.
func (l *Limiter) Reset(ctx context.Context, userID string) error {
	return l.store.Reset(ctx, userKey(userID))
}

// Capacity is the burst size.
func (l *Limiter) Capacity() float64 {
	return l.capacity
}

// Close releases the store.
func (l *Limiter) Close() error {
	return l.store.Close()
}

func userKey(userID string) string {
	return "user:" + userID
}
