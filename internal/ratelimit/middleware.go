package ratelimit

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dua-ia/dua-credits/internal/metrics"
)

// KeyFunc extracts the caller's user id; it runs after authentication.
type KeyFunc func(r *http.Request) string

// Middleware wraps an HTTP handler with rate limiting.
type Middleware struct {
	limiter *Limiter
	enabled bool
	key     KeyFunc
	metrics *metrics.Collector
	log     zerolog.Logger
}

// NewMiddleware creates a new rate limiting middleware.
func NewMiddleware(limiter *Limiter, enabled bool, key KeyFunc, m *metrics.Collector, logger zerolog.Logger) *Middleware {
	return &Middleware{
		limiter: limiter,
		enabled: enabled && limiter != nil && key != nil,
		key:     key,
		metrics: m,
		log:     logger,
	}
}

// Wrap applies rate limiting to an HTTP handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if !m.enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := m.key(r)
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}

		allowed, remaining := m.limiter.Take(r.Context(), userID)
		m.setHeaders(w, remaining)
		if !allowed {
			if m.metrics != nil {
				m.metrics.RecordRateLimitHit()
			}
			m.log.Info().Str("user_id", userID).Str("path", r.URL.Path).Msg("rate limit exceeded")
			retry := int64(math.Ceil(refillDuration(1-remaining, m.limiter.refillRate).Seconds()))
			w.Header().Set("Retry-After", strconv.FormatInt(max(retry, 1), 10))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error": "Rate limit exceeded. Please try again later.",
				"code":  "RATE_LIMITED",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// setHeaders follows draft-polli-ratelimit-headers.
func (m *Middleware) setHeaders(w http.ResponseWriter, remaining float64) {
	limit := m.limiter.capacity
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%.0f", limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%.0f", math.Floor(remaining)))
	if remaining < limit {
		reset := time.Now().Add(refillDuration(limit-remaining, m.limiter.refillRate))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
	}
}
