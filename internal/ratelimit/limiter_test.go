package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dua-ia/dua-credits/internal/metrics"
)

func TestLimiter_Allow(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 10, BurstSize: 10})
	defer limiter.Close()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if !limiter.Allow(ctx, "user-1") {
			t.Errorf("request %d should be allowed", i)
		}
	}
	if limiter.Allow(ctx, "user-1") {
		t.Error("11th request should be denied")
	}
	if !limiter.Allow(ctx, "user-2") {
		t.Error("different user should be allowed")
	}
	if !limiter.Allow(ctx, "") {
		t.Error("anonymous caller should be allowed")
	}

	if err := limiter.Reset(ctx, "user-1"); err != nil {
		t.Fatal(err)
	}
	if !limiter.Allow(ctx, "user-1") {
		t.Error("should be allowed after reset")
	}
}

func TestLimiter_Defaults(t *testing.T) {
	limiter := NewLimiter(Config{})
	defer limiter.Close()
	if limiter.Capacity() != 20 || limiter.refillRate != 5 {
		t.Fatalf("unexpected defaults capacity=%f rate=%f", limiter.Capacity(), limiter.refillRate)
	}
	if got := limiter.Remaining(context.Background(), "user-1"); got != 20 {
		t.Fatalf("expected full bucket, got %f", got)
	}
}

type brokenStore struct{}

func (brokenStore) Allow(context.Context, string, float64, float64) (bool, float64, error) {
	return false, 0, errors.New("redis down")
}
func (brokenStore) Remaining(context.Context, string, float64, float64) (float64, error) {
	return 0, errors.New("redis down")
}
func (brokenStore) Reset(context.Context, string) error { return nil }
func (brokenStore) Close() error                        { return nil }

func TestLimiter_FailsOpen(t *testing.T) {
	limiter := NewLimiter(Config{Store: brokenStore{}, Logger: zerolog.Nop()})
	if !limiter.Allow(context.Background(), "user-1") {
		t.Fatal("store errors must not block requests")
	}
	if got := limiter.Remaining(context.Background(), "user-1"); got != limiter.Capacity() {
		t.Fatalf("expected capacity on error, got %f", got)
	}
}

func TestMemoryStore_EvictsIdleBuckets(t *testing.T) {
	store := NewMemoryStoreWithIdleTTL(10, 50*time.Millisecond)
	defer store.Close()
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if _, _, err := store.Allow(ctx, key, 100, 100); err != nil {
			t.Fatal(err)
		}
	}
	if store.Size() != 3 {
		t.Fatalf("expected 3 buckets, got %d", store.Size())
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.Size() != 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if store.Size() != 0 {
		t.Fatalf("expected idle buckets to be dropped, got %d", store.Size())
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestMiddleware(t *testing.T) {
	m := metrics.NewCollector()
	limiter := NewLimiter(Config{RequestsPerSecond: 0.001, BurstSize: 2})
	defer limiter.Close()
	key := func(r *http.Request) string { return r.Header.Get("X-User-ID") }
	handler := NewMiddleware(limiter, true, key, m, zerolog.Nop()).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/music/generate", nil)
		if user != "" {
			req.Header.Set("X-User-ID", user)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := do("user-1"); rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}
	rec := do("user-1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "2" || rec.Header().Get("X-RateLimit-Reset") == "" || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("missing rate limit headers: %v", rec.Header())
	}
	if m.GetSnapshot().RateLimitHits != 1 {
		t.Fatalf("expected one rate limit hit, got %d", m.GetSnapshot().RateLimitHits)
	}
	if rec := do(""); rec.Code != http.StatusNoContent {
		t.Fatalf("anonymous request: status %d", rec.Code)
	}

	disabled := NewMiddleware(limiter, false, key, m, zerolog.Nop())
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	if disabled.Wrap(next) == nil {
		t.Fatal("disabled middleware must return next")
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("DUA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DUA_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unreachable: %v", err)
	}
	store := NewRedisStoreWithClient(client, "dua:test:"+time.Now().Format("150405.000000")+":")
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		allowed, _, err := store.Allow(ctx, "user-1", 3, 0.001)
		if err != nil || !allowed {
			t.Fatalf("request %d: allowed=%v err=%v", i, allowed, err)
		}
	}
	allowed, remaining, err := store.Allow(ctx, "user-1", 3, 0.001)
	if err != nil || allowed {
		t.Fatalf("4th request: allowed=%v err=%v", allowed, err)
	}
	if remaining >= 1 {
		t.Fatalf("expected under one token, got %f", remaining)
	}
	if err := store.Reset(ctx, "user-1"); err != nil {
		t.Fatal(err)
	}
	if got, err := store.Remaining(ctx, "user-1", 3, 0.001); err != nil || got != 3 {
		t.Fatalf("Remaining after reset = %f, %v", got, err)
	}
}
