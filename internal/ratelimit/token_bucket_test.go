package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestTokenBucket_BurstThenRefill(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	tb := newTokenBucketAt(3, 1, clock.now)

	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if tb.Allow() {
		t.Fatal("4th request should be denied")
	}
	if wait := tb.WaitTime(); wait != time.Second {
		t.Fatalf("expected 1s wait, got %v", wait)
	}

	clock.advance(1500 * time.Millisecond)
	if !tb.Allow() {
		t.Fatal("expected a refilled token")
	}
	if got := tb.Remaining(); got < 0.49 || got > 0.51 {
		t.Fatalf("expected ~0.5 remaining, got %f", got)
	}

	clock.advance(time.Hour)
	if got := tb.Remaining(); got != 3 {
		t.Fatalf("refill must cap at capacity, got %f", got)
	}
}

func TestTokenBucket_AllowN(t *testing.T) {
	tb := NewTokenBucket(10, 1)
	if !tb.AllowN(7) {
		t.Fatal("AllowN(7) should succeed")
	}
	if tb.AllowN(7) {
		t.Fatal("second AllowN(7) should fail")
	}
	tb.Reset()
	if !tb.AllowN(10) {
		t.Fatal("AllowN(10) should succeed after reset")
	}
}

func TestTokenBucket_Concurrent(t *testing.T) {
	tb := NewTokenBucket(100, 0.0001)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tb.Allow() {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 100 {
		t.Fatalf("expected exactly 100 allowed, got %d", allowed)
	}
}
