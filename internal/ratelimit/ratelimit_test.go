package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeClock is a controllable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(rate int, window time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := New(rate, window)
	l.now = clock.Now
	return l, clock
}

func TestAllow_PerKeyBuckets(t *testing.T) {
	l, _ := newTestLimiter(2, time.Minute)

	for i := 0; i < 2; i++ {
		if !l.Allow("user-1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow("user-1") {
		t.Fatal("3rd request should be denied")
	}
	if !l.Allow("user-2") {
		t.Fatal("a different user should have its own bucket")
	}
}

func TestAllow_Refill(t *testing.T) {
	// 60 per minute refills one token per second.
	l, clock := newTestLimiter(60, time.Minute)

	for i := 0; i < 60; i++ {
		l.Allow("k")
	}
	if l.Allow("k") {
		t.Fatal("should be denied after exhausting tokens")
	}

	clock.Advance(time.Second)
	if !l.Allow("k") {
		t.Fatal("should be allowed after 1 second refill")
	}
	if l.Allow("k") {
		t.Fatal("should be denied after consuming the refilled token")
	}

	clock.Advance(10 * time.Minute)
	if _, remaining, _ := l.Status("k"); remaining != 60 {
		t.Fatalf("remaining should cap at 60, got %d", remaining)
	}
}

func TestAllow_Concurrent(t *testing.T) {
	l, _ := newTestLimiter(100, time.Minute)

	var wg sync.WaitGroup
	allowed := make(chan bool, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- l.Allow("concurrent")
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for ok := range allowed {
		if ok {
			count++
		}
	}
	if count != 100 {
		t.Fatalf("expected exactly 100 allowed, got %d", count)
	}
}

func TestStatus(t *testing.T) {
	l, clock := newTestLimiter(10, time.Minute)

	limit, remaining, resetAt := l.Status("s")
	if limit != 10 || remaining != 10 {
		t.Fatalf("fresh bucket: expected 10/10, got %d/%d", limit, remaining)
	}
	if !resetAt.Equal(clock.Now()) {
		t.Fatalf("full bucket resetAt should equal now, got diff %v", resetAt.Sub(clock.Now()))
	}

	l.Allow("s")
	l.Allow("s")
	l.Allow("s")

	_, remaining, resetAt = l.Status("s")
	if remaining != 7 {
		t.Fatalf("expected remaining 7, got %d", remaining)
	}
	// 3 tokens at 1 per 6 seconds.
	if d := resetAt.Sub(clock.Now()) - 18*time.Second; d < -time.Millisecond || d > time.Millisecond {
		t.Fatalf("expected resetAt about 18s ahead, got %v", resetAt.Sub(clock.Now()))
	}
}

func TestPrune(t *testing.T) {
	l, clock := newTestLimiter(5, time.Minute)

	l.Allow("old")
	clock.Advance(2 * time.Minute)
	l.Allow("fresh")

	if n := l.Prune(); n != 1 {
		t.Fatalf("expected 1 pruned bucket, got %d", n)
	}
	if _, ok := l.buckets["fresh"]; !ok {
		t.Fatal("recent bucket should survive pruning")
	}
}

func TestMiddleware(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)
	byHeader := func(r *http.Request) string { return r.Header.Get("X-User") }

	handler := Middleware(l, byHeader)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/sync", nil)
		if user != "" {
			req.Header.Set("X-User", user)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := serve("u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "1" {
		t.Errorf("expected X-RateLimit-Limit 1, got %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0, got %q", got)
	}

	rec = serve("u1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rec.Code)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "rate_limited" {
		t.Errorf("expected code rate_limited, got %q", body.Error.Code)
	}

	if rec := serve("u2"); rec.Code != http.StatusOK {
		t.Errorf("other user: expected 200, got %d", rec.Code)
	}
	for i := 0; i < 3; i++ {
		if rec := serve(""); rec.Code != http.StatusOK {
			t.Errorf("keyless request: expected 200, got %d", rec.Code)
		}
	}
}
