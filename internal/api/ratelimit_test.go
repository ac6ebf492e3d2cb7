package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"livewatch/internal/observability/metrics"
	"livewatch/internal/verification"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTokenBucketRefills(t *testing.T) {
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	bucket := newTokenBucket(2, 2, clock.Now)

	if !bucket.allow() || !bucket.allow() {
		t.Fatalf("expected burst of two")
	}
	if bucket.allow() {
		t.Fatalf("expected empty bucket")
	}
	if wait := bucket.wait(); wait != 500*time.Millisecond {
		t.Fatalf("expected 500ms wait, got %s", wait)
	}
	clock.Advance(500 * time.Millisecond)
	if !bucket.allow() {
		t.Fatalf("expected a refilled token")
	}
}

func TestInvalidateLimitIsPerClient(t *testing.T) {
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	rl := newRateLimiter(RateLimitConfig{InvalidateLimit: 1, InvalidateWindow: time.Minute}, clock.Now)

	if ok, _ := rl.allowInvalidate("10.0.0.1"); !ok {
		t.Fatalf("expected first invalidation to pass")
	}
	ok, retry := rl.allowInvalidate("10.0.0.1")
	if ok || retry <= 0 {
		t.Fatalf("expected second invalidation to be limited, got ok=%v retry=%s", ok, retry)
	}
	if ok, _ := rl.allowInvalidate("10.0.0.2"); !ok {
		t.Fatalf("expected another client to have its own budget")
	}

	clock.Advance(3 * time.Minute)
	rl.allowInvalidate("10.0.0.3")
	rl.mu.Lock()
	_, stale := rl.clients["10.0.0.1"]
	rl.mu.Unlock()
	if stale {
		t.Fatalf("expected idle client to be evicted")
	}
}

func TestRouterRateLimitsInvalidation(t *testing.T) {
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng := &fakeEngine{results: map[string]verification.Result{"ch-1": mainResult("ch-1")}}
	srv := httptest.NewServer(NewRouter(RouterConfig{
		Handler:   NewHandler(eng, logger),
		Logger:    logger,
		Metrics:   metrics.New(),
		RateLimit: RateLimitConfig{InvalidateLimit: 2, InvalidateWindow: time.Minute},
		Now:       clock.Now,
	}))
	t.Cleanup(srv.Close)

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.Post(srv.URL+"/v1/channels/ch-1/invalidate", "application/json", nil)
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		resp.Body.Close()
		statuses = append(statuses, resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests && resp.Header.Get("Retry-After") != "30" {
			t.Fatalf("expected Retry-After 30, got %q", resp.Header.Get("Retry-After"))
		}
	}
	want := []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("expected statuses %v, got %v", want, statuses)
		}
	}

	resp, err := http.Get(srv.URL + "/v1/channels/ch-1/active-input")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected reads to bypass the invalidation budget, got %d", resp.StatusCode)
	}
}

func TestRouterGlobalRateLimit(t *testing.T) {
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng := &fakeEngine{results: map[string]verification.Result{"ch-1": mainResult("ch-1")}}
	handler := NewHandler(eng, logger)
	srv := httptest.NewServer(NewRouter(RouterConfig{
		Handler:   handler,
		Logger:    logger,
		Metrics:   metrics.New(),
		RateLimit: RateLimitConfig{GlobalRPS: 1, GlobalBurst: 1},
		Now:       clock.Now,
	}))
	t.Cleanup(srv.Close)

	first, err := http.Get(srv.URL + "/v1/channels/ch-1/active-input")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	first.Body.Close()
	second, err := http.Get(srv.URL + "/v1/channels/ch-1/active-input")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var body errorResponse
	decodeBody(t, second, &body)
	if second.StatusCode != http.StatusTooManyRequests || body.Category != categoryRateLimited {
		t.Fatalf("expected rate limited response, got %d %+v", second.StatusCode, body)
	}

	health, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("expected health to bypass the limiter, got %d", health.StatusCode)
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	securityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/resources", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Fatalf("expected %s %q, got %q", header, want, got)
		}
	}
}
