package api

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"sync"
	"time"
)

const categoryRateLimited = "rate_limited"

// RateLimitConfig bounds request volume. Invalidation requests force fresh
// provider calls, so they carry an extra per-client budget.
type RateLimitConfig struct {
	GlobalRPS        float64
	GlobalBurst      int
	InvalidateLimit  int
	InvalidateWindow time.Duration
}

type rateLimiter struct {
	global  *tokenBucket
	limit   int
	window  time.Duration
	now     func() time.Time
	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	bucket   *tokenBucket
	lastSeen time.Time
}

func newRateLimiter(cfg RateLimitConfig, now func() time.Time) *rateLimiter {
	if now == nil {
		now = time.Now
	}
	rl := &rateLimiter{
		limit:   cfg.InvalidateLimit,
		window:  cfg.InvalidateWindow,
		now:     now,
		clients: make(map[string]*clientLimiter),
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = max(int(cfg.GlobalRPS), 1)
		}
		rl.global = newTokenBucket(cfg.GlobalRPS, burst, now)
	}
	if rl.limit < 0 {
		rl.limit = 0
	}
	if rl.window <= 0 {
		rl.window = time.Minute
	}
	return rl
}

func (r *rateLimiter) allowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.allow()
}

// allowInvalidate reports whether key may invalidate now and, if not, how
// long until the next token.
func (r *rateLimiter) allowInvalidate(key string) (bool, time.Duration) {
	if r == nil || r.limit == 0 {
		return true, 0
	}
	if key == "" {
		key = "unknown"
	}
	now := r.now()
	r.mu.Lock()
	client, ok := r.clients[key]
	if !ok {
		rate := float64(r.limit) / r.window.Seconds()
		client = &clientLimiter{bucket: newTokenBucket(rate, r.limit, r.now)}
		r.clients[key] = client
	}
	client.lastSeen = now
	r.cleanupLocked(now)
	r.mu.Unlock()

	if client.bucket.allow() {
		return true, 0
	}
	return false, client.bucket.wait()
}

func (r *rateLimiter) cleanupLocked(now time.Time) {
	cutoff := now.Add(-2 * r.window)
	for key, client := range r.clients {
		if client.lastSeen.Before(cutoff) {
			delete(r.clients, key)
		}
	}
}

func (r *rateLimiter) middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if r == nil || (r.global == nil && r.limit == 0) {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !r.allowRequest() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, categoryRateLimited, errors.New("global rate limit exceeded"))
				return
			}
			if req.Method == http.MethodPost {
				ip := clientIP(req)
				if ok, retry := r.allowInvalidate(ip); !ok {
					logger.Warn("invalidation rate limited", "client_ip", ip, "path", req.URL.Path)
					w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil(retry.Seconds())))
					writeError(w, http.StatusTooManyRequests, categoryRateLimited, errors.New("too many invalidation requests"))
					return
				}
			}
			next.ServeHTTP(w, req)
		})
	}
}

// clientIP reads RemoteAddr, which chi's RealIP has already rewritten from
// forwarding headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type tokenBucket struct {
	mu        sync.Mutex
	rate      float64
	capacity  float64
	tokens    float64
	lastCheck time.Time
	now       func() time.Time
}

func newTokenBucket(rate float64, burst int, now func() time.Time) *tokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &tokenBucket{
		rate:      rate,
		capacity:  float64(burst),
		tokens:    float64(burst),
		lastCheck: now(),
		now:       now,
	}
}

func (tb *tokenBucket) refillLocked() {
	now := tb.now()
	tb.tokens = math.Min(tb.capacity, tb.tokens+now.Sub(tb.lastCheck).Seconds()*tb.rate)
	tb.lastCheck = now
}

func (tb *tokenBucket) allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked()
	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}

func (tb *tokenBucket) wait() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked()
	if tb.tokens >= 1 {
		return 0
	}
	return time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
}
