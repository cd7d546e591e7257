package server

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter is a fixed-window request counter keyed by client
type RateLimiter struct {
	counters     map[string]*rateLimitEntry
	mu           sync.Mutex
	maxRequests  int
	windowPeriod time.Duration
	now          func() time.Time
}

type rateLimitEntry struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates a limiter allowing maxRequests per windowPeriod.
// A maxRequests of zero disables limiting.
func NewRateLimiter(maxRequests int, windowPeriod time.Duration) *RateLimiter {
	return &RateLimiter{
		counters:     make(map[string]*rateLimitEntry),
		maxRequests:  maxRequests,
		windowPeriod: windowPeriod,
		now:          time.Now,
	}
}

// Allow records a request for key and reports whether it is within the
// limit, together with the end of the current window.
func (r *RateLimiter) Allow(key string) (bool, time.Time) {
	if r.maxRequests <= 0 {
		return true, time.Time{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.counters[key]
	if !ok || now.Sub(entry.windowStart) >= r.windowPeriod {
		r.counters[key] = &rateLimitEntry{count: 1, windowStart: now}
		r.sweep(now)
		return true, now.Add(r.windowPeriod)
	}

	entry.count++
	return entry.count <= r.maxRequests, entry.windowStart.Add(r.windowPeriod)
}

// sweep drops expired windows so idle clients do not accumulate
func (r *RateLimiter) sweep(now time.Time) {
	for k, e := range r.counters {
		if now.Sub(e.windowStart) >= r.windowPeriod {
			delete(r.counters, k)
		}
	}
}

// Middleware rejects requests over the limit with 429, keyed by client IP.
func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ok, reset := r.Allow(clientIP(req))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(r.retryAfter(reset)))
			writeError(w, req, http.StatusTooManyRequests, "rate_limit", errRateLimited)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// retryAfter returns the whole seconds until reset, at least one
func (r *RateLimiter) retryAfter(reset time.Time) int {
	secs := int(math.Ceil(reset.Sub(r.now()).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// clientIP strips the port from RemoteAddr. middleware.RealIP runs first
// and may already have replaced it with a bare address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
