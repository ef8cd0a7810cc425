package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

type rateLimitEntry struct {
	count       int
	windowStart time.Time
}

// RateLimiter is a per-IP request counter over a fixed window, held in
// process memory. A coarse DoS guard in front of the webhook endpoint, not
// a security boundary: counts are per instance and lost on restart. Stale
// IPs get pruned so the map stays bounded.
type RateLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	entries   map[string]*rateLimitEntry
	lastPrune time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:     limit,
		window:    window,
		entries:   make(map[string]*rateLimitEntry),
		lastPrune: time.Now(),
	}
}

// Allow counts a request from ip and reports whether it is within the limit
func (r *RateLimiter) Allow(ip string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if now.Sub(r.lastPrune) >= r.window {
		for k, e := range r.entries {
			if now.Sub(e.windowStart) >= r.window {
				delete(r.entries, k)
			}
		}
		r.lastPrune = now
	}

	e, ok := r.entries[ip]
	if !ok || now.Sub(e.windowStart) >= r.window {
		r.entries[ip] = &rateLimitEntry{count: 1, windowStart: now}
		return true
	}

	e.count++
	return e.count <= r.limit
}

// Middleware rejects over-limit sources with 429 before any other work
func (r *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !r.Allow(c.RealIP(), time.Now()) {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"success": false,
					"message": "Too many requests",
				})
			}
			return next(c)
		}
	}
}
