// ratelimit.go implements a per-IP fixed-window rate limiter kept in
// memory. Applied to the login and register endpoints to slow down
// brute-force and credential stuffing attempts; the counters are
// deliberately not shared across instances.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// ipWindow tracks request counts for a single client IP within the
// current window.
type ipWindow struct {
	count   int
	started time.Time
}

// RateLimit returns middleware that allows maxRequests per client IP
// within the given window and answers 429 beyond that. Each call owns
// its own counters, so login and register are limited independently.
func RateLimit(maxRequests int, window time.Duration) echo.MiddlewareFunc {
	var mu sync.Mutex
	windows := make(map[string]*ipWindow)

	// Sweep stale counters so idle IPs don't accumulate forever.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			mu.Lock()
			now := time.Now()
			for ip, w := range windows {
				if now.Sub(w.started) > window*2 {
					delete(windows, ip)
				}
			}
			mu.Unlock()
		}
	}()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			now := time.Now()

			mu.Lock()
			w, ok := windows[ip]
			if !ok || now.Sub(w.started) > window {
				windows[ip] = &ipWindow{count: 1, started: now}
				mu.Unlock()
				return next(c)
			}

			w.count++
			if w.count > maxRequests {
				mu.Unlock()
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error":   "rate_limited",
					"message": "too many attempts, please try again later",
				})
			}
			mu.Unlock()

			return next(c)
		}
	}
}
