// Package ratelimit throttles write endpoints per caller.
package ratelimit

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/metadeploy/metadeploy-go/internal/platform/httpserver"
	"golang.org/x/time/rate"
)

// KeyFunc picks the bucket for a request; an empty key bypasses the limiter.
type KeyFunc func(r *http.Request) string

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	rate    rate.Limit
	burst   int
	key     KeyFunc
	logger  *slog.Logger
	now     func() time.Time
}

func New(perMinute int, burst int, key KeyFunc, logger *slog.Logger) *Limiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	if burst <= 0 {
		burst = 5
	}
	return &Limiter{
		entries: make(map[string]*entry),
		rate:    rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		key:     key,
		logger:  logger,
		now:     time.Now,
	}
}

// Allow reports whether the caller identified by key may proceed.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.entries[key] = e
	}
	now := l.now()
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Middleware limits non-safe methods only; reads are never throttled.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		key := ""
		if l.key != nil {
			key = l.key(r)
		}
		if key == "" || l.Allow(key) {
			next.ServeHTTP(w, r)
			return
		}
		if l.logger != nil {
			l.logger.Warn("rate limit exceeded", "key", key, "method", r.Method, "path", r.URL.Path)
		}
		w.Header().Set("Retry-After", "60")
		httpserver.WriteError(w, r, http.StatusTooManyRequests, "rate_limited")
	})
}

// Prune drops buckets idle for longer than maxIdle.
func (l *Limiter) Prune(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-maxIdle)
	removed := 0
	for key, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}
