// Package ratelimit provides a per-client-IP token bucket at the HTTP edge,
// one instance per surface (CalDAV vs JSON API) so a noisy client on one
// never starves the other's budget.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter holds one rate.Limiter per client IP, lazily created with the
// configured burst/refill and garbage-collected once idle past a few
// refill periods.
type Limiter struct {
	mu       sync.Mutex
	visitors map[string]*visitorLimiter
	burst    int
	refill   rate.Limit
	period   time.Duration
}

type visitorLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New builds a Limiter allowing burst requests immediately, refilling one
// token every period/burst.
func New(burst int, period time.Duration) *Limiter {
	l := &Limiter{
		visitors: make(map[string]*visitorLimiter),
		burst:    burst,
		refill:   rate.Every(period / time.Duration(burst)),
		period:   period,
	}
	go l.cleanup()
	return l
}

func (l *Limiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		cutoff := l.period * 10
		l.mu.Lock()
		for k, v := range l.visitors {
			if time.Since(v.lastSeen) > cutoff {
				delete(l.visitors, k)
			}
		}
		l.mu.Unlock()
	}
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitorLimiter{limiter: rate.NewLimiter(l.refill, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// Allow reports whether another request from key is permitted right now.
func (l *Limiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// Middleware rate-limits by client IP, preferring X-Real-IP / X-Forwarded-For
// over RemoteAddr when present, matching the trust-the-proxy posture the
// rest of this service's access logging already takes.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}
