package server

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"marginchain/observability"
)

// RateLimit bounds requests per client address. A zero rate disables
// limiting. X-Real-IP and X-Forwarded-For are only honoured when
// TrustProxyHeaders is set, i.e. behind a proxy that overwrites them.
type RateLimit struct {
	PerSecond         float64
	Burst             int
	IdleTTL           time.Duration
	TrustProxyHeaders bool
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiter struct {
	cfg      RateLimit
	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
}

func newRateLimiter(cfg RateLimit) *rateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &rateLimiter{cfg: cfg, visitors: make(map[string]*visitor), now: time.Now}
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.cfg.PerSecond <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		if !rl.allow(clientID(r, rl.cfg.TrustProxyHeaders)) {
			observability.API().RecordThrottle(routePattern(r))
			w.Header().Set("Retry-After", "1")
			writeJSONError(w, http.StatusTooManyRequests, errors.New(http.StatusText(http.StatusTooManyRequests)))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *rateLimiter) allow(id string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	entry, ok := rl.visitors[id]
	if !ok {
		entry = &visitor{limiter: rate.NewLimiter(rate.Limit(rl.cfg.PerSecond), rl.cfg.Burst)}
		rl.visitors[id] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// sweep forgets callers idle for longer than IdleTTL.
func (rl *rateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-rl.cfg.IdleTTL)
	for id, entry := range rl.visitors {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.visitors, id)
		}
	}
}

// clientID keys the limiter on the network peer. X-Caller is never used: it
// is an unauthenticated claim the client can rotate freely.
func clientID(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
				return parsed.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
