package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures the per-client limiter.
type RateLimitConfig struct {
	// Max requests are allowed per Window, with bursts up to Max.
	Max    int
	Window time.Duration
	// KeyFunc extracts the client key. Defaults to the client IP.
	KeyFunc func(*http.Request) string
	// Skip exempts requests from limiting, e.g. probes.
	Skip func(*http.Request) bool
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiter struct {
	cfg   RateLimitConfig
	limit rate.Limit
	now   func() time.Time

	mu      sync.Mutex
	clients map[string]*client
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.Max <= 0 {
		cfg.Max = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &limiter{
		cfg:     cfg,
		limit:   rate.Limit(float64(cfg.Max) / cfg.Window.Seconds()),
		now:     time.Now,
		clients: make(map[string]*client),
	}
}

// reserve takes a token for key. It returns the tokens left and, when the
// request is refused, how long until a token is available.
func (l *limiter) reserve(key string) (remaining int, wait time.Duration, ok bool) {
	now := l.now()

	l.mu.Lock()
	c, found := l.clients[key]
	if !found {
		c = &client{limiter: rate.NewLimiter(l.limit, l.cfg.Max)}
		l.clients[key] = c
	}
	c.lastSeen = now
	l.mu.Unlock()

	if !c.limiter.AllowN(now, 1) {
		r := c.limiter.ReserveN(now, 1)
		wait = r.DelayFrom(now)
		r.CancelAt(now)
		return 0, wait, false
	}
	return int(math.Max(0, math.Floor(c.limiter.TokensAt(now)))), 0, true
}

// evict forgets clients idle for more than two windows.
func (l *limiter) evict() {
	deadline := l.now().Add(-2 * l.cfg.Window)

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.clients {
		if c.lastSeen.Before(deadline) {
			delete(l.clients, key)
		}
	}
}

func (l *limiter) run(ctx context.Context) {
	ticker := time.NewTicker(2 * l.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evict()
		}
	}
}

// RateLimit limits requests per client with a token bucket. Idle clients are
// evicted in the background until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	go l.run(ctx)
	return l.middleware
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.cfg.Skip != nil && l.cfg.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		remaining, wait, ok := l.reserve(l.cfg.KeyFunc(r))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the first X-Forwarded-For entry, then X-Real-IP, then
// the host of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
