package host

import (
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdle = 10 * time.Minute

// WithInvokeRateLimit limits capability invocations over HTTP to perMinute
// per client. Zero disables the limit.
func WithInvokeRateLimit(perMinute int) Option {
	return func(a *App) {
		if perMinute > 0 {
			a.invokeLimits = newClientLimiter(perMinute)
		}
	}
}

// WithTrustedProxyHeaders makes the rate limiter key clients by X-Real-IP or
// X-Forwarded-For. Enable it only behind a proxy that sets those headers.
func WithTrustedProxyHeaders(trust bool) Option {
	return func(a *App) { a.trustProxy = trust }
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter holds one token bucket per client address. Idle buckets are
// pruned lazily.
type clientLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientEntry
	r         rate.Limit
	b         int
	lastPrune time.Time
}

func newClientLimiter(perMinute int) *clientLimiter {
	return &clientLimiter{
		clients:   make(map[string]*clientEntry),
		r:         rate.Limit(float64(perMinute) / 60.0),
		b:         perMinute,
		lastPrune: time.Now(),
	}
}

func (c *clientLimiter) get(client string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Sub(c.lastPrune) > limiterIdle {
		for k, e := range c.clients {
			if now.Sub(e.lastSeen) > limiterIdle {
				delete(c.clients, k)
			}
		}
		c.lastPrune = now
	}

	e, ok := c.clients[client]
	if !ok {
		e = &clientEntry{limiter: rate.NewLimiter(c.r, c.b)}
		c.clients[client] = e
	}
	e.lastSeen = now
	return e.limiter
}

// limit rejects requests over the client's budget with 429 and Retry-After.
func (c *clientLimiter) limit(next http.HandlerFunc, trustProxy bool) http.HandlerFunc {
	if c == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reservation := c.get(clientIP(r, trustProxy)).Reserve()
		if d := reservation.Delay(); d > 0 {
			reservation.Cancel()
			retryAfter := max(int(math.Ceil(d.Seconds())), 1)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next(w, r)
	}
}

// clientIP returns the peer address. Proxy headers are consulted only when
// trustProxy is set.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
