package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles requests per client IP using token buckets that
// refill over the configured window. Used on the auth endpoints to slow
// credential stuffing.
type RateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*rateClient
	window   time.Duration
	max      int
	lastSwep time.Time
}

type rateClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows max requests per window for each client IP.
func NewRateLimiter(window time.Duration, max int) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 30
	}
	return &RateLimiter{
		clients:  make(map[string]*rateClient),
		window:   window,
		max:      max,
		lastSwep: time.Now(),
	}
}

func (rl *RateLimiter) client(ip string) *rateClient {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	// Drop buckets idle for two windows to bound the map.
	if now.Sub(rl.lastSwep) > 2*rl.window {
		for k, c := range rl.clients {
			if now.Sub(c.lastSeen) > 2*rl.window {
				delete(rl.clients, k)
			}
		}
		rl.lastSwep = now
	}

	c, ok := rl.clients[ip]
	if !ok {
		limit := rate.Limit(float64(rl.max) / rl.window.Seconds())
		c = &rateClient{limiter: rate.NewLimiter(limit, rl.max)}
		rl.clients[ip] = c
	}
	c.lastSeen = now
	return c
}

// Handler wraps next with the rate limit check.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		c := rl.client(ip)
		remaining := int(c.limiter.Tokens())
		if remaining < 0 {
			remaining = 0
		}
		reset := time.Now().Add(rl.window).Unix()

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.max))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))

		if !c.limiter.Allow() {
			retryAfter := int(rl.window.Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeProblem(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}
