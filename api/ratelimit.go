package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// clientLimiter tracks one client's token bucket and when it was last used
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a per-client token bucket keyed by remote IP. Idle
// clients are dropped so the map does not grow without bound.
type RateLimiter struct {
	limit  rate.Limit
	burst  int
	mu     sync.Mutex
	byIP   map[string]*clientLimiter
	logger *zap.SugaredLogger
	stop   chan struct{}
}

// NewRateLimiter creates a per-client limiter and starts its cleanup loop
func NewRateLimiter(limit rate.Limit, burst int, logger *zap.SugaredLogger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	rl := &RateLimiter{
		limit:  limit,
		burst:  burst,
		byIP:   make(map[string]*clientLimiter),
		logger: logger,
		stop:   make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Stop terminates the cleanup loop
func (rl *RateLimiter) Stop() {
	close(rl.stop)
}

// Allow reports whether the client may proceed
func (rl *RateLimiter) Allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.byIP[clientIP]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.byIP[clientIP] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-3 * time.Minute)
			rl.mu.Lock()
			for ip, entry := range rl.byIP {
				if entry.lastSeen.Before(cutoff) {
					delete(rl.byIP, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Middleware rejects over-limit requests with 429
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.Allow(ip) {
			rl.logger.Warnw("Request rate limited", "client_ip", ip, "path", r.URL.Path)
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
