package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Oualidl290/new-andalus-telemetry/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// limiterTTL is how long an idle client keeps its bucket before cleanup.
const limiterTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter throttles ingestion requests with one token bucket per
// client IP. Buckets for idle clients are pruned in the background.
type IPRateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	logger  *zap.Logger
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewIPRateLimiter creates a per-IP limiter. Returns nil when limiting is
// disabled; a nil limiter admits everything.
func NewIPRateLimiter(cfg config.RateLimitConfig, logger *zap.Logger) *IPRateLimiter {
	if !cfg.Enabled {
		return nil
	}

	l := &IPRateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   cfg.Burst,
		logger:  logger.Named("ratelimit"),
		stop:    make(chan struct{}),
	}

	l.wg.Add(1)
	go l.cleanupLoop()
	return l
}

// Allow reports whether a request from the given IP may proceed.
func (l *IPRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = time.Now()
	return c.limiter.Allow()
}

// Middleware rejects over-limit requests with 429.
func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.Allow(ip) {
			l.logger.Warn("Request rate limited", zap.String("client_ip", ip), zap.String("path", r.URL.Path))
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"Too Many Requests","message":"ingestion rate limit exceeded"}`)) //nolint:errcheck
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stop terminates the cleanup goroutine.
func (l *IPRateLimiter) Stop() {
	close(l.stop)
	l.wg.Wait()
}

func (l *IPRateLimiter) cleanupLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(limiterTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.prune()
		case <-l.stop:
			return
		}
	}
}

func (l *IPRateLimiter) prune() {
	cutoff := time.Now().Add(-limiterTTL)

	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
}

// clientIP extracts the remote IP, ignoring forwarding headers. The service
// is expected to sit behind a trusted reverse proxy that rewrites RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
