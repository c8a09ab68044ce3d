package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/graaaaa/vrclog-lifelog/internal/metrics"
)

// RateLimiter applies a token bucket per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
	stopOnce sync.Once
	done     chan struct{}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiterConfig configures a RateLimiter.
type RateLimiterConfig struct {
	Rate            float64       // requests per second
	Burst           int           // bucket size
	CleanupInterval time.Duration // visitors idle for twice this long are dropped
}

// DefaultRateLimiterConfig returns the limits used in LAN mode.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Rate:            10,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
	}
}

// NewRateLimiter creates a RateLimiter and starts its cleanup loop.
// Call Stop to release it.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(cfg.Rate),
		burst:    cfg.Burst,
		idle:     cfg.CleanupInterval,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow reports whether a request from ip may proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	now := rl.now()

	rl.mu.Lock()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	rl.mu.Unlock()

	return v.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.idle)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.prune()
		case <-rl.done:
			return
		}
	}
}

// prune drops visitors not seen for two cleanup intervals.
func (rl *RateLimiter) prune() {
	threshold := rl.now().Add(-2 * rl.idle)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(threshold) {
			delete(rl.visitors, ip)
		}
	}
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

// Stop ends the cleanup loop. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(extractIP(r)) {
			metrics.HTTPRejected.WithLabelValues("rate_limit").Inc()
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractIP returns the client IP. No reverse proxy is assumed, so
// RemoteAddr is trusted.
func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// AuthFailureLimiter locks out an IP after repeated Basic Auth failures.
type AuthFailureLimiter struct {
	mu       sync.Mutex
	failures map[string]*authFailure
	maxFails int
	window   time.Duration
	lockout  time.Duration
	now      func() time.Time
}

type authFailure struct {
	count    int
	firstAt  time.Time
	lockedAt time.Time
}

// AuthFailureLimiterConfig configures an AuthFailureLimiter.
type AuthFailureLimiterConfig struct {
	MaxFailures   int           // failures within Window that trigger a lockout
	Window        time.Duration // counting window, starting at the first failure
	LockoutPeriod time.Duration
}

// DefaultAuthFailureLimiterConfig returns the limits used in LAN mode.
func DefaultAuthFailureLimiterConfig() AuthFailureLimiterConfig {
	return AuthFailureLimiterConfig{
		MaxFailures:   5,
		Window:        5 * time.Minute,
		LockoutPeriod: 15 * time.Minute,
	}
}

// NewAuthFailureLimiter creates an AuthFailureLimiter.
func NewAuthFailureLimiter(cfg AuthFailureLimiterConfig) *AuthFailureLimiter {
	return &AuthFailureLimiter{
		failures: make(map[string]*authFailure),
		maxFails: cfg.MaxFailures,
		window:   cfg.Window,
		lockout:  cfg.LockoutPeriod,
		now:      time.Now,
	}
}

// IsLocked reports whether ip is currently locked out.
func (afl *AuthFailureLimiter) IsLocked(ip string) bool {
	return afl.LockoutSecondsRemaining(ip) > 0
}

// RecordFailure records a failed attempt from ip and returns the attempts
// left before lockout, or -1 when this failure locked ip out.
func (afl *AuthFailureLimiter) RecordFailure(ip string) int {
	now := afl.now()

	afl.mu.Lock()
	defer afl.mu.Unlock()

	f, ok := afl.failures[ip]
	if !ok || now.Sub(f.firstAt) > afl.window {
		f = &authFailure{firstAt: now}
		afl.failures[ip] = f
	}
	f.count++

	if f.count >= afl.maxFails {
		f.lockedAt = now
		metrics.HTTPRejected.WithLabelValues("auth_lockout").Inc()
		return -1
	}
	return afl.maxFails - f.count
}

// RecordSuccess forgets the failures recorded for ip.
func (afl *AuthFailureLimiter) RecordSuccess(ip string) {
	afl.mu.Lock()
	defer afl.mu.Unlock()
	delete(afl.failures, ip)
}

// LockoutSecondsRemaining returns the whole seconds until ip's lockout
// ends, rounded up, or 0 when ip is not locked.
func (afl *AuthFailureLimiter) LockoutSecondsRemaining(ip string) int {
	now := afl.now()

	afl.mu.Lock()
	defer afl.mu.Unlock()

	f, ok := afl.failures[ip]
	if !ok || f.lockedAt.IsZero() {
		return 0
	}
	remaining := afl.lockout - now.Sub(f.lockedAt)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Seconds()) + 1
}
