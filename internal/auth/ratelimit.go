package auth

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vodworks/pipeline/internal/metrics"
)

// Lockout defaults. A client that keeps presenting bad credentials or
// bad tokens is shut out until its window expires.
const (
	DefaultMaxFailures   = 5
	DefaultLockWindow    = 15 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

// RateLimiterConfig controls the per-client auth failure lockout.
type RateLimiterConfig struct {
	// MaxFailures is the number of failures inside Window after which a
	// client is locked out.
	MaxFailures int
	Window      time.Duration
	// SweepEvery is how often stale windows are evicted.
	SweepEvery time.Duration
}

// DefaultRateLimiterConfig returns the lockout defaults. Deployments
// override MaxFailures and Window through AUTH_MAX_FAILURES and
// AUTH_LOCK_WINDOW.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		MaxFailures: DefaultMaxFailures,
		Window:      DefaultLockWindow,
		SweepEvery:  DefaultSweepInterval,
	}
}

// failureWindow counts auth failures since the window opened.
type failureWindow struct {
	failures int
	since    time.Time
}

func (w failureWindow) expired(window time.Duration) bool {
	return time.Since(w.since) > window
}

// RateLimiter locks out client IPs that keep failing authentication.
type RateLimiter struct {
	mu      sync.RWMutex
	windows map[string]failureWindow
	cfg     RateLimiterConfig

	done     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter builds a RateLimiter and starts its background sweep.
// Non-positive config values fall back to the defaults.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultLockWindow
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = DefaultSweepInterval
	}

	rl := &RateLimiter{
		windows: make(map[string]failureWindow),
		cfg:     cfg,
		done:    make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(rl.cfg.SweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.evictStale()
		}
	}
}

func (rl *RateLimiter) evictStale() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for ip, w := range rl.windows {
		if w.expired(rl.cfg.Window) {
			delete(rl.windows, ip)
		}
	}
}

// Stop ends the background sweep. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.done)
	})
}

// IsLimited reports whether the client is currently locked out.
func (rl *RateLimiter) IsLimited(ip string) bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	w, ok := rl.windows[ip]
	if !ok || w.expired(rl.cfg.Window) {
		return false
	}
	return w.failures >= rl.cfg.MaxFailures
}

// RecordFailure counts an auth failure against the client. Crossing the
// threshold locks the client out and is surfaced as a metric.
func (rl *RateLimiter) RecordFailure(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[ip]
	if !ok || w.expired(rl.cfg.Window) {
		w = failureWindow{since: time.Now()}
	}
	w.failures++
	if w.failures == rl.cfg.MaxFailures {
		metrics.ClientLockouts.Inc()
	}
	rl.windows[ip] = w
}

// Reset clears the failure window for the client, e.g. after a
// successful login.
func (rl *RateLimiter) Reset(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.windows, ip)
}

// GetClientIP returns the address failures are tracked against,
// preferring proxy headers over the socket address.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
