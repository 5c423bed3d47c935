// Package ratelimit implements the sliding-window per-client rate
// limiter supplemented from original_source/src/rate_limit.rs, which the
// distilled spec only names via the `rate_limiting` config key (§6) and
// otherwise drops. Consulted by the listener loop immediately after
// Worker.Admit and before dispatch, mirroring the original's placement
// after accept and before handler dispatch. Its whitelist bypass and
// X-RateLimit-*/Retry-After reporting generalize nabbar-golib/static's
// own RateLimitConfig (WhitelistIPs, X-RateLimit-Limit/Remaining,
// Retry-After), per that package's ratelimit_test.go.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures one Limiter.
type Config struct {
	Enabled           bool          `mapstructure:"enabled" json:"enabled"`
	RequestsPerWindow int           `mapstructure:"requests_per_window" json:"requests_per_window" validate:"required_with=Enabled,gt=0"`
	Window            time.Duration `mapstructure:"window" json:"window" validate:"required_with=Enabled,gt=0"`
	WhitelistIPs      []string      `mapstructure:"whitelist_ips" json:"whitelist_ips"`
}

// window is one client's sliding record: timestamps of requests still
// inside the current window, oldest first.
type window struct {
	mu   sync.Mutex
	hits []time.Time
}

// Limiter buckets client identities (normally the client IP) into
// independent sliding windows. Safe for concurrent use by many request
// goroutines.
type Limiter struct {
	cfg Config

	mu       sync.Mutex
	clients  map[string]*window
	lastSeen map[string]time.Time
}

func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:      cfg,
		clients:  make(map[string]*window),
		lastSeen: make(map[string]time.Time),
	}
}

// Allow reports whether key (typically a client IP) may proceed now,
// recording the attempt if so. Disabled limiters and whitelisted keys
// always allow (nabbar-golib/static's RateLimitConfig.WhitelistIPs, per
// ratelimit_test.go's "Whitelist" cases).
func (l *Limiter) Allow(key string) bool {
	if !l.cfg.Enabled || l.whitelisted(key) {
		return true
	}

	now := time.Now()
	w := l.windowFor(key, now)

	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-l.cfg.Window)
	i := 0
	for i < len(w.hits) && w.hits[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.hits = w.hits[i:]
	}

	if len(w.hits) >= l.cfg.RequestsPerWindow {
		return false
	}
	w.hits = append(w.hits, now)
	return true
}

func (l *Limiter) whitelisted(key string) bool {
	for _, ip := range l.cfg.WhitelistIPs {
		if ip == key {
			return true
		}
	}
	return false
}

// Enabled reports whether this limiter enforces a budget at all.
func (l *Limiter) Enabled() bool {
	return l.cfg.Enabled
}

// Limit returns the configured requests-per-window budget, reported via
// X-RateLimit-Limit alongside Remaining (nabbar-golib/static's
// RateLimitConfig headers, per ratelimit_test.go).
func (l *Limiter) Limit() int {
	return l.cfg.RequestsPerWindow
}

// Remaining reports key's remaining budget in the current window and,
// once exhausted, how long until the oldest hit ages out of the window
// (X-RateLimit-Remaining / Retry-After, per ratelimit_test.go). It does
// not record an attempt; call after Allow to report the post-attempt
// state.
func (l *Limiter) Remaining(key string) (remaining int, retryAfter time.Duration) {
	if !l.cfg.Enabled || l.whitelisted(key) {
		return l.cfg.RequestsPerWindow, 0
	}

	l.mu.Lock()
	w, ok := l.clients[key]
	l.mu.Unlock()
	if !ok {
		return l.cfg.RequestsPerWindow, 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.cfg.Window)
	i := 0
	for i < len(w.hits) && w.hits[i].Before(cutoff) {
		i++
	}
	hits := w.hits[i:]

	remaining = l.cfg.RequestsPerWindow - len(hits)
	if remaining < 0 {
		remaining = 0
	}
	if remaining == 0 && len(hits) > 0 {
		retryAfter = hits[0].Add(l.cfg.Window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
	}
	return remaining, retryAfter
}

func (l *Limiter) windowFor(key string, now time.Time) *window {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.clients[key]
	if !ok {
		w = &window{}
		l.clients[key] = w
	}
	l.lastSeen[key] = now
	return w
}

// Sweep evicts client windows untouched for longer than idleAfter,
// bounding memory for a long-running process with many distinct
// clients. Intended to run periodically from the listener loop's
// background tasks, alongside the reverse-proxy health checker.
func (l *Limiter) Sweep(idleAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-idleAfter)
	for key, last := range l.lastSeen {
		if last.Before(cutoff) {
			delete(l.clients, key)
			delete(l.lastSeen, key)
		}
	}
}
