// Package ratelimit implements the in-memory sliding-window limiters used by
// the HTTP handlers and the relay write policy. The limiters are not
// internally synchronized; callers hold one mutex around evaluation and never
// across I/O.
package ratelimit

import (
	"strings"
	"time"
)

// Fixed per-dimension policies.
const (
	ipLimit  = 100
	ipWindow = 10 * time.Minute

	emailLimit  = 30
	emailWindow = 24 * time.Hour

	npubLimit  = 100
	npubWindow = 10 * time.Minute

	// maxIdle is how long a key may go unseen before pruning drops it.
	maxIdle = 24 * time.Hour
	// pruneInterval is how often idle keys are swept.
	pruneInterval = 10 * time.Minute
)

// SlidingWindow tracks the timestamps of recent hits for one key.
type SlidingWindow struct {
	hits     []time.Time
	window   time.Duration
	limit    int
	lastSeen time.Time
}

// NewSlidingWindow constructs a window allowing limit hits per window.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		hits:     make([]time.Time, 0, limit),
		window:   window,
		limit:    limit,
		lastSeen: time.Now(),
	}
}

// Allow records a hit at now and reports whether it is within the limit.
// Hits strictly older than now-window are discarded first.
func (w *SlidingWindow) Allow(now time.Time) bool {
	cut := 0
	for cut < len(w.hits) && now.Sub(w.hits[cut]) > w.window {
		cut++
	}
	if cut > 0 {
		w.hits = append(w.hits[:0], w.hits[cut:]...)
	}
	w.lastSeen = now

	if len(w.hits) < w.limit {
		w.hits = append(w.hits, now)
		return true
	}
	return false
}

func (w *SlidingWindow) retain(now time.Time) bool {
	return now.Sub(w.lastSeen) <= maxIdle
}

// RateLimiter applies the fixed per-dimension policies across IP, email and
// sender/receiver npub keys.
type RateLimiter struct {
	byIP       map[string]*SlidingWindow
	byEmail    map[string]*SlidingWindow
	bySender   map[string]*SlidingWindow
	byReceiver map[string]*SlidingWindow
	lastPrune  time.Time
}

// NewRateLimiter constructs an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		byIP:       make(map[string]*SlidingWindow),
		byEmail:    make(map[string]*SlidingWindow),
		bySender:   make(map[string]*SlidingWindow),
		byReceiver: make(map[string]*SlidingWindow),
		lastPrune:  time.Now(),
	}
}

// Check records a hit on every provided dimension and reports whether all of
// them are within their limits. Empty strings mean the dimension is absent;
// the IP is always expected. Every provided dimension is evaluated even after
// a denial so that downstream pressure is still recorded.
func (r *RateLimiter) Check(now time.Time, ip, email, sender, receiver string) bool {
	r.pruneIfNeeded(now)

	allowed := hit(r.byIP, ip, ipLimit, ipWindow, now)

	if email != "" {
		allowed = hit(r.byEmail, strings.ToLower(email), emailLimit, emailWindow, now) && allowed
	}
	if sender != "" {
		allowed = hit(r.bySender, sender, npubLimit, npubWindow, now) && allowed
	}
	if receiver != "" {
		allowed = hit(r.byReceiver, receiver, npubLimit, npubWindow, now) && allowed
	}
	return allowed
}

func hit(m map[string]*SlidingWindow, key string, limit int, window time.Duration, now time.Time) bool {
	w, ok := m[key]
	if !ok {
		w = NewSlidingWindow(limit, window)
		m[key] = w
	}
	return w.Allow(now)
}

func (r *RateLimiter) pruneIfNeeded(now time.Time) {
	if now.Sub(r.lastPrune) < pruneInterval {
		return
	}
	r.lastPrune = now

	for _, m := range []map[string]*SlidingWindow{r.byIP, r.byEmail, r.bySender, r.byReceiver} {
		for key, w := range m {
			if !w.retain(now) {
				delete(m, key)
			}
		}
	}
}

// ChainLimiterAPI is the single-dimension limiter consumed by the relay write
// policy. It exists so the policy can be tested with a double.
type ChainLimiterAPI interface {
	Allowed(key string, now time.Time) bool
}

// ChainLimiter limits hits per chain key with one configurable policy. Its
// prune behavior matches RateLimiter.
type ChainLimiter struct {
	windows   map[string]*SlidingWindow
	limit     int
	window    time.Duration
	lastPrune time.Time
}

// NewChainLimiter constructs a single-dimension limiter.
func NewChainLimiter(limit int, window time.Duration) *ChainLimiter {
	return &ChainLimiter{
		windows:   make(map[string]*SlidingWindow),
		limit:     limit,
		window:    window,
		lastPrune: time.Now(),
	}
}

// Allowed records a hit for key at now and reports whether it is within the
// limit.
func (c *ChainLimiter) Allowed(key string, now time.Time) bool {
	if now.Sub(c.lastPrune) >= pruneInterval {
		c.lastPrune = now
		for k, w := range c.windows {
			if !w.retain(now) {
				delete(c.windows, k)
			}
		}
	}

	w, ok := c.windows[key]
	if !ok {
		w = NewSlidingWindow(c.limit, c.window)
		c.windows[key] = w
	}
	return w.Allow(now)
}
