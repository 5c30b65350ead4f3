package ratelimit

import (
	"sync"
	"time"
)

// Guard serializes access to one RateLimiter so the notification and proxy
// handlers can share it. The lock is held only for the in-memory evaluation,
// never across I/O.
type Guard struct {
	mu      sync.Mutex
	limiter *RateLimiter
}

// NewGuard wraps a fresh limiter.
func NewGuard() *Guard {
	return &Guard{limiter: NewRateLimiter()}
}

// Check locks the limiter and evaluates all provided dimensions.
func (g *Guard) Check(now time.Time, ip, email, sender, receiver string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limiter.Check(now, ip, email, sender, receiver)
}
