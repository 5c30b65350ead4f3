package ratelimit

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSlidingWindowAllowDeny(t *testing.T) {
	w := NewSlidingWindow(2, 10*time.Second)
	now := time.Unix(1_700_000_000, 0)

	if !w.Allow(now) {
		t.Fatal("first hit should be allowed")
	}
	if !w.Allow(now.Add(time.Second)) {
		t.Fatal("second hit should be allowed")
	}
	if w.Allow(now.Add(2 * time.Second)) {
		t.Fatal("third hit within window should be denied")
	}

	// After the window passes the cycle repeats.
	now = now.Add(11 * time.Second)
	if !w.Allow(now) {
		t.Fatal("hit after window should be allowed")
	}
	if !w.Allow(now.Add(time.Second)) {
		t.Fatal("second hit after window should be allowed")
	}
	if w.Allow(now.Add(2 * time.Second)) {
		t.Fatal("third hit after window should be denied")
	}
}

func TestSlidingWindowNeverExceedsLimit(t *testing.T) {
	const limit = 5
	window := 30 * time.Second
	w := NewSlidingWindow(limit, window)

	start := time.Unix(0, 0)
	var allowedTimes []time.Time
	for i := 0; i < 600; i++ {
		now := start.Add(time.Duration(i) * time.Second)
		if w.Allow(now) {
			allowedTimes = append(allowedTimes, now)
		}
	}

	// No sliding window-wide interval may contain more than limit allows.
	for i := range allowedTimes {
		count := 1
		for j := i + 1; j < len(allowedTimes); j++ {
			if allowedTimes[j].Sub(allowedTimes[i]) <= window {
				count++
			}
		}
		if count > limit {
			t.Fatalf("interval starting at %v contains %d allows, limit %d", allowedTimes[i], count, limit)
		}
	}
}

func TestRateLimiterEvaluatesAllDimensions(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Unix(1_700_000_000, 0)

	// Exhaust the email dimension (30 per day).
	for i := 0; i < 30; i++ {
		if !rl.Check(now, fmt.Sprintf("10.0.0.%d", i), "User@Example.com", "", "") {
			t.Fatalf("hit %d should be allowed", i)
		}
		now = now.Add(time.Second)
	}
	if rl.Check(now, "10.0.1.1", "user@example.COM", "", "") {
		t.Fatal("31st email hit should be denied regardless of case")
	}

	// The denial above must still have recorded the IP hit.
	for i := 0; i < 99; i++ {
		if !rl.Check(now, "10.0.1.1", "", "", "") {
			t.Fatalf("ip hit %d should be allowed", i)
		}
	}
	if rl.Check(now, "10.0.1.1", "", "", "") {
		t.Fatal("ip should be exhausted at 100 hits including the denied request")
	}
}

func TestRateLimiterReceiverDimension(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 100; i++ {
		if !rl.Check(now, fmt.Sprintf("192.0.2.%d", i%250), "", "", "npub1receiver") {
			t.Fatalf("receiver hit %d should be allowed", i)
		}
	}
	if rl.Check(now, "192.0.2.251", "", "", "npub1receiver") {
		t.Fatal("101st receiver hit should be denied")
	}
	// Sender map is independent of receiver map.
	if !rl.Check(now, "192.0.2.252", "", "npub1receiver", "") {
		t.Fatal("sender dimension must not share state with receiver")
	}
}

func TestRateLimiterPrunesIdleKeys(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 64; i++ {
		rl.Check(now, fmt.Sprintf("198.51.100.%d", i), "", "", "")
	}
	if got := len(rl.byIP); got != 64 {
		t.Fatalf("expected 64 tracked ips, got %d", got)
	}

	// Advance past maxIdle; the next check sweeps everything stale.
	now = now.Add(25 * time.Hour)
	rl.Check(now, "203.0.113.1", "", "", "")
	if got := len(rl.byIP); got != 1 {
		t.Fatalf("expected idle ips to be pruned, got %d", got)
	}
	for key, w := range rl.byIP {
		if !w.retain(now) {
			t.Fatalf("entry %s survived prune while stale", key)
		}
	}
}

func TestChainLimiter(t *testing.T) {
	cl := NewChainLimiter(6, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	key := "192.0.2.7:45123:bill:addr1"

	for i := 0; i < 6; i++ {
		if !cl.Allowed(key, now.Add(time.Duration(i)*time.Second)) {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	if cl.Allowed(key, now.Add(10*time.Second)) {
		t.Fatal("seventh event in the window should be denied")
	}
	if !cl.Allowed("other-key", now.Add(10*time.Second)) {
		t.Fatal("different key should be unaffected")
	}
	if !cl.Allowed(key, now.Add(62*time.Second)) {
		t.Fatal("event after window should be allowed again")
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:48221"
	if got := ClientIP(r); got != "192.0.2.10" {
		t.Fatalf("peer address: got %q", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ClientIP(r); got != "203.0.113.9" {
		t.Fatalf("forwarded: got %q", got)
	}

	r.Header.Set("X-Forwarded-For", "garbage")
	if got := ClientIP(r); got != "192.0.2.10" {
		t.Fatalf("invalid forwarded falls back to peer: got %q", got)
	}
}
