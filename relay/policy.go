// Package relay implements the websocket relay endpoint: a minimal nostr
// engine backed by the shared event store, fronted by a write policy that
// rate-limits events referencing bitcredit chain addresses per peer.
package relay

import (
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"ebillrelay/ratelimit"
)

const denyReason = "blocked: Rate limit exceeded for this chain address"

// limitedChains are the bitcredit chain ids subject to the write policy.
var limitedChains = map[string]bool{
	"bill":     true,
	"identity": true,
	"company":  true,
}

// WritePolicy admits or denies inbound events. Events carrying an "i" tag
// referencing a bitcredit chain address are limited per
// "{peer}:{chain_id}:{address}"; everything else passes unconditionally.
type WritePolicy struct {
	limiter ratelimit.ChainLimiterAPI
	nowFn   func() time.Time
}

// NewWritePolicy wraps a chain limiter.
func NewWritePolicy(limiter ratelimit.ChainLimiterAPI) *WritePolicy {
	return &WritePolicy{limiter: limiter, nowFn: time.Now}
}

// Admit evaluates every bitcredit chain reference on the event. The reason
// is non-empty only on denial.
func (p *WritePolicy) Admit(peer string, ev *nostr.Event) (bool, string) {
	for _, tag := range ev.Tags {
		if len(tag) < 2 || tag[0] != "i" {
			continue
		}
		key, ok := chainKey(tag[1])
		if !ok {
			continue
		}
		if !p.limiter.Allowed(peer+":"+key, p.nowFn()) {
			return false, denyReason
		}
	}
	return true, ""
}

// chainKey parses an external-content reference "<chain>:<chain_id>:<address>"
// and returns "chain_id:address" for the limited bitcredit chains.
func chainKey(ref string) (string, bool) {
	parts := strings.SplitN(ref, ":", 3)
	if len(parts) != 3 || parts[0] != "bitcredit" {
		return "", false
	}
	if !limitedChains[parts[1]] || parts[2] == "" {
		return "", false
	}
	return parts[1] + ":" + parts[2], true
}
