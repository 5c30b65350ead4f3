package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the caller's IP for rate limiting. The first entry of
// X-Forwarded-For wins when a load balancer fronts the service; otherwise the
// connection peer address is used. Returns "" when no address can be
// determined.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if ip := net.ParseIP(r.RemoteAddr); ip != nil {
			return ip.String()
		}
		return ""
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return ""
}
