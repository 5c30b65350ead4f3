package proxy

import (
	"net/netip"
	"net/url"
)

// blockedNetworks are the address ranges a proxied fetch must never reach:
// loopback, RFC 1918, link-local, CGNAT, benchmarking, multicast and their
// IPv6 equivalents.
var blockedNetworks = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("255.255.255.255/32"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("ff00::/8"),
}

// ValidProxyURL reports whether the URL is fetchable at all: https with a
// host and no embedded credentials.
func ValidProxyURL(u *url.URL) bool {
	if u.Scheme != "https" || u.Host == "" {
		return false
	}
	if u.User != nil {
		return false
	}
	return true
}

// BlockedIP reports whether a resolved address must not be fetched from.
func BlockedIP(ip netip.Addr) bool {
	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsMulticast() {
		return true
	}
	// Prefix.Contains never matches across address families, so map
	// 4-in-6 addresses back before checking.
	ip = ip.Unmap()
	for _, net := range blockedNetworks {
		if net.Contains(ip) {
			return true
		}
	}
	return false
}
