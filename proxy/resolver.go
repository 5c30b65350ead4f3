package proxy

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// Resolver answers the addresses a host would connect to. The fetcher checks
// every address against the blocklist before any request leaves the process.
type Resolver interface {
	LookupIP(ctx context.Context, host string) ([]netip.Addr, error)
}

// DNSResolver queries one configured nameserver directly instead of going
// through the system resolver, so lookups behave the same in every
// deployment environment.
type DNSResolver struct {
	server string
	client *dns.Client
}

// NewDNSResolver constructs a resolver against server ("host:port").
func NewDNSResolver(server string) *DNSResolver {
	return &DNSResolver{
		server: server,
		client: &dns.Client{Timeout: 3 * time.Second},
	}
}

// LookupIP resolves A and AAAA records for host. IP literals resolve to
// themselves without a query.
func (r *DNSResolver) LookupIP(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr}, nil
	}

	var addrs []netip.Addr
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qtype)
		msg.RecursionDesired = true

		resp, _, err := r.client.ExchangeContext(ctx, msg, r.server)
		if err != nil {
			return nil, fmt.Errorf("dns lookup %s: %w", host, err)
		}
		for _, rr := range resp.Answer {
			switch v := rr.(type) {
			case *dns.A:
				if addr, ok := netip.AddrFromSlice(v.A.To4()); ok {
					addrs = append(addrs, addr)
				}
			case *dns.AAAA:
				if addr, ok := netip.AddrFromSlice(v.AAAA); ok {
					addrs = append(addrs, addr)
				}
			}
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses for %s", host)
	}
	return addrs, nil
}
