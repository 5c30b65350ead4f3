package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"testing"
)

// stubResolver maps hosts to fixed addresses and records what was looked up.
type stubResolver struct {
	addrs   map[string][]netip.Addr
	lookups []string
}

func (s *stubResolver) LookupIP(_ context.Context, host string) ([]netip.Addr, error) {
	s.lookups = append(s.lookups, host)
	addrs, ok := s.addrs[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return addrs, nil
}

func publicResolver(hosts ...string) *stubResolver {
	addrs := make(map[string][]netip.Addr)
	for _, h := range hosts {
		addrs[h] = []netip.Addr{netip.MustParseAddr("93.184.216.34")}
	}
	return &stubResolver{addrs: addrs}
}

// stubTransport serves canned responses per URL without touching the network.
type stubTransport struct {
	responses map[string]*http.Response
	requests  []string
}

func (s *stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	key := req.URL.String()
	s.requests = append(s.requests, key)
	resp, ok := s.responses[key]
	if !ok {
		return nil, errors.New("unexpected request to " + key)
	}
	return resp, nil
}

func response(status int, body string, headers map[string]string) *http.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestClient(resolver Resolver, transport http.RoundTripper) *Client {
	c := NewClient(resolver)
	c.http.Transport = transport
	return c
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestCheckURLRejectsBlockedHost(t *testing.T) {
	resolver := &stubResolver{addrs: map[string][]netip.Addr{
		"internal.example.com": {netip.MustParseAddr("10.0.0.5")},
	}}
	c := NewClient(resolver)
	err := c.CheckURL(context.Background(), mustURL(t, "https://internal.example.com/secrets"))
	if err == nil || !strings.Contains(err.Error(), "invalid IP") {
		t.Fatalf("expected invalid IP error, got %v", err)
	}
}

func TestCheckURLRejectsWhenAnyAddressBlocked(t *testing.T) {
	// Dual answers where one is fine and one is internal: still blocked.
	resolver := &stubResolver{addrs: map[string][]netip.Addr{
		"rebind.example.com": {
			netip.MustParseAddr("93.184.216.34"),
			netip.MustParseAddr("192.168.0.10"),
		},
	}}
	c := NewClient(resolver)
	if err := c.CheckURL(context.Background(), mustURL(t, "https://rebind.example.com/")); err == nil {
		t.Fatal("expected blocked host error")
	}
}

func TestCheckURLRejectsUnresolvableHost(t *testing.T) {
	c := NewClient(&stubResolver{addrs: map[string][]netip.Addr{}})
	if err := c.CheckURL(context.Background(), mustURL(t, "https://gone.example.com/")); err == nil {
		t.Fatal("expected dns failure error")
	}
}

func TestFetchFollowsValidatedRedirects(t *testing.T) {
	resolver := publicResolver("a.example.com", "b.example.com")
	transport := &stubTransport{responses: map[string]*http.Response{
		"https://a.example.com/start": response(http.StatusFound, "", map[string]string{
			"Location": "https://b.example.com/next",
		}),
		"https://b.example.com/next": response(http.StatusMovedPermanently, "", map[string]string{
			"Location": "/final",
		}),
		"https://b.example.com/final": response(http.StatusOK, "payload", nil),
	}}
	c := newTestClient(resolver, transport)

	status, body, err := c.Fetch(context.Background(), mustURL(t, "https://a.example.com/start"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if status != http.StatusOK || string(body) != "payload" {
		t.Fatalf("got %d %q", status, body)
	}
	// Both redirect targets were re-vetted.
	if len(resolver.lookups) != 2 {
		t.Fatalf("expected 2 lookups during redirects, got %v", resolver.lookups)
	}
}

func TestFetchStopsAfterMaxRedirects(t *testing.T) {
	resolver := publicResolver("a.example.com")
	transport := &stubTransport{responses: map[string]*http.Response{
		"https://a.example.com/1": response(http.StatusFound, "", map[string]string{"Location": "/2"}),
		"https://a.example.com/2": response(http.StatusFound, "", map[string]string{"Location": "/3"}),
		"https://a.example.com/3": response(http.StatusFound, "", map[string]string{"Location": "/4"}),
	}}
	c := newTestClient(resolver, transport)

	_, _, err := c.Fetch(context.Background(), mustURL(t, "https://a.example.com/1"))
	if err == nil || !strings.Contains(err.Error(), "too many redirects") {
		t.Fatalf("expected redirect cap error, got %v", err)
	}
}

func TestFetchRejectsRedirectToBlockedHost(t *testing.T) {
	resolver := publicResolver("a.example.com")
	resolver.addrs["metadata.internal"] = []netip.Addr{netip.MustParseAddr("169.254.169.254")}
	transport := &stubTransport{responses: map[string]*http.Response{
		"https://a.example.com/start": response(http.StatusFound, "", map[string]string{
			"Location": "https://metadata.internal/latest",
		}),
	}}
	c := newTestClient(resolver, transport)

	_, _, err := c.Fetch(context.Background(), mustURL(t, "https://a.example.com/start"))
	if err == nil || !strings.Contains(err.Error(), "invalid IP") {
		t.Fatalf("expected blocked redirect error, got %v", err)
	}
}

func TestFetchRejectsRedirectToHTTP(t *testing.T) {
	resolver := publicResolver("a.example.com")
	transport := &stubTransport{responses: map[string]*http.Response{
		"https://a.example.com/start": response(http.StatusFound, "", map[string]string{
			"Location": "http://a.example.com/plain",
		}),
	}}
	c := newTestClient(resolver, transport)

	if _, _, err := c.Fetch(context.Background(), mustURL(t, "https://a.example.com/start")); err == nil {
		t.Fatal("expected scheme downgrade to be rejected")
	}
}

func TestFetchRejectsRedirectWithoutLocation(t *testing.T) {
	resolver := publicResolver("a.example.com")
	transport := &stubTransport{responses: map[string]*http.Response{
		"https://a.example.com/start": response(http.StatusFound, "", nil),
	}}
	c := newTestClient(resolver, transport)

	_, _, err := c.Fetch(context.Background(), mustURL(t, "https://a.example.com/start"))
	if err == nil || !strings.Contains(err.Error(), "location") {
		t.Fatalf("expected missing location error, got %v", err)
	}
}

func TestFetchCapsBodySize(t *testing.T) {
	resolver := publicResolver("a.example.com")
	big := bytes.Repeat([]byte("x"), maxBodySize+1)
	transport := &stubTransport{responses: map[string]*http.Response{
		"https://a.example.com/big": response(http.StatusOK, string(big), nil),
	}}
	c := newTestClient(resolver, transport)

	_, _, err := c.Fetch(context.Background(), mustURL(t, "https://a.example.com/big"))
	if err == nil || !strings.Contains(err.Error(), "too big") {
		t.Fatalf("expected body cap error, got %v", err)
	}
}

func TestFetchAllowsBodyAtCap(t *testing.T) {
	resolver := publicResolver("a.example.com")
	exact := bytes.Repeat([]byte("x"), maxBodySize)
	transport := &stubTransport{responses: map[string]*http.Response{
		"https://a.example.com/exact": response(http.StatusOK, string(exact), nil),
	}}
	c := newTestClient(resolver, transport)

	status, body, err := c.Fetch(context.Background(), mustURL(t, "https://a.example.com/exact"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if status != http.StatusOK || len(body) != maxBodySize {
		t.Fatalf("got %d with %d bytes", status, len(body))
	}
}

func TestFetchRelaysUpstreamErrorStatus(t *testing.T) {
	resolver := publicResolver("a.example.com")
	transport := &stubTransport{responses: map[string]*http.Response{
		"https://a.example.com/missing": response(http.StatusNotFound, "nope", nil),
	}}
	c := newTestClient(resolver, transport)

	status, body, err := c.Fetch(context.Background(), mustURL(t, "https://a.example.com/missing"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if status != http.StatusNotFound || string(body) != "nope" {
		t.Fatalf("got %d %q", status, body)
	}
}
