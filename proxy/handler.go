package proxy

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"ebillrelay/nostrutil"
	"ebillrelay/ratelimit"
)

var proxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "proxy_requests_total",
	Help: "Proxy fetch requests by outcome.",
}, []string{"outcome"})

// Handler exposes the authenticated fetch endpoint.
type Handler struct {
	client *Client
	guard  *ratelimit.Guard
	nowFn  func() time.Time
}

// NewHandler wires the proxy endpoint. The guard is shared with the
// notification handlers.
func NewHandler(client *Client, guard *ratelimit.Guard) *Handler {
	return &Handler{client: client, guard: guard, nowFn: time.Now}
}

type proxyReq struct {
	Payload   nostrutil.ProxyPayload `json:"payload"`
	Signature string                 `json:"signature"`
}

// Req fetches the requested URL on behalf of a signed-in npub and relays the
// upstream status and body.
func (h *Handler) Req(w http.ResponseWriter, r *http.Request) {
	var req proxyReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeText(w, http.StatusBadRequest, "proxy_invalid_request")
		return
	}
	payload := req.Payload

	pub, err := nostrutil.DecodeNpub(payload.Npub)
	if err != nil {
		slog.Error("proxy req with invalid npub", "error", err)
		proxyRequestsTotal.WithLabelValues("invalid_npub").Inc()
		writeText(w, http.StatusBadRequest, "proxy_invalid_npub")
		return
	}

	target, err := url.Parse(payload.URL)
	if err != nil {
		slog.Error("proxy req with invalid url", "url", payload.URL)
		proxyRequestsTotal.WithLabelValues("invalid_url").Inc()
		writeText(w, http.StatusBadRequest, "proxy_invalid_url")
		return
	}

	ip := ratelimit.ClientIP(r)
	if !h.guard.Check(h.nowFn(), ip, "", payload.Npub, "") {
		slog.Warn("rate limited request", "ip", ip, "npub", nostrutil.AnonymizeNpub(payload.Npub))
		proxyRequestsTotal.WithLabelValues("rate_limited").Inc()
		writeText(w, http.StatusTooManyRequests, "proxy_rate_limit")
		return
	}

	if err := h.client.CheckURL(r.Context(), target); err != nil {
		slog.Error("proxy req with blocked url", "error", err)
		proxyRequestsTotal.WithLabelValues("blocked").Inc()
		writeText(w, http.StatusBadRequest, "proxy_invalid_url")
		return
	}

	ok, err := nostrutil.VerifyPayload(payload, req.Signature, pub)
	if err != nil {
		slog.Error("proxy req check signature error", "error", err)
		proxyRequestsTotal.WithLabelValues("invalid_signature").Inc()
		writeText(w, http.StatusBadRequest, "proxy_invalid_signature")
		return
	}
	if !ok {
		slog.Error("proxy req check invalid signature error")
		proxyRequestsTotal.WithLabelValues("invalid_signature").Inc()
		writeText(w, http.StatusBadRequest, "proxy_invalid_signature")
		return
	}

	status, body, err := h.client.Fetch(r.Context(), target)
	if err != nil {
		slog.Error("error during proxy request", "url", target.String(), "error", err)
		proxyRequestsTotal.WithLabelValues("fetch_failed").Inc()
		writeText(w, http.StatusInternalServerError, "proxy_invalid_request")
		return
	}
	proxyRequestsTotal.WithLabelValues("ok").Inc()
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.Error("write proxy response failed", "error", err)
	}
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}
