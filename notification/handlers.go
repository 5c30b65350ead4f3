// Package notification implements the email notification workflow: challenge
// issuance, registration with proof of npub control, email confirmation,
// token-guarded preferences and the authenticated send endpoint.
package notification

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"ebillrelay/nostrutil"
	"ebillrelay/notification/email"
	"ebillrelay/ratelimit"
	"ebillrelay/storage"
)

const (
	// challengeTTL bounds the window between start and register.
	challengeTTL = 120 * time.Second
	// confirmationTTL bounds how long a confirmation link stays redeemable.
	confirmationTTL = 24 * time.Hour

	bitcrPrefix = "bitcr"
)

var (
	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notification_rate_limited_total",
		Help: "Requests denied by the notification rate limiter.",
	})
	emailsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_emails_sent_total",
		Help: "Emails handed to the provider, by purpose.",
	}, []string{"purpose"})
)

// Service carries the notification handlers' dependencies. The zero value is
// not usable; construct it with NewService.
type Service struct {
	store   storage.NotificationStore
	sender  email.Sender
	guard   *ratelimit.Guard
	hostURL *url.URL
	from    string
	nowFn   func() time.Time
}

// NewService wires the notification workflow.
func NewService(store storage.NotificationStore, sender email.Sender, guard *ratelimit.Guard, hostURL *url.URL, fromAddress string) *Service {
	return &Service{
		store:   store,
		sender:  sender,
		guard:   guard,
		hostURL: hostURL,
		from:    fromAddress,
		nowFn:   time.Now,
	}
}

type errorResp struct {
	Msg string `json:"msg"`
}

type successResp struct {
	Msg string `json:"msg"`
}

type startReq struct {
	Npub string `json:"npub"`
}

type startResp struct {
	Challenge  string `json:"challenge"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

type registerReq struct {
	Npub            string `json:"npub"`
	SignedChallenge string `json:"signed_challenge"`
	EbillURL        string `json:"ebill_url"`
	Email           string `json:"email"`
}

type registerResp struct {
	PreferencesToken string `json:"preferences_token"`
}

type sendReq struct {
	Payload   nostrutil.SendPayload `json:"payload"`
	Signature string                `json:"signature"`
}

// Start hands the caller a random challenge to sign, proving control of the
// npub on the follow-up register call.
func (s *Service) Start(w http.ResponseWriter, r *http.Request) {
	var req startReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Msg: "Invalid request"})
		return
	}
	if _, err := nostrutil.DecodeNpub(req.Npub); err != nil {
		slog.Error("notification start with invalid npub", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResp{Msg: "Invalid npub"})
		return
	}

	now := s.nowFn()
	ip := ratelimit.ClientIP(r)
	if !s.guard.Check(now, ip, "", "", req.Npub) {
		rateLimitedTotal.Inc()
		slog.Warn("rate limited request", "ip", ip, "npub", nostrutil.AnonymizeNpub(req.Npub))
		writeJSON(w, http.StatusTooManyRequests, errorResp{Msg: "Please try again later"})
		return
	}

	challenge, err := randomHex()
	if err != nil {
		slog.Error("could not generate challenge", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp{Msg: "internal server error"})
		return
	}
	// A failed write only means register will report no challenge; the
	// client retries from the top.
	if err := s.store.UpsertChallenge(r.Context(), req.Npub, challenge, now); err != nil {
		slog.Error("could not persist challenge for npub", "error", err)
	}

	writeJSON(w, http.StatusOK, startResp{
		Challenge:  challenge,
		TTLSeconds: int64(challengeTTL / time.Second),
	})
}

// Register validates npub, email and the signed challenge, sends the
// confirmation mail and creates the preferences stub.
func (s *Service) Register(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Msg: "Invalid request"})
		return
	}

	pub, err := nostrutil.DecodeNpub(req.Npub)
	if err != nil {
		slog.Error("notification register with invalid npub", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResp{Msg: "Invalid npub"})
		return
	}
	if !validEmail(req.Email) {
		slog.Error("notification register with invalid email", "email", nostrutil.AnonymizeEmail(req.Email))
		writeJSON(w, http.StatusBadRequest, errorResp{Msg: "Invalid email"})
		return
	}
	ebillURL, err := url.Parse(req.EbillURL)
	if err != nil || !ebillURL.IsAbs() || ebillURL.Host == "" {
		slog.Error("notification register with invalid ebill url", "url", req.EbillURL)
		writeJSON(w, http.StatusBadRequest, errorResp{Msg: "Invalid ebill_url"})
		return
	}

	now := s.nowFn()
	ip := ratelimit.ClientIP(r)
	if !s.guard.Check(now, ip, req.Email, "", req.Npub) {
		rateLimitedTotal.Inc()
		slog.Warn("rate limited request", "ip", ip,
			"npub", nostrutil.AnonymizeNpub(req.Npub),
			"email", nostrutil.AnonymizeEmail(req.Email))
		writeJSON(w, http.StatusTooManyRequests, errorResp{Msg: "Please try again later"})
		return
	}

	challenge, err := s.store.GetChallenge(r.Context(), req.Npub)
	if err != nil {
		slog.Error("notification register fetching challenge failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp{Msg: "challenge error"})
		return
	}
	if challenge == nil {
		slog.Error("notification register without challenge", "npub", nostrutil.AnonymizeNpub(req.Npub))
		writeJSON(w, http.StatusBadRequest, errorResp{Msg: "No challenge existing"})
		return
	}
	if now.After(challenge.CreatedAt.Add(challengeTTL)) {
		slog.Error("notification register challenge expired")
		writeJSON(w, http.StatusBadRequest, errorResp{Msg: "challenge expired"})
		return
	}

	ok, err := nostrutil.VerifyChallenge(challenge.Challenge, req.SignedChallenge, pub)
	if err != nil {
		slog.Error("notification register check challenge error", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResp{Msg: "error checking challenge"})
		return
	}
	if !ok {
		slog.Error("notification register check invalid challenge error")
		writeJSON(w, http.StatusBadRequest, errorResp{Msg: "invalid challenge"})
		return
	}

	// The challenge is consumed regardless of what happens below.
	if err := s.store.DeleteChallenge(r.Context(), req.Npub); err != nil {
		slog.Warn("failed to delete consumed challenge", "error", err)
	}

	confirmationToken, err := randomToken()
	if err != nil {
		slog.Error("could not generate confirmation token", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp{Msg: "send mail confirmation error"})
		return
	}
	msg, err := email.BuildConfirmationMessage(s.hostURL, s.from, req.Email, confirmationToken)
	if err != nil {
		slog.Error("notification register create confirmation mail error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp{Msg: "send mail confirmation error"})
		return
	}
	if err := s.sender.Send(r.Context(), msg); err != nil {
		slog.Error("notification register send confirmation mail error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp{Msg: "send mail confirmation error"})
		return
	}
	emailsSentTotal.WithLabelValues("confirmation").Inc()

	preferencesToken, err := randomToken()
	if err != nil {
		slog.Error("could not generate preferences token", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp{Msg: "mail confirmation error"})
		return
	}
	if err := s.store.UpsertConfirmationAndPreferences(r.Context(), req.Npub, req.Email,
		confirmationToken, preferencesToken, ebillURL.String(), int64(DefaultFlags), now); err != nil {
		slog.Error("notification register persist confirmation and preferences failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp{Msg: "mail confirmation error"})
		return
	}

	writeJSON(w, http.StatusOK, registerResp{PreferencesToken: preferencesToken})
}

// Send accepts a sender-signed notification and mails the receiver if, and
// only if, the receiver opted in. Every drop reason short of an internal
// failure answers OK so senders cannot probe registrations.
func (s *Service) Send(w http.ResponseWriter, r *http.Request) {
	var req sendReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Msg: "Invalid request"})
		return
	}
	payload := req.Payload

	if _, err := nostrutil.DecodeNpub(payload.Receiver); err != nil {
		slog.Error("notification send with invalid receiver npub", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResp{Msg: "Invalid receiver npub"})
		return
	}
	senderPub, err := nostrutil.DecodeNpub(payload.Sender)
	if err != nil {
		slog.Error("notification send with invalid sender npub", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResp{Msg: "Invalid sender npub"})
		return
	}

	now := s.nowFn()
	ip := ratelimit.ClientIP(r)
	if !s.guard.Check(now, ip, "", payload.Sender, payload.Receiver) {
		rateLimitedTotal.Inc()
		slog.Warn("rate limited request", "ip", ip, "npub", nostrutil.AnonymizeNpub(payload.Receiver))
		writeJSON(w, http.StatusTooManyRequests, errorResp{Msg: "Please try again later"})
		return
	}

	flag, known := FlagFromKind(payload.Kind)
	if !known {
		slog.Error("notification send with invalid event type", "kind", payload.Kind)
		writeJSON(w, http.StatusBadRequest, errorResp{Msg: "Invalid kind"})
		return
	}
	if payload.ID == "" || !strings.HasPrefix(payload.ID, bitcrPrefix) {
		slog.Error("notification send with empty or invalid id")
		writeJSON(w, http.StatusBadRequest, errorResp{Msg: "Invalid ID"})
		return
	}

	ok, err := nostrutil.VerifyPayload(payload, req.Signature, senderPub)
	if err != nil {
		slog.Error("notification send check signature error", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResp{Msg: "error checking signature"})
		return
	}
	if !ok {
		slog.Error("notification send check invalid signature error")
		writeJSON(w, http.StatusBadRequest, errorResp{Msg: "invalid signature"})
		return
	}

	prefs, err := s.store.GetPreferencesByNpub(r.Context(), payload.Receiver)
	if err != nil {
		slog.Error("notification send error fetching email preferences", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp{Msg: "Error sending email"})
		return
	}
	// Unknown receiver, disabled notifications and unselected kinds are all
	// silently dropped.
	if prefs == nil || !prefs.Enabled || !Flags(prefs.Flags).Contains(flag) {
		writeJSON(w, http.StatusOK, successResp{Msg: "OK"})
		return
	}

	msg, err := email.BuildNotificationMessage(s.hostURL, prefs.Token, s.from, prefs.Email,
		flag.Title(), billLink(prefs.EbillURL, payload.ID))
	if err != nil {
		slog.Error("notification send create mail error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp{Msg: "send mail confirmation error"})
		return
	}
	if err := s.sender.Send(r.Context(), msg); err != nil {
		slog.Error("notification send mail error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp{Msg: "Error sending mail"})
		return
	}
	emailsSentTotal.WithLabelValues("notification").Inc()

	writeJSON(w, http.StatusOK, successResp{Msg: "OK"})
}

// ConfirmEmail redeems a confirmation link and enables the preferences row.
func (s *Service) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if !validToken(token) {
		slog.Error("notification email confirmation with malformed token")
		s.htmlError(w, http.StatusBadRequest, "invalid token")
		return
	}

	confirmation, err := s.store.GetConfirmationByToken(r.Context(), token)
	if err != nil || confirmation == nil {
		slog.Error("notification email confirmation not found by token")
		s.htmlError(w, http.StatusBadRequest, "invalid token")
		return
	}
	if s.nowFn().After(confirmation.SentAt.Add(confirmationTTL)) {
		slog.Error("notification confirm email token expired")
		s.htmlError(w, http.StatusBadRequest, "token expired")
		return
	}
	if confirmation.Confirmed {
		slog.Error("notification confirm email already confirmed")
		s.htmlError(w, http.StatusBadRequest, "email already confirmed")
		return
	}

	prefs, err := s.store.GetPreferencesByNpub(r.Context(), confirmation.Npub)
	if err != nil || prefs == nil {
		slog.Error("notification email confirmation no preferences found for npub")
		s.htmlError(w, http.StatusBadRequest, "invalid token")
		return
	}
	if confirmation.Email != prefs.Email {
		slog.Error("notification email confirmation preferences do not match confirmation")
		s.htmlError(w, http.StatusBadRequest, "invalid email")
		return
	}

	if err := s.store.ConfirmEmail(r.Context(), confirmation.Npub); err != nil {
		slog.Error("notification email confirmation, setting to confirmed failed", "error", err)
		s.htmlError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.htmlSuccess(w, "Success! Email Confirmed")
}

// Preferences renders the token-guarded preferences form.
func (s *Service) Preferences(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	prefs, ok := s.loadPreferences(w, r, token)
	if !ok {
		return
	}
	s.renderPage(w, http.StatusOK, pageContext{
		Title: "Email Preferences",
		Form: &preferencesForm{
			Enabled:          prefs.Enabled,
			PreferencesToken: token,
			AnonEmail:        nostrutil.AnonymizeEmail(prefs.Email),
			AnonNpub:         nostrutil.AnonymizeNpub(prefs.Npub),
			Flags:            Flags(prefs.Flags).FormFlags(),
		},
	})
}

// UpdatePreferences applies a submitted preferences form and redirects back
// to the form.
func (s *Service) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("notification update preferences form parse error", "error", err)
		s.htmlError(w, http.StatusBadRequest, "invalid token")
		return
	}
	token := r.PostFormValue("preferences_token")
	if _, ok := s.loadPreferences(w, r, token); !ok {
		return
	}

	enabled := r.PostFormValue("enabled") == "on"
	var flags Flags
	// Unknown bit values are dropped rather than rejected.
	for _, raw := range r.PostForm["flags"] {
		bits, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		if flag, known := FlagFromBits(bits); known {
			flags |= flag
		}
	}

	if err := s.store.UpdatePreferencesByToken(r.Context(), token, enabled, int64(flags)); err != nil {
		slog.Error("notification update preferences error", "error", err)
		s.htmlError(w, http.StatusInternalServerError, "could not save changes")
		return
	}
	http.Redirect(w, r, "/notifications/preferences/"+url.PathEscape(token), http.StatusSeeOther)
}

// loadPreferences resolves a preferences token for the HTML endpoints. It
// writes the error page itself and reports ok=false when the caller should
// stop.
func (s *Service) loadPreferences(w http.ResponseWriter, r *http.Request, token string) (*storage.EmailPreferences, bool) {
	if !validToken(token) {
		slog.Error("notification preferences called with malformed token")
		s.htmlError(w, http.StatusBadRequest, "invalid token")
		return nil, false
	}
	prefs, err := s.store.GetPreferencesByToken(r.Context(), token)
	if err != nil || prefs == nil {
		slog.Error("notification preferences invalid token")
		s.htmlError(w, http.StatusBadRequest, "invalid token")
		return nil, false
	}
	if !prefs.EmailConfirmed {
		slog.Error("notification preferences email was not confirmed")
		s.htmlError(w, http.StatusBadRequest, "email has to be confirmed")
		return nil, false
	}
	return prefs, true
}

// billLink points the receiver at the bill inside their own eBill instance.
func billLink(ebillURL, id string) string {
	base, err := url.Parse(ebillURL)
	if err != nil {
		slog.Error("stored ebill url unparseable", "error", err)
		return ebillURL
	}
	link, err := base.Parse("/bill/" + url.PathEscape(id))
	if err != nil {
		slog.Error("error creating bill link", "error", err)
		return ebillURL
	}
	return link.String()
}

func validEmail(addr string) bool {
	parsed, err := mail.ParseAddress(addr)
	return err == nil && parsed.Address == addr
}

// validToken accepts only well-formed url-safe base64 without padding, the
// shape of every token this service issues.
func validToken(token string) bool {
	if token == "" {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil
}

func randomHex() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}

func randomToken() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response failed", "error", err)
	}
}
