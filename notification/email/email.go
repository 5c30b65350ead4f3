// Package email delivers the service's outbound mail through a provider
// abstraction, so handlers and tests never depend on the Mailjet wire format
// directly.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
)

// Message is a single outbound HTML email.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Sender dispatches messages through a provider.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender logs messages instead of delivering them. Intended for
// development and tests.
type LogSender struct {
	Logger *slog.Logger
}

// Send logs the message envelope.
func (l *LogSender) Send(_ context.Context, msg Message) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("email suppressed by log sender", "to", msg.To, "subject", msg.Subject)
	return nil
}

// BuildConfirmationMessage renders the email-confirmation mail pointing at
// this relay's confirm endpoint.
func BuildConfirmationMessage(hostURL *url.URL, from, to, token string) (Message, error) {
	link, err := hostURL.Parse("/notifications/confirm_email")
	if err != nil {
		return Message{}, fmt.Errorf("build confirmation link: %w", err)
	}
	q := url.Values{}
	q.Set("token", token)
	link.RawQuery = q.Encode()

	body, err := renderMail(mailContext{
		Title:    "Please confirm your E-Mail",
		LogoLink: logoLink(hostURL),
		Link:     link.String(),
		LinkText: "Click here to confirm",
		Footer:   "The link is valid for 1 day.",
	})
	if err != nil {
		return Message{}, err
	}
	return Message{
		From:    from,
		To:      to,
		Subject: "Confirm your E-Mail",
		Body:    body,
	}, nil
}

// BuildNotificationMessage renders a bill notification mail. The footer
// carries the preferences link so receivers can always opt out.
func BuildNotificationMessage(hostURL *url.URL, preferencesToken, from, to, title, link string) (Message, error) {
	prefs, err := hostURL.Parse("/notifications/preferences/" + url.PathEscape(preferencesToken))
	if err != nil {
		return Message{}, fmt.Errorf("build preferences link: %w", err)
	}
	body, err := renderMail(mailContext{
		Title:     title,
		LogoLink:  logoLink(hostURL),
		Link:      link,
		LinkText:  "View in eBill app",
		Footer:    "You receive this mail because you enabled eBill email notifications.",
		PrefsLink: prefs.String(),
	})
	if err != nil {
		return Message{}, err
	}
	return Message{
		From:    from,
		To:      to,
		Subject: title,
		Body:    body,
	}, nil
}

func logoLink(hostURL *url.URL) string {
	logo, err := hostURL.Parse("/static/logo.png")
	if err != nil {
		return ""
	}
	return logo.String()
}
