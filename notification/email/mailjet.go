package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const mailjetSendPath = "/v3.1/send"

// MailjetConfig holds the provider credentials and endpoint.
type MailjetConfig struct {
	APIKey       string
	APISecretKey string
	URL          *url.URL
}

// MailjetSender delivers messages through the Mailjet v3.1 send API.
type MailjetSender struct {
	cfg    MailjetConfig
	client *http.Client
}

// NewMailjetSender constructs a sender with a capped request timeout.
func NewMailjetSender(cfg MailjetConfig) *MailjetSender {
	return &MailjetSender{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type mailjetReq struct {
	Messages []mailjetMessage `json:"Messages"`
}

type mailjetMessage struct {
	From     mailjetAddress   `json:"From"`
	To       []mailjetAddress `json:"To"`
	Subject  string           `json:"Subject"`
	HTMLPart string           `json:"HTMLPart"`
}

type mailjetAddress struct {
	Email string `json:"Email"`
}

type mailjetResp struct {
	Messages []struct {
		Status string `json:"Status"`
	} `json:"Messages"`
}

// Send posts the message and treats it as delivered iff the provider reports
// success for it.
func (m *MailjetSender) Send(ctx context.Context, msg Message) error {
	endpoint, err := m.cfg.URL.Parse(mailjetSendPath)
	if err != nil {
		return fmt.Errorf("build send url: %w", err)
	}

	payload := mailjetReq{Messages: []mailjetMessage{{
		From:     mailjetAddress{Email: msg.From},
		To:       []mailjetAddress{{Email: msg.To}},
		Subject:  msg.Subject,
		HTMLPart: msg.Body,
	}}}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(m.cfg.APIKey, m.cfg.APISecretKey)

	res, err := m.client.Do(req)
	if err != nil {
		slog.Error("email provider request failed", "error", err)
		return errors.New("failed to send email")
	}
	defer res.Body.Close()

	var parsed mailjetResp
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		slog.Error("email provider response unreadable", "error", err)
		return errors.New("failed to parse email response")
	}
	if len(parsed.Messages) == 0 {
		return errors.New("email response carried no status")
	}
	if status := parsed.Messages[0].Status; status != "success" {
		return fmt.Errorf("email send rejected with status %q", status)
	}
	return nil
}
