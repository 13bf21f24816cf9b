// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PartForge Contributors

package email

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/partforge/partforge/internal/auth"
)

// HTTPMailerConfig configures delivery through an HTTP mail API.
type HTTPMailerConfig struct {
	Endpoint   string
	APIKey     string
	From       string
	Timeout    time.Duration
	MaxRetries int
}

// HTTPMailer posts rendered mails to a JSON delivery API. Transient
// failures (5xx, network errors) are retried with exponential backoff.
type HTTPMailer struct {
	cfg    HTTPMailerConfig
	client *http.Client
}

// NewHTTPMailer creates a mailer backed by an HTTP delivery API.
func NewHTTPMailer(cfg HTTPMailerConfig) (*HTTPMailer, error) {
	if cfg.Endpoint == "" {
		return nil, oops.Code("EMAIL_CONFIG_INVALID").Errorf("endpoint cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &HTTPMailer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

var _ auth.Mailer = (*HTTPMailer)(nil)

// SendSignupVerification delivers the signup verification mail.
func (m *HTTPMailer) SendSignupVerification(ctx context.Context, to, link string) error {
	msg, err := SignupMessage(m.cfg.From, to, link)
	if err != nil {
		return err
	}
	return m.deliver(ctx, msg)
}

// SendPasswordReset delivers the password reset mail.
func (m *HTTPMailer) SendPasswordReset(ctx context.Context, to, link string) error {
	msg, err := PasswordResetMessage(m.cfg.From, to, link)
	if err != nil {
		return err
	}
	return m.deliver(ctx, msg)
}

type deliveryRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

func (m *HTTPMailer) deliver(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(deliveryRequest{
		From:    msg.From,
		To:      msg.To,
		Subject: msg.Subject,
		Text:    msg.Body,
	})
	if err != nil {
		return oops.Code("EMAIL_ENCODE_FAILED").Wrap(err)
	}

	backoff := retry.WithMaxRetries(uint64(m.cfg.MaxRetries), retry.NewExponential(500*time.Millisecond))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		return m.post(ctx, payload)
	})
	if err != nil {
		return oops.Code("EMAIL_DELIVERY_FAILED").
			With("to", msg.To).
			With("subject", msg.Subject).
			Wrap(err)
	}
	return nil
}

func (m *HTTPMailer) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return oops.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		// Network errors are worth retrying.
		return retry.RetryableError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return retry.RetryableError(oops.With("status", resp.StatusCode).Errorf("mail API unavailable"))
	default:
		return oops.With("status", resp.StatusCode).Errorf("mail API rejected message")
	}
}
