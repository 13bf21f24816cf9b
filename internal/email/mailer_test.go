// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PartForge Contributors

package email_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partforge/partforge/internal/email"
	"github.com/partforge/partforge/pkg/errutil"
)

func TestSignupMessage(t *testing.T) {
	msg, err := email.SignupMessage("no-reply@forge.test", "alice@example.com", "https://forge.test/api/auth/verify-email/7.tok")
	require.NoError(t, err)

	assert.Equal(t, "no-reply@forge.test", msg.From)
	assert.Equal(t, "alice@example.com", msg.To)
	assert.Equal(t, "Confirm your PartForge account", msg.Subject)
	assert.Contains(t, msg.Body, "https://forge.test/api/auth/verify-email/7.tok")
	assert.Contains(t, msg.Body, "24 hours")
}

func TestPasswordResetMessage(t *testing.T) {
	msg, err := email.PasswordResetMessage("no-reply@forge.test", "alice@example.com", "https://forge.test/reset-password.html?token=7.tok")
	require.NoError(t, err)

	assert.Equal(t, "Reset your PartForge password", msg.Subject)
	assert.Contains(t, msg.Body, "https://forge.test/reset-password.html?token=7.tok")
	assert.Contains(t, msg.Body, "20 minutes")
	assert.Contains(t, msg.Body, "used once")
}

func TestLogMailer(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	mailer := email.NewLogMailer("no-reply@forge.test", logger)

	err := mailer.SendSignupVerification(context.Background(), "alice@example.com", "https://forge.test/api/auth/verify-email/7.tok")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "alice@example.com")
	assert.Contains(t, out, "https://forge.test/api/auth/verify-email/7.tok")

	buf.Reset()
	err = mailer.SendPasswordReset(context.Background(), "alice@example.com", "https://forge.test/reset-password.html?token=8.tok")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "token=8.tok")
}

func TestHTTPMailer_Delivers(t *testing.T) {
	var got struct {
		From    string `json:"from"`
		To      string `json:"to"`
		Subject string `json:"subject"`
		Text    string `json:"text"`
	}
	var auth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	mailer, err := email.NewHTTPMailer(email.HTTPMailerConfig{
		Endpoint: srv.URL,
		APIKey:   "sekret",
		From:     "no-reply@forge.test",
	})
	require.NoError(t, err)

	err = mailer.SendSignupVerification(context.Background(), "alice@example.com", "https://forge.test/api/auth/verify-email/7.tok")
	require.NoError(t, err)

	assert.Equal(t, "Bearer sekret", auth)
	assert.Equal(t, "no-reply@forge.test", got.From)
	assert.Equal(t, "alice@example.com", got.To)
	assert.Equal(t, "Confirm your PartForge account", got.Subject)
	assert.Contains(t, got.Text, "verify-email/7.tok")
}

func TestHTTPMailer_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mailer, err := email.NewHTTPMailer(email.HTTPMailerConfig{
		Endpoint:   srv.URL,
		From:       "no-reply@forge.test",
		MaxRetries: 5,
		Timeout:    5 * time.Second,
	})
	require.NoError(t, err)

	err = mailer.SendPasswordReset(context.Background(), "alice@example.com", "https://forge.test/reset-password.html?token=7.tok")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPMailer_DoesNotRetryRejection(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	mailer, err := email.NewHTTPMailer(email.HTTPMailerConfig{
		Endpoint:   srv.URL,
		From:       "no-reply@forge.test",
		MaxRetries: 5,
	})
	require.NoError(t, err)

	err = mailer.SendSignupVerification(context.Background(), "alice@example.com", "https://forge.test/link")
	errutil.AssertErrorCode(t, err, "EMAIL_DELIVERY_FAILED")
	assert.Equal(t, int32(1), calls.Load(), "4xx responses must not be retried")
}

func TestNewHTTPMailer_RequiresEndpoint(t *testing.T) {
	_, err := email.NewHTTPMailer(email.HTTPMailerConfig{From: "no-reply@forge.test"})
	errutil.AssertErrorCode(t, err, "EMAIL_CONFIG_INVALID")
}
