// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PartForge Contributors

package email

import (
	"context"
	"log/slog"

	"github.com/partforge/partforge/internal/auth"
)

// LogMailer writes mails to the log instead of delivering them. It is
// the development mode mailer; the logged link can be opened directly.
type LogMailer struct {
	from   string
	logger *slog.Logger
}

// NewLogMailer creates a mailer that logs instead of sending.
func NewLogMailer(from string, logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{from: from, logger: logger}
}

var _ auth.Mailer = (*LogMailer)(nil)

// SendSignupVerification logs the signup verification mail.
func (m *LogMailer) SendSignupVerification(ctx context.Context, to, link string) error {
	msg, err := SignupMessage(m.from, to, link)
	if err != nil {
		return err
	}
	m.log(ctx, msg, link)
	return nil
}

// SendPasswordReset logs the password reset mail.
func (m *LogMailer) SendPasswordReset(ctx context.Context, to, link string) error {
	msg, err := PasswordResetMessage(m.from, to, link)
	if err != nil {
		return err
	}
	m.log(ctx, msg, link)
	return nil
}

func (m *LogMailer) log(ctx context.Context, msg Message, link string) {
	m.logger.InfoContext(ctx, "mail delivery skipped, log mode",
		"to", msg.To,
		"subject", msg.Subject,
		"link", link,
	)
}
