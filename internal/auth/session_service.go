// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PartForge Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// SessionService creates, validates, rotates, and revokes sessions.
type SessionService struct {
	sessions SessionRepository

	now func() time.Time
}

// NewSessionService creates a SessionService.
func NewSessionService(sessions SessionRepository) (*SessionService, error) {
	if sessions == nil {
		return nil, oops.Errorf("session repository is required")
	}
	return &SessionService{sessions: sessions, now: time.Now}, nil
}

// Create makes a new session for the user with the given kind and
// lifetime and persists it.
func (s *SessionService) Create(ctx context.Context, userID int64, kind SessionKind, lifetime time.Duration) (*Session, error) {
	session, err := NewSession(userID, kind, s.now(), lifetime)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, oops.Code("SESSION_CREATE_FAILED").
			With("user_id", userID).
			With("kind", string(kind)).
			Wrap(err)
	}
	return session, nil
}

// Validate resolves a raw cookie value to an active session. An
// absent, malformed, unknown, revoked, or expired id is a normal
// anonymous-request state and yields (nil, nil), never an error.
// Errors are reserved for storage faults.
func (s *SessionService) Validate(ctx context.Context, rawID string) (*Session, error) {
	if rawID == "" {
		return nil, nil
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, nil
	}

	session, err := s.sessions.GetActive(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, oops.Code("SESSION_VALIDATE_FAILED").Wrap(err)
	}
	return session, nil
}

// Revoke marks the session revoked. Idempotent.
func (s *SessionService) Revoke(ctx context.Context, session *Session) error {
	if err := s.sessions.Revoke(ctx, session.ID); err != nil {
		return oops.Code("SESSION_REVOKE_FAILED").
			With("session_id", session.ID.String()).
			Wrap(err)
	}
	session.Revoked = true
	sessionsRevoked.Inc()
	return nil
}

// RevokeAllForUser revokes every active session of the user, the
// logout-everywhere used by password reset.
func (s *SessionService) RevokeAllForUser(ctx context.Context, userID int64) error {
	if err := s.sessions.RevokeAllForUser(ctx, userID); err != nil {
		return oops.Code("SESSION_REVOKE_ALL_FAILED").
			With("user_id", userID).
			Wrap(err)
	}
	return nil
}

// Rotate replaces a session with a fresh id while preserving the old
// session's absolute expiry, then revokes the old one. Used after a
// privilege change so a credential issued under the prior trust level
// cannot live on, without forcing a re-login inside the original
// window.
func (s *SessionService) Rotate(ctx context.Context, old *Session) (*Session, error) {
	replacement := &Session{
		ID:        uuid.New(),
		UserID:    old.UserID,
		Kind:      SessionKindLogin,
		CreatedAt: s.now(),
		ExpiresAt: old.ExpiresAt,
	}
	if err := s.sessions.Create(ctx, replacement); err != nil {
		return nil, oops.Code("SESSION_ROTATE_FAILED").
			With("operation", "create replacement").
			With("session_id", old.ID.String()).
			Wrap(err)
	}
	if err := s.sessions.Revoke(ctx, old.ID); err != nil {
		return nil, oops.Code("SESSION_ROTATE_FAILED").
			With("operation", "revoke old").
			With("session_id", old.ID.String()).
			Wrap(err)
	}
	old.Revoked = true
	sessionsRotated.Inc()
	return replacement, nil
}
