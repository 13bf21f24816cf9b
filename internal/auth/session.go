// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PartForge Contributors

package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// SessionKind distinguishes a provisional pre-verification session
// from a full login session.
type SessionKind string

// Session kinds.
const (
	SessionKindLogin  SessionKind = "login"
	SessionKindSignup SessionKind = "signup"
)

// Session is a server-side login credential bound to a user. The ID is
// the opaque value stored in the client cookie; nothing else about the
// session ever leaves the server.
type Session struct {
	ID        uuid.UUID
	UserID    int64
	Kind      SessionKind
	CreatedAt time.Time
	ExpiresAt time.Time
	Revoked   bool
}

// NewSession creates a validated Session with a random unguessable ID.
func NewSession(userID int64, kind SessionKind, now time.Time, lifetime time.Duration) (*Session, error) {
	if userID == 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if kind != SessionKindLogin && kind != SessionKindSignup {
		return nil, oops.Code("SESSION_INVALID_KIND").With("kind", string(kind)).Errorf("unknown session kind")
	}
	if lifetime <= 0 {
		return nil, oops.Code("SESSION_INVALID_LIFETIME").Errorf("lifetime must be positive")
	}

	return &Session{
		ID:        uuid.New(),
		UserID:    userID,
		Kind:      kind,
		CreatedAt: now,
		ExpiresAt: now.Add(lifetime),
	}, nil
}

// UsableAt reports whether the session is valid at the given time:
// not revoked and not past its absolute expiry.
func (s *Session) UsableAt(t time.Time) bool {
	return !s.Revoked && t.Before(s.ExpiresAt)
}

// RemainingSeconds returns the whole seconds until expiry, floored at
// 1 so a cookie max-age derived from it never immediately deletes the
// cookie for a still-valid session.
func (s *Session) RemainingSeconds(now time.Time) int {
	remaining := int(s.ExpiresAt.Sub(now).Seconds())
	if remaining < 1 {
		remaining = 1
	}
	return remaining
}

// SessionRepository manages session persistence. Sessions are never
// hard-deleted; revocation keeps them for audit until external cleanup.
type SessionRepository interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// GetActive retrieves a session that is neither revoked nor
	// expired. Returns ErrNotFound otherwise.
	GetActive(ctx context.Context, id uuid.UUID) (*Session, error)

	// Revoke marks a single session revoked. Idempotent.
	Revoke(ctx context.Context, id uuid.UUID) error

	// RevokeAllForUser marks every non-revoked session of a user
	// revoked. Idempotent.
	RevokeAllForUser(ctx context.Context, userID int64) error
}
