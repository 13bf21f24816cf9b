// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PartForge Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/partforge/partforge/internal/auth"
)

// SessionRepository implements auth.SessionRepository using PostgreSQL.
type SessionRepository struct {
	pool DB

	// now is swappable for deterministic tests of the expiry filter.
	now func() time.Time
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool DB) *SessionRepository {
	return &SessionRepository{pool: pool, now: time.Now}
}

// Create stores a new session.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	_, err := dbFrom(ctx, r.pool).Exec(ctx, `
		INSERT INTO sessions (id, user_id, kind, created_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		session.ID,
		session.UserID,
		string(session.Kind),
		session.CreatedAt,
		session.ExpiresAt,
		session.Revoked,
	)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("user_id", session.UserID).
			Wrap(err)
	}
	return nil
}

// GetActive retrieves a session that is neither revoked nor expired.
func (r *SessionRepository) GetActive(ctx context.Context, id uuid.UUID) (*auth.Session, error) {
	row := dbFrom(ctx, r.pool).QueryRow(ctx, `
		SELECT id, user_id, kind, created_at, expires_at, revoked
		FROM sessions
		WHERE id = $1 AND revoked = FALSE AND expires_at > $2
	`, id, r.now())

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_ACTIVE_FAILED").
			With("operation", "get active session").
			Wrap(err)
	}
	return session, nil
}

// Revoke marks a single session revoked. Already-revoked and unknown
// ids are both fine; revocation is idempotent.
func (r *SessionRepository) Revoke(ctx context.Context, id uuid.UUID) error {
	_, err := dbFrom(ctx, r.pool).Exec(ctx, `
		UPDATE sessions SET revoked = TRUE
		WHERE id = $1
	`, id)
	if err != nil {
		return oops.Code("SESSION_REVOKE_FAILED").
			With("operation", "update revoked").
			With("id", id.String()).
			Wrap(err)
	}
	return nil
}

// RevokeAllForUser marks every non-revoked session of a user revoked.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID int64) error {
	_, err := dbFrom(ctx, r.pool).Exec(ctx, `
		UPDATE sessions SET revoked = TRUE
		WHERE user_id = $1 AND revoked = FALSE
	`, userID)
	if err != nil {
		return oops.Code("SESSION_REVOKE_ALL_FAILED").
			With("operation", "update revoked by user").
			With("user_id", userID).
			Wrap(err)
	}
	return nil
}

// scanSession scans a single row into a Session. Callers are
// responsible for handling pgx.ErrNoRows.
func scanSession(row pgx.Row) (*auth.Session, error) {
	var (
		s    auth.Session
		kind string
	)
	err := row.Scan(&s.ID, &s.UserID, &kind, &s.CreatedAt, &s.ExpiresAt, &s.Revoked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers wrap with context-specific info
		}
		return nil, oops.Code("SESSION_SCAN_FAILED").
			With("operation", "scan session").
			Wrap(err)
	}
	s.Kind = auth.SessionKind(kind)
	return &s, nil
}

// Compile-time interface check.
var _ auth.SessionRepository = (*SessionRepository)(nil)
