// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PartForge Contributors

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/partforge/partforge/internal/auth"
)

// TokenRepository implements auth.TokenRepository using PostgreSQL.
type TokenRepository struct {
	pool DB
}

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(pool DB) *TokenRepository {
	return &TokenRepository{pool: pool}
}

// Create stores a new verification token and fills in the generated id.
func (r *TokenRepository) Create(ctx context.Context, token *auth.VerificationToken) error {
	err := dbFrom(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO verification_tokens (user_id, token_hash, purpose, is_used, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`,
		token.UserID,
		token.TokenHash,
		string(token.Purpose),
		token.Used,
		token.CreatedAt,
		token.ExpiresAt,
	).Scan(&token.ID)
	if err != nil {
		return oops.Code("TOKEN_CREATE_FAILED").
			With("operation", "insert verification_token").
			With("user_id", token.UserID).
			With("purpose", string(token.Purpose)).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a token by id and purpose.
func (r *TokenRepository) GetByID(ctx context.Context, id int64, purpose auth.TokenPurpose) (*auth.VerificationToken, error) {
	row := dbFrom(ctx, r.pool).QueryRow(ctx, `
		SELECT id, user_id, token_hash, purpose, is_used, created_at, expires_at
		FROM verification_tokens
		WHERE id = $1 AND purpose = $2
	`, id, string(purpose))

	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").
			With("id", id).
			With("purpose", string(purpose)).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_GET_BY_ID_FAILED").
			With("operation", "get token by id").
			With("id", id).
			Wrap(err)
	}
	return token, nil
}

// LatestForUser retrieves the most recently created token for a
// (user, purpose) pair.
func (r *TokenRepository) LatestForUser(ctx context.Context, userID int64, purpose auth.TokenPurpose) (*auth.VerificationToken, error) {
	row := dbFrom(ctx, r.pool).QueryRow(ctx, `
		SELECT id, user_id, token_hash, purpose, is_used, created_at, expires_at
		FROM verification_tokens
		WHERE user_id = $1 AND purpose = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, userID, string(purpose))

	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").
			With("user_id", userID).
			With("purpose", string(purpose)).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_GET_LATEST_FAILED").
			With("operation", "get latest token for user").
			With("user_id", userID).
			Wrap(err)
	}
	return token, nil
}

// MarkUsed flips the used flag of a not-yet-used token. The is_used
// guard in the WHERE clause makes concurrent consumers race safely:
// under read-committed isolation the row lock serializes the two
// updates and the loser matches zero rows, surfacing as ErrNotFound.
// Transaction-aware: inside InTransaction the write is undone by
// rollback.
func (r *TokenRepository) MarkUsed(ctx context.Context, id int64) error {
	result, err := dbFrom(ctx, r.pool).Exec(ctx, `
		UPDATE verification_tokens SET is_used = TRUE
		WHERE id = $1 AND is_used = FALSE
	`, id)
	if err != nil {
		return oops.Code("TOKEN_MARK_USED_FAILED").
			With("operation", "update is_used").
			With("id", id).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("TOKEN_NOT_FOUND").
			With("id", id).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanToken scans a single row into a VerificationToken. Callers are
// responsible for handling pgx.ErrNoRows.
func scanToken(row pgx.Row) (*auth.VerificationToken, error) {
	var (
		t       auth.VerificationToken
		purpose string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &purpose, &t.Used, &t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers wrap with context-specific info
		}
		return nil, oops.Code("TOKEN_SCAN_FAILED").
			With("operation", "scan verification_token").
			Wrap(err)
	}
	t.Purpose = auth.TokenPurpose(purpose)
	return &t, nil
}

// Compile-time interface check.
var _ auth.TokenRepository = (*TokenRepository)(nil)
