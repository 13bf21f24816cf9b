// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PartForge Contributors

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/partforge/partforge/internal/auth"
)

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	pool DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool DB) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create stores a new user and fills in the generated id. Uniqueness
// violations on email and username map to the auth sentinels.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	err := dbFrom(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO users (email, username, password_hash, is_active, is_admin, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`,
		user.Email,
		user.Username,
		user.PasswordHash,
		user.Active,
		user.Admin,
		user.CreatedAt,
	).Scan(&user.ID)
	if err != nil {
		if taken := uniqueViolation(err); taken != nil {
			return taken
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("username", user.Username).
			Wrap(err)
	}
	return nil
}

// uniqueViolation maps a unique-constraint error to the field-specific
// sentinel, or nil when err is something else.
func uniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return nil
	}
	switch pgErr.ConstraintName {
	case "users_email_key":
		return oops.Code("USER_EMAIL_TAKEN").Wrap(auth.ErrEmailTaken)
	case "users_username_key":
		return oops.Code("USER_USERNAME_TAKEN").Wrap(auth.ErrUsernameTaken)
	default:
		return nil
	}
}

// GetByID retrieves a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*auth.User, error) {
	row := dbFrom(ctx, r.pool).QueryRow(ctx, `
		SELECT id, email, username, password_hash, is_active, is_admin, created_at
		FROM users
		WHERE id = $1
	`, id)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("id", id).
			Wrap(err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email. Emails are case-sensitive
// unique, so the match is exact.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := dbFrom(ctx, r.pool).QueryRow(ctx, `
		SELECT id, email, username, password_hash, is_active, is_admin, created_at
		FROM users
		WHERE email = $1
	`, email)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return user, nil
}

// GetByUsername retrieves a user by username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	row := dbFrom(ctx, r.pool).QueryRow(ctx, `
		SELECT id, email, username, password_hash, is_active, is_admin, created_at
		FROM users
		WHERE username = $1
	`, username)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("username", username).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_USERNAME_FAILED").
			With("operation", "get user by username").
			With("username", username).
			Wrap(err)
	}
	return user, nil
}

// Activate sets the active flag. Transaction-aware.
func (r *UserRepository) Activate(ctx context.Context, id int64) error {
	result, err := dbFrom(ctx, r.pool).Exec(ctx, `
		UPDATE users SET is_active = TRUE
		WHERE id = $1
	`, id)
	if err != nil {
		return oops.Code("USER_ACTIVATE_FAILED").
			With("operation", "update is_active").
			With("id", id).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdatePassword updates only the password hash. Transaction-aware.
func (r *UserRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	result, err := dbFrom(ctx, r.pool).Exec(ctx, `
		UPDATE users SET password_hash = $2
		WHERE id = $1
	`, id, passwordHash)
	if err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").
			With("operation", "update password_hash").
			With("id", id).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanUser scans a single row into a User. Callers are responsible for
// handling pgx.ErrNoRows.
func scanUser(row pgx.Row) (*auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.Active, &u.Admin, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").
			With("operation", "scan user").
			Wrap(err)
	}
	return &u, nil
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
