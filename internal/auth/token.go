// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PartForge Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
)

// TokenSecretBytes is the entropy of a token secret (256 bits).
const TokenSecretBytes = 32

// TokenPurpose is the flow a verification token belongs to. Tokens are
// never valid across purposes.
type TokenPurpose string

// Token purposes.
const (
	PurposeSignup        TokenPurpose = "signup"
	PurposePasswordReset TokenPurpose = "password_reset"
)

// Default lifetimes and resend cooldowns per purpose. Exposed as
// configuration; these are the fallbacks.
const (
	DefaultSignupTokenLifetime = 24 * time.Hour
	DefaultResetTokenLifetime  = 20 * time.Minute
	DefaultResendCooldown      = time.Minute
)

// TokenPolicy holds the per-purpose issuance parameters.
type TokenPolicy struct {
	Lifetime       time.Duration
	ResendCooldown time.Duration
}

// DefaultTokenPolicies returns the built-in per-purpose policies.
func DefaultTokenPolicies() map[TokenPurpose]TokenPolicy {
	return map[TokenPurpose]TokenPolicy{
		PurposeSignup:        {Lifetime: DefaultSignupTokenLifetime, ResendCooldown: DefaultResendCooldown},
		PurposePasswordReset: {Lifetime: DefaultResetTokenLifetime, ResendCooldown: DefaultResendCooldown},
	}
}

// VerificationToken is a single-use, purpose-scoped credential
// delivered to the user's email address. Only the hash of the secret
// is ever persisted.
type VerificationToken struct {
	ID        int64
	UserID    int64
	TokenHash string
	Purpose   TokenPurpose
	Used      bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpiredAt reports whether the token would be expired at the given
// time.
func (t *VerificationToken) IsExpiredAt(at time.Time) bool {
	return t.ExpiresAt.Before(at)
}

// GenerateTokenSecret creates a cryptographically random secret,
// base64url-encoded without padding.
func GenerateTokenSecret() (string, error) {
	buf := make([]byte, TokenSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", oops.Code("TOKEN_SECRET_GENERATE_FAILED").
			With("requested_bytes", TokenSecretBytes).
			Wrap(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// FormatPublicToken builds the user-facing "{id}.{secret}" string.
func FormatPublicToken(id int64, secret string) string {
	return strconv.FormatInt(id, 10) + "." + secret
}

// SplitPublicToken parses a public token into its id and secret parts.
// ok is false for anything that is not "<positive integer>.<secret>".
func SplitPublicToken(public string) (id int64, secret string, ok bool) {
	idStr, secret, found := strings.Cut(public, ".")
	if !found || secret == "" {
		return 0, "", false
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	return id, secret, true
}

// TokenRepository manages verification token persistence. Tokens are
// never deleted; they are kept for cooldown lookups and audit.
type TokenRepository interface {
	// Create stores a new token and fills in the generated ID.
	Create(ctx context.Context, token *VerificationToken) error

	// GetByID retrieves a token by id and purpose.
	GetByID(ctx context.Context, id int64, purpose TokenPurpose) (*VerificationToken, error)

	// LatestForUser retrieves the most recently created token for a
	// (user, purpose) pair. Returns ErrNotFound when none exists.
	LatestForUser(ctx context.Context, userID int64, purpose TokenPurpose) (*VerificationToken, error)

	// MarkUsed flips the used flag of a not-yet-used token. Returns
	// ErrNotFound when the token is missing or already used, so a
	// racing consumer loses cleanly. Transaction-aware: when the
	// context carries a transaction the write lands inside it and is
	// undone by rollback.
	MarkUsed(ctx context.Context, id int64) error
}

// Transactor runs a function inside a storage transaction. Everything
// repositories do with the yielded context commits or rolls back as
// one unit.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
