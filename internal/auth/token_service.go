// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PartForge Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
)

// VerificationTokenService issues, validates, and consumes
// verification tokens.
type VerificationTokenService struct {
	tokens   TokenRepository
	users    UserRepository
	hasher   SecretHasher
	policies map[TokenPurpose]TokenPolicy

	// now is swappable for deterministic tests.
	now func() time.Time
}

// NewVerificationTokenService creates a VerificationTokenService.
// policies may be nil, in which case the defaults apply.
func NewVerificationTokenService(
	tokens TokenRepository,
	users UserRepository,
	hasher SecretHasher,
	policies map[TokenPurpose]TokenPolicy,
) (*VerificationTokenService, error) {
	if tokens == nil {
		return nil, oops.Errorf("token repository is required")
	}
	if users == nil {
		return nil, oops.Errorf("user repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("secret hasher is required")
	}
	if policies == nil {
		policies = DefaultTokenPolicies()
	}
	return &VerificationTokenService{
		tokens:   tokens,
		users:    users,
		hasher:   hasher,
		policies: policies,
		now:      time.Now,
	}, nil
}

// policy returns the issuance parameters for a purpose.
func (s *VerificationTokenService) policy(purpose TokenPurpose) TokenPolicy {
	if p, ok := s.policies[purpose]; ok {
		return p
	}
	return TokenPolicy{Lifetime: DefaultResetTokenLifetime, ResendCooldown: DefaultResendCooldown}
}

// Issue generates a token for the user and purpose and persists its
// hash. lifetimeOverride of zero means the purpose default. The
// returned public token is the only place the secret ever appears.
func (s *VerificationTokenService) Issue(ctx context.Context, user *User, purpose TokenPurpose, lifetimeOverride time.Duration) (string, error) {
	lifetime := lifetimeOverride
	if lifetime <= 0 {
		lifetime = s.policy(purpose).Lifetime
	}

	secret, err := GenerateTokenSecret()
	if err != nil {
		return "", oops.Code("TOKEN_ISSUE_FAILED").
			With("purpose", string(purpose)).
			Wrap(err)
	}

	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return "", oops.Code("TOKEN_ISSUE_FAILED").
			With("operation", "hash secret").
			With("purpose", string(purpose)).
			Wrap(err)
	}

	now := s.now()
	token := &VerificationToken{
		UserID:    user.ID,
		TokenHash: hash,
		Purpose:   purpose,
		CreatedAt: now,
		ExpiresAt: now.Add(lifetime),
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return "", oops.Code("TOKEN_ISSUE_FAILED").
			With("operation", "persist token").
			With("purpose", string(purpose)).
			With("user_id", user.ID).
			Wrap(err)
	}

	recordTokenIssued(purpose)
	return FormatPublicToken(token.ID, secret), nil
}

// IssuePasswordReset issues a password-reset token, enforcing the
// resend cooldown against the latest reset token for the user.
// Returns *RateLimitedError when blocked. minIntervalOverride of zero
// means the configured cooldown.
func (s *VerificationTokenService) IssuePasswordReset(ctx context.Context, user *User, minIntervalOverride time.Duration) (string, error) {
	minInterval := minIntervalOverride
	if minInterval <= 0 {
		minInterval = s.policy(PurposePasswordReset).ResendCooldown
	}

	latestIssuedAt, err := s.latestIssuedAt(ctx, user.ID, PurposePasswordReset)
	if err != nil {
		return "", err
	}

	if decision := CheckResend(latestIssuedAt, minInterval, s.now()); !decision.Allowed {
		return "", &RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	return s.Issue(ctx, user, PurposePasswordReset, 0)
}

// ResendCooldown returns the configured minimum interval for a purpose.
func (s *VerificationTokenService) ResendCooldown(purpose TokenPurpose) time.Duration {
	return s.policy(purpose).ResendCooldown
}

// CheckCooldown applies the resend cooldown for (user, purpose)
// without issuing anything. Returns *RateLimitedError when blocked.
func (s *VerificationTokenService) CheckCooldown(ctx context.Context, userID int64, purpose TokenPurpose) error {
	latestIssuedAt, err := s.latestIssuedAt(ctx, userID, purpose)
	if err != nil {
		return err
	}
	if decision := CheckResend(latestIssuedAt, s.policy(purpose).ResendCooldown, s.now()); !decision.Allowed {
		return &RateLimitedError{RetryAfter: decision.RetryAfter}
	}
	return nil
}

func (s *VerificationTokenService) latestIssuedAt(ctx context.Context, userID int64, purpose TokenPurpose) (*time.Time, error) {
	latest, err := s.tokens.LatestForUser(ctx, userID, purpose)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, oops.Code("TOKEN_COOLDOWN_CHECK_FAILED").
			With("user_id", userID).
			With("purpose", string(purpose)).
			Wrap(err)
	}
	return &latest.CreatedAt, nil
}

// Validate runs the token state machine against a public token without
// mutating anything. Safe to call repeatedly; a VALID token stays
// valid. Non-VALID outcomes return *InvalidTokenError carrying the
// terminal state.
//
// Evaluation order is fixed: parse, lookup by id+purpose, resolve
// user, verify secret, expiry, then the purpose-specific rules.
func (s *VerificationTokenService) Validate(ctx context.Context, public string, expected TokenPurpose) (*VerificationToken, *User, error) {
	token, user, err := s.validate(ctx, public, expected)
	if err != nil {
		var invalid *InvalidTokenError
		if errors.As(err, &invalid) {
			recordTokenValidation(expected, string(invalid.State))
		}
		return nil, nil, err
	}
	recordTokenValidation(expected, outcomeValid)
	return token, user, nil
}

func (s *VerificationTokenService) validate(ctx context.Context, public string, expected TokenPurpose) (*VerificationToken, *User, error) {
	id, secret, ok := SplitPublicToken(public)
	if !ok {
		return nil, nil, invalidToken(TokenStateInvalid)
	}

	token, err := s.tokens.GetByID(ctx, id, expected)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, invalidToken(TokenStateInvalid)
		}
		return nil, nil, oops.Code("TOKEN_VALIDATE_FAILED").
			With("operation", "get token").
			With("token_id", id).
			Wrap(err)
	}

	user, err := s.users.GetByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, invalidToken(TokenStateInvalid)
		}
		return nil, nil, oops.Code("TOKEN_VALIDATE_FAILED").
			With("operation", "get user").
			With("user_id", token.UserID).
			Wrap(err)
	}

	if !s.hasher.Verify(secret, token.TokenHash) {
		return nil, nil, invalidToken(TokenStateInvalid)
	}

	if token.IsExpiredAt(s.now()) {
		return nil, nil, invalidToken(TokenStateExpired)
	}

	switch expected {
	case PurposePasswordReset:
		// Only the most recently issued reset token is ever valid;
		// requesting a new one kills all earlier links immediately.
		latest, err := s.tokens.LatestForUser(ctx, user.ID, PurposePasswordReset)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, nil, oops.Code("TOKEN_VALIDATE_FAILED").
				With("operation", "get latest token").
				With("user_id", user.ID).
				Wrap(err)
		}
		if latest != nil && latest.ID != token.ID {
			return nil, nil, invalidToken(TokenStateSuperseded)
		}
		if token.Used {
			return nil, nil, invalidToken(TokenStateUsed)
		}
	case PurposeSignup:
		if token.Used {
			return nil, nil, invalidToken(TokenStateUsed)
		}
		if user.Active {
			return nil, nil, invalidToken(TokenStateAlreadyVerified)
		}
	}

	return token, user, nil
}

// Consume validates the token and marks it used. It must run inside a
// Transactor.InTransaction scope shared with the caller's dependent
// action (activating the user, changing the password): if that action
// fails and the transaction rolls back, the token is not marked used.
// Two consumers racing on the same token are settled by the storage
// layer; the loser gets the USED state.
func (s *VerificationTokenService) Consume(ctx context.Context, public string, purpose TokenPurpose) (*User, *VerificationToken, error) {
	token, user, err := s.Validate(ctx, public, purpose)
	if err != nil {
		return nil, nil, err
	}

	if err := s.tokens.MarkUsed(ctx, token.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Lost the race to a concurrent consumer.
			recordTokenValidation(purpose, string(TokenStateUsed))
			return nil, nil, invalidToken(TokenStateUsed)
		}
		return nil, nil, oops.Code("TOKEN_CONSUME_FAILED").
			With("token_id", token.ID).
			With("purpose", string(purpose)).
			Wrap(err)
	}
	token.Used = true

	return user, token, nil
}
