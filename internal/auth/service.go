// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PartForge Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/partforge/partforge/pkg/errutil"
)

// Mailer delivers verification links. Implementations live outside the
// core; it only ever hands over (recipient, link) pairs.
type Mailer interface {
	SendSignupVerification(ctx context.Context, to, link string) error
	SendPasswordReset(ctx context.Context, to, link string) error
}

// Links builds the user-facing URLs that embed public tokens.
type Links struct {
	// Base is the public origin of the deployment, no trailing slash.
	Base string
}

// SignupVerification returns the email-link URL for a signup token.
func (l Links) SignupVerification(publicToken string) string {
	return l.Base + "/api/auth/verify-email/" + publicToken
}

// PasswordReset returns the email-link URL for a reset token.
func (l Links) PasswordReset(publicToken string) string {
	return l.Base + "/reset-password.html?token=" + publicToken
}

// SessionCookie tells the HTTP collaborator what to do with the
// session cookie: set Value with MaxAge seconds, or clear it.
type SessionCookie struct {
	Value  string
	MaxAge int
	Clear  bool
}

// VerifySignupResult is the outcome of a successful signup
// verification.
type VerifySignupResult struct {
	User *User

	// Cookie is the instruction for the requester's session cookie.
	Cookie SessionCookie

	// RequiresLogin is true when the requester must authenticate
	// again: they had no session, someone else's session, or a
	// provisional signup session.
	RequiresLogin bool
}

// Service composes the token and session services into the account
// flows: registration, login, signup verification, resend, and
// password reset.
type Service struct {
	users     UserRepository
	tokens    *VerificationTokenService
	sessions  *SessionService
	passwords SecretHasher
	tx        Transactor
	mailer    Mailer
	links     Links
	cookieTTL time.Duration
	logger    *slog.Logger

	now func() time.Time
}

// NewService creates the composed auth service.
func NewService(
	users UserRepository,
	tokens *VerificationTokenService,
	sessions *SessionService,
	passwords SecretHasher,
	tx Transactor,
	mailer Mailer,
	links Links,
	cookieTTL time.Duration,
	logger *slog.Logger,
) (*Service, error) {
	if users == nil {
		return nil, oops.Errorf("user repository is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("token service is required")
	}
	if sessions == nil {
		return nil, oops.Errorf("session service is required")
	}
	if passwords == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if tx == nil {
		return nil, oops.Errorf("transactor is required")
	}
	if mailer == nil {
		return nil, oops.Errorf("mailer is required")
	}
	if cookieTTL <= 0 {
		return nil, oops.Errorf("cookie TTL must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:     users,
		tokens:    tokens,
		sessions:  sessions,
		passwords: passwords,
		tx:        tx,
		mailer:    mailer,
		links:     links,
		cookieTTL: cookieTTL,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// dummyPasswordHash is used when a user doesn't exist to prevent timing
// attacks. We still run password verification to make response time
// consistent. This is NOT a real credential.
//
//nolint:gosec // G101: intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// ErrInvalidCredentials is the generic login failure; it never reveals
// whether the email exists.
var ErrInvalidCredentials = oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid email or password")

// Register creates an inactive account, issues a signup verification
// token, mails the link, and opens a provisional signup session.
func (s *Service) Register(ctx context.Context, email, username, password string) (*User, *Session, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, nil, err
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user := &User{
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) || errors.Is(err, ErrUsernameTaken) {
			return nil, nil, err
		}
		return nil, nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	public, err := s.tokens.Issue(ctx, user, PurposeSignup, 0)
	if err != nil {
		return nil, nil, err
	}
	s.sendMail(ctx, PurposeSignup, user.Email, public)

	session, err := s.sessions.Create(ctx, user.ID, SessionKindSignup, s.cookieTTL)
	if err != nil {
		return nil, nil, err
	}

	return user, session, nil
}

// Login authenticates by email and password and creates a login
// session. Verification runs against a dummy hash when the email is
// unknown so response timing does not leak account existence.
func (s *Service) Login(ctx context.Context, email, password string) (*User, *Session, error) {
	user, lookupErr := s.users.GetByEmail(ctx, email)

	targetHash := dummyPasswordHash
	userExists := false
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get user by email").
				Wrap(lookupErr)
		}
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	valid := s.passwords.Verify(password, targetHash)
	if !userExists || !valid {
		return nil, nil, ErrInvalidCredentials
	}

	session, err := s.sessions.Create(ctx, user.ID, SessionKindLogin, s.cookieTTL)
	if err != nil {
		return nil, nil, err
	}

	return user, session, nil
}

// Logout revokes the session behind the raw cookie value. A missing or
// invalid cookie is a no-op; logout never errors at the requester.
func (s *Service) Logout(ctx context.Context, rawSessionID string) error {
	session, err := s.sessions.Validate(ctx, rawSessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}
	return s.sessions.Revoke(ctx, session)
}

// CurrentUser resolves the raw cookie value to its user. Anonymous
// requests yield (nil, nil, nil).
func (s *Service) CurrentUser(ctx context.Context, rawSessionID string) (*User, *Session, error) {
	session, err := s.sessions.Validate(ctx, rawSessionID)
	if err != nil || session == nil {
		return nil, nil, err
	}
	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, nil
		}
		return nil, nil, oops.Code("AUTH_CURRENT_USER_FAILED").
			With("session_id", session.ID.String()).
			Wrap(err)
	}
	return user, session, nil
}

// VerifySignup consumes a signup token, activates the account, and
// settles the requester's session, all in one transaction:
//
//   - no session, or a session of a different user: require login
//     (a foreign session is revoked, its cookie cleared)
//   - own signup-kind session: revoked, require login
//   - own login-kind session: rotated, requester stays logged in under
//     a fresh id with the original expiry
//
// Token failures return *InvalidTokenError; callers must surface only
// a generic "link invalid" outcome.
func (s *Service) VerifySignup(ctx context.Context, publicToken, rawSessionID string) (*VerifySignupResult, error) {
	result := &VerifySignupResult{}

	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		user, _, err := s.tokens.Consume(ctx, publicToken, PurposeSignup)
		if err != nil {
			return err
		}
		if err := s.users.Activate(ctx, user.ID); err != nil {
			return oops.Code("AUTH_ACTIVATE_FAILED").
				With("user_id", user.ID).
				Wrap(err)
		}
		user.Active = true
		result.User = user

		session, err := s.sessions.Validate(ctx, rawSessionID)
		if err != nil {
			return err
		}

		switch {
		case session == nil:
			result.RequiresLogin = true
			result.Cookie = SessionCookie{Clear: rawSessionID != ""}

		case session.UserID != user.ID:
			if err := s.sessions.Revoke(ctx, session); err != nil {
				return err
			}
			result.RequiresLogin = true
			result.Cookie = SessionCookie{Clear: true}

		case session.Kind == SessionKindSignup:
			// A provisional session must not survive activation.
			if err := s.sessions.Revoke(ctx, session); err != nil {
				return err
			}
			result.RequiresLogin = true
			result.Cookie = SessionCookie{Clear: true}

		default:
			rotated, err := s.sessions.Rotate(ctx, session)
			if err != nil {
				return err
			}
			result.Cookie = SessionCookie{
				Value:  rotated.ID.String(),
				MaxAge: rotated.RemainingSeconds(s.now()),
			}
		}
		return nil
	})
	if err != nil {
		var invalid *InvalidTokenError
		if errors.As(err, &invalid) {
			// State stays internal; requesters get a generic outcome.
			s.logger.Info("signup verification rejected", "state", string(invalid.State))
		}
		return nil, err
	}

	return result, nil
}

// ResendSignupVerification issues a fresh signup token for the email
// and mails it, gated by the resend cooldown. Unknown or already
// verified addresses return nil so the endpoint cannot be used to
// probe for accounts. Returns *RateLimitedError when inside the
// cooldown window.
func (s *Service) ResendSignupVerification(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("AUTH_RESEND_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	if user.Active {
		return nil
	}

	if err := s.tokens.CheckCooldown(ctx, user.ID, PurposeSignup); err != nil {
		return err
	}

	public, err := s.tokens.Issue(ctx, user, PurposeSignup, 0)
	if err != nil {
		return err
	}
	s.sendMail(ctx, PurposeSignup, user.Email, public)
	return nil
}

// RequestPasswordReset issues a reset token for the email and mails
// the link. Unknown addresses return nil, same as a real send.
// Returns *RateLimitedError when inside the cooldown window.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("AUTH_RESET_REQUEST_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	public, err := s.tokens.IssuePasswordReset(ctx, user, 0)
	if err != nil {
		return err
	}
	s.sendMail(ctx, PurposePasswordReset, user.Email, public)
	return nil
}

// ResetPassword consumes a reset token and sets the new password,
// revoking every session of the user. The reused-password check runs
// before anything commits, so a rejected attempt leaves the token
// valid for a later legitimate one.
func (s *Service) ResetPassword(ctx context.Context, publicToken, newPassword string) error {
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		user, _, err := s.tokens.Consume(ctx, publicToken, PurposePasswordReset)
		if err != nil {
			return err
		}

		if s.passwords.Verify(newPassword, user.PasswordHash) {
			// Rolls back the consume; the token stays unused.
			return ErrPasswordReused
		}

		hash, err := s.passwords.Hash(newPassword)
		if err != nil {
			return oops.Code("AUTH_RESET_FAILED").
				With("operation", "hash password").
				Wrap(err)
		}
		if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
			return oops.Code("AUTH_RESET_FAILED").
				With("operation", "update password").
				With("user_id", user.ID).
				Wrap(err)
		}

		// Reset doubles as account recovery for users who lost the
		// signup mail: force-activate even if already active.
		if err := s.users.Activate(ctx, user.ID); err != nil {
			return oops.Code("AUTH_RESET_FAILED").
				With("operation", "activate user").
				With("user_id", user.ID).
				Wrap(err)
		}

		return s.sessions.RevokeAllForUser(ctx, user.ID)
	})
	if err != nil {
		var invalid *InvalidTokenError
		if errors.As(err, &invalid) {
			s.logger.Info("password reset rejected", "state", string(invalid.State))
		}
		return err
	}
	return nil
}

// sendMail delivers the verification link for the purpose. Delivery is
// best effort here: the account flows stay usable through the resend
// endpoints when a mail is lost.
func (s *Service) sendMail(ctx context.Context, purpose TokenPurpose, to, publicToken string) {
	var err error
	switch purpose {
	case PurposeSignup:
		err = s.mailer.SendSignupVerification(ctx, to, s.links.SignupVerification(publicToken))
	case PurposePasswordReset:
		err = s.mailer.SendPasswordReset(ctx, to, s.links.PasswordReset(publicToken))
	}
	if err != nil {
		errutil.LogError(s.logger, "verification mail delivery failed", err)
	}
}
