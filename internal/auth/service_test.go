// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PartForge Contributors

package auth_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/partforge/partforge/internal/auth"
	"github.com/partforge/partforge/internal/auth/authtest"
	"github.com/partforge/partforge/pkg/errutil"
)

const flowBase = "https://forge.test"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// flowEnv is the full service stack on in-memory storage with a
// controllable clock.
type flowEnv struct {
	users    *authtest.MemUsers
	tokens   *authtest.MemTokens
	sessions *authtest.MemSessions
	mailer   *authtest.CaptureMailer
	clock    *fakeClock
	svc      *auth.Service
}

func newFlowEnv(t *testing.T) *flowEnv {
	t.Helper()

	clock := &fakeClock{t: testNow}
	env := &flowEnv{
		users:    authtest.NewMemUsers(),
		tokens:   authtest.NewMemTokens(),
		sessions: authtest.NewMemSessions(clock.Now),
		mailer:   &authtest.CaptureMailer{},
		clock:    clock,
	}

	hasher := auth.NewArgon2idHasher()
	tokenSvc, err := auth.NewVerificationTokenService(env.tokens, env.users, hasher, nil)
	require.NoError(t, err)
	tokenSvc.SetNow(clock.Now)

	sessionSvc, err := auth.NewSessionService(env.sessions)
	require.NoError(t, err)
	sessionSvc.SetNow(clock.Now)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := auth.NewService(
		env.users, tokenSvc, sessionSvc, hasher,
		authtest.NewMemTransactor(env.users, env.tokens, env.sessions), env.mailer,
		auth.Links{Base: flowBase}, 2*time.Hour, logger,
	)
	require.NoError(t, err)
	svc.SetNow(clock.Now)
	env.svc = svc
	return env
}

func (e *flowEnv) signupToken(t *testing.T) string {
	t.Helper()
	link := e.mailer.LastSignupLink()
	require.NotEmpty(t, link)
	token := strings.TrimPrefix(link, flowBase+"/api/auth/verify-email/")
	require.NotEqual(t, link, token)
	return token
}

func (e *flowEnv) resetToken(t *testing.T) string {
	t.Helper()
	link := e.mailer.LastResetLink()
	require.NotEmpty(t, link)
	token := strings.TrimPrefix(link, flowBase+"/reset-password.html?token=")
	require.NotEqual(t, link, token)
	return token
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("creates inactive user with provisional session and mail", func(t *testing.T) {
		env := newFlowEnv(t)

		user, session, err := env.svc.Register(ctx, "alice@example.com", "alice", "hunter2hunter2")
		require.NoError(t, err)

		assert.False(t, user.Active)
		assert.Equal(t, auth.SessionKindSignup, session.Kind)
		assert.Equal(t, testNow.Add(2*time.Hour), session.ExpiresAt)

		stored, err := env.users.GetByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.False(t, stored.Active)
		assert.NotEqual(t, "hunter2hunter2", stored.PasswordHash)

		token := env.signupToken(t)
		_, _, ok := auth.SplitPublicToken(token)
		assert.True(t, ok)
	})

	t.Run("rejects duplicate email", func(t *testing.T) {
		env := newFlowEnv(t)
		_, _, err := env.svc.Register(ctx, "alice@example.com", "alice", "hunter2hunter2")
		require.NoError(t, err)

		_, _, err = env.svc.Register(ctx, "alice@example.com", "alice2", "hunter2hunter2")
		assert.ErrorIs(t, err, auth.ErrEmailTaken)
	})

	t.Run("rejects duplicate username", func(t *testing.T) {
		env := newFlowEnv(t)
		_, _, err := env.svc.Register(ctx, "alice@example.com", "alice", "hunter2hunter2")
		require.NoError(t, err)

		_, _, err = env.svc.Register(ctx, "alice2@example.com", "alice", "hunter2hunter2")
		assert.ErrorIs(t, err, auth.ErrUsernameTaken)
	})

	t.Run("rejects invalid username before storage", func(t *testing.T) {
		env := newFlowEnv(t)
		_, _, err := env.svc.Register(ctx, "alice@example.com", "a", "hunter2hunter2")
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_USERNAME")
		_, err = env.users.GetByEmail(ctx, "alice@example.com")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("valid credentials open a login session", func(t *testing.T) {
		env := newFlowEnv(t)
		registered, _, err := env.svc.Register(ctx, "alice@example.com", "alice", "hunter2hunter2")
		require.NoError(t, err)

		user, session, err := env.svc.Login(ctx, "alice@example.com", "hunter2hunter2")
		require.NoError(t, err)
		assert.Equal(t, registered.ID, user.ID)
		assert.Equal(t, auth.SessionKindLogin, session.Kind)
	})

	t.Run("wrong password is rejected generically", func(t *testing.T) {
		env := newFlowEnv(t)
		_, _, err := env.svc.Register(ctx, "alice@example.com", "alice", "hunter2hunter2")
		require.NoError(t, err)

		_, _, err = env.svc.Login(ctx, "alice@example.com", "wrong")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("unknown email gets the same rejection", func(t *testing.T) {
		env := newFlowEnv(t)
		_, _, err := env.svc.Login(ctx, "nobody@example.com", "whatever")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})
}

func TestService_LogoutAndCurrentUser(t *testing.T) {
	ctx := context.Background()

	t.Run("logout revokes the session", func(t *testing.T) {
		env := newFlowEnv(t)
		_, _, err := env.svc.Register(ctx, "alice@example.com", "alice", "hunter2hunter2")
		require.NoError(t, err)
		_, session, err := env.svc.Login(ctx, "alice@example.com", "hunter2hunter2")
		require.NoError(t, err)

		require.NoError(t, env.svc.Logout(ctx, session.ID.String()))

		user, _, err := env.svc.CurrentUser(ctx, session.ID.String())
		require.NoError(t, err)
		assert.Nil(t, user)
	})

	t.Run("logout without a usable cookie is a no-op", func(t *testing.T) {
		env := newFlowEnv(t)
		assert.NoError(t, env.svc.Logout(ctx, ""))
		assert.NoError(t, env.svc.Logout(ctx, "garbage"))
	})

	t.Run("current user resolves an active session", func(t *testing.T) {
		env := newFlowEnv(t)
		registered, _, err := env.svc.Register(ctx, "alice@example.com", "alice", "hunter2hunter2")
		require.NoError(t, err)
		_, session, err := env.svc.Login(ctx, "alice@example.com", "hunter2hunter2")
		require.NoError(t, err)

		user, resolved, err := env.svc.CurrentUser(ctx, session.ID.String())
		require.NoError(t, err)
		assert.Equal(t, registered.ID, user.ID)
		assert.Equal(t, session.ID, resolved.ID)
	})

	t.Run("expired session is anonymous", func(t *testing.T) {
		env := newFlowEnv(t)
		_, _, err := env.svc.Register(ctx, "alice@example.com", "alice", "hunter2hunter2")
		require.NoError(t, err)
		_, session, err := env.svc.Login(ctx, "alice@example.com", "hunter2hunter2")
		require.NoError(t, err)

		env.clock.Advance(3 * time.Hour)

		user, _, err := env.svc.CurrentUser(ctx, session.ID.String())
		require.NoError(t, err)
		assert.Nil(t, user)
	})
}

func TestService_VerifySignup(t *testing.T) {
	ctx := context.Background()

	t.Run("without a session activation requires login", func(t *testing.T) {
		env := newFlowEnv(t)
		registered, _, err := env.svc.Register(ctx, "alice@example.com", "alice", "hunter2hunter2")
		require.NoError(t, err)

		result, err := env.svc.VerifySignup(ctx, env.signupToken(t), "")
		require.NoError(t, err)

		assert.True(t, result.RequiresLogin)
		assert.False(t, result.Cookie.Clear, "no cookie to clear")
		assert.True(t, result.User.Active)

		stored, err := env.users.GetByID(ctx, registered.ID)
		require.NoError(t, err)
		assert.True(t, stored.Active)
	})

	t.Run("stale cookie is cleared", func(t *testing.T) {
		env := newFlowEnv(t)
		_, _, err := env.svc.Register(ctx, "alice@example.com", "alice", "hunter2hunter2")
		require.NoError(t, err)

		result, err := env.svc.VerifySignup(ctx, env.signupToken(t), "not-a-session")
		require.NoError(t, err)
		assert.True(t, result.RequiresLogin)
		assert.True(t, result.Cookie.Clear)
	})

	t.Run("provisional signup session is revoked", func(t *testing.T) {
		env := newFlowEnv(t)
		_, signupSession, err := env.svc.Register(ctx, "alice@example.com", "alice", "hunter2hunter2")
		require.NoError(t, err)

		result, err := env.svc.VerifySignup(ctx, env.signupToken(t), signupSession.ID.String())
		require.NoError(t, err)
		assert.True(t, result.RequiresLogin)
		assert.True(t, result.Cookie.Clear)

		user, _, err := env.svc.CurrentUser(ctx, signupSession.ID.String())
		require.NoError(t, err)
		assert.Nil(t, user, "provisional session must not survive activation")
	})

	t.Run("login session is rotated with the original expiry", func(t *testing.T) {
		env := newFlowEnv(t)
		_, _, err := env.svc.Register(ctx, "alice@example.com", "alice", "hunter2hunter2")
		require.NoError(t, err)
		_, loginSession, err := env.svc.Login(ctx, "alice@example.com", "hunter2hunter2")
		require.NoError(t, err)

		env.clock.Advance(30 * time.Minute)

		result, err := env.svc.VerifySignup(ctx, env.signupToken(t), loginSession.ID.String())
		require.NoError(t, err)

		assert.False(t, result.RequiresLogin)
		assert.False(t, result.Cookie.Clear)
		assert.NotEqual(t, loginSession.ID.String(), result.Cookie.Value)
		assert.Equal(t, 90*60, result.Cookie.MaxAge, "remaining time of the original window")

		user, _, err := env.svc.CurrentUser(ctx, loginSession.ID.String())
		require.NoError(t, err)
		assert.Nil(t, user, "old id is revoked")

		user, _, err = env.svc.CurrentUser(ctx, result.Cookie.Value)
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.True(t, user.Active)
	})

	t.Run("someone elses session is revoked and cleared", func(t *testing.T) {
		env := newFlowEnv(t)
		_, _, err := env.svc.Register(ctx, "alice@example.com", "alice", "hunter2hunter2")
		require.NoError(t, err)
		aliceToken := env.signupToken(t)

		_, _, err = env.svc.Register(ctx, "bob@example.com", "bob", "hunter2hunter2")
		require.NoError(t, err)
		_, bobSession, err := env.svc.Login(ctx, "bob@example.com", "hunter2hunter2")
		require.NoError(t, err)

		result, err := env.svc.VerifySignup(ctx, aliceToken, bobSession.ID.String())
		require.NoError(t, err)
		assert.True(t, result.RequiresLogin)
		assert.True(t, result.Cookie.Clear)
		assert.Equal(t, "alice", result.User.Username)

		user, _, err := env.svc.CurrentUser(ctx, bobSession.ID.String())
		require.NoError(t, err)
		assert.Nil(t, user, "foreign session is revoked")
	})

	t.Run("second use of the link reports used", func(t *testing.T) {
		env := newFlowEnv(t)
		_, _, err := env.svc.Register(ctx, "alice@example.com", "alice", "hunter2hunter2")
		require.NoError(t, err)
		token := env.signupToken(t)

		_, err = env.svc.VerifySignup(ctx, token, "")
		require.NoError(t, err)

		_, err = env.svc.VerifySignup(ctx, token, "")
		assertTokenState(t, err, auth.TokenStateUsed)
	})

	t.Run("expired link reports expired", func(t *testing.T) {
		env := newFlowEnv(t)
		_, _, err := env.svc.Register(ctx, "alice@example.com", "alice", "hunter2hunter2")
		require.NoError(t, err)

		env.clock.Advance(auth.DefaultSignupTokenLifetime + time.Second)

		_, err = env.svc.VerifySignup(ctx, env.signupToken(t), "")
		assertTokenState(t, err, auth.TokenStateExpired)
	})

	t.Run("activation failure aborts before touching the session", func(t *testing.T) {
		users := new(mockUserRepository)
		tokens := new(mockTokenRepository)
		sessions := new(mockSessionRepository)
		hasher := new(mockHasher)

		tokenSvc, err := auth.NewVerificationTokenService(tokens, users, hasher, nil)
		require.NoError(t, err)
		tokenSvc.SetNow(func() time.Time { return testNow })
		sessionSvc, err := auth.NewSessionService(sessions)
		require.NoError(t, err)

		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		svc, err := auth.NewService(users, tokenSvc, sessionSvc, hasher,
			authtest.NewMemTransactor(nil, nil, nil), &authtest.CaptureMailer{}, auth.Links{Base: flowBase}, time.Hour, logger)
		require.NoError(t, err)

		token := &auth.VerificationToken{ID: 1, UserID: 7, TokenHash: "h", Purpose: auth.PurposeSignup, ExpiresAt: testNow.Add(time.Hour)}
		tokens.On("GetByID", ctx, int64(1), auth.PurposeSignup).Return(token, nil)
		users.On("GetByID", ctx, int64(7)).Return(&auth.User{ID: 7}, nil)
		hasher.On("Verify", "s", "h").Return(true)
		tokens.On("MarkUsed", ctx, int64(1)).Return(nil)
		users.On("Activate", ctx, int64(7)).Return(assert.AnError)

		_, err = svc.VerifySignup(ctx, "1.s", "")
		require.Error(t, err)
		sessions.AssertNotCalled(t, "GetActive", mock.Anything, mock.Anything)
	})
}

func TestService_ResendSignupVerification(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown email is silently accepted", func(t *testing.T) {
		env := newFlowEnv(t)
		require.NoError(t, env.svc.ResendSignupVerification(ctx, "nobody@example.com"))
		assert.Zero(t, env.mailer.SignupLinkCount())
	})

	t.Run("already verified account gets no mail", func(t *testing.T) {
		env := newFlowEnv(t)
		_, _, err := env.svc.Register(ctx, "alice@example.com", "alice", "hunter2hunter2")
		require.NoError(t, err)
		_, err = env.svc.VerifySignup(ctx, env.signupToken(t), "")
		require.NoError(t, err)

		sent := env.mailer.SignupLinkCount()
		require.NoError(t, env.svc.ResendSignupVerification(ctx, "alice@example.com"))
		assert.Equal(t, sent, env.mailer.SignupLinkCount())
	})

	t.Run("inside the cooldown reports remaining seconds", func(t *testing.T) {
		env := newFlowEnv(t)
		_, _, err := env.svc.Register(ctx, "alice@example.com", "alice", "hunter2hunter2")
		require.NoError(t, err)

		env.clock.Advance(30 * time.Second)

		err = env.svc.ResendSignupVerification(ctx, "alice@example.com")
		var limited *auth.RateLimitedError
		require.ErrorAs(t, err, &limited)
		assert.Equal(t, 30, limited.RetryAfter)
	})

	t.Run("after the cooldown a fresh token is mailed", func(t *testing.T) {
		env := newFlowEnv(t)
		_, _, err := env.svc.Register(ctx, "alice@example.com", "alice", "hunter2hunter2")
		require.NoError(t, err)
		first := env.signupToken(t)

		env.clock.Advance(61 * time.Second)

		require.NoError(t, env.svc.ResendSignupVerification(ctx, "alice@example.com"))
		second := env.signupToken(t)
		assert.NotEqual(t, first, second)

		// Both signup tokens stay usable; resend does not supersede.
		_, err = env.svc.VerifySignup(ctx, first, "")
		require.NoError(t, err)
	})
}

func TestService_RequestPasswordReset(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown email is silently accepted", func(t *testing.T) {
		env := newFlowEnv(t)
		require.NoError(t, env.svc.RequestPasswordReset(ctx, "nobody@example.com"))
		assert.Empty(t, env.mailer.LastResetLink())
	})

	t.Run("issues and mails a reset link", func(t *testing.T) {
		env := newFlowEnv(t)
		_, _, err := env.svc.Register(ctx, "alice@example.com", "alice", "hunter2hunter2")
		require.NoError(t, err)

		require.NoError(t, env.svc.RequestPasswordReset(ctx, "alice@example.com"))
		token := env.resetToken(t)
		_, _, ok := auth.SplitPublicToken(token)
		assert.True(t, ok)
	})

	t.Run("second request inside the cooldown is rate limited", func(t *testing.T) {
		env := newFlowEnv(t)
		_, _, err := env.svc.Register(ctx, "alice@example.com", "alice", "hunter2hunter2")
		require.NoError(t, err)
		require.NoError(t, env.svc.RequestPasswordReset(ctx, "alice@example.com"))

		env.clock.Advance(10 * time.Second)

		err = env.svc.RequestPasswordReset(ctx, "alice@example.com")
		var limited *auth.RateLimitedError
		require.ErrorAs(t, err, &limited)
		assert.Equal(t, 50, limited.RetryAfter)
	})

	t.Run("a newer request supersedes the older link", func(t *testing.T) {
		env := newFlowEnv(t)
		_, _, err := env.svc.Register(ctx, "alice@example.com", "alice", "hunter2hunter2")
		require.NoError(t, err)

		require.NoError(t, env.svc.RequestPasswordReset(ctx, "alice@example.com"))
		first := env.resetToken(t)

		env.clock.Advance(61 * time.Second)
		require.NoError(t, env.svc.RequestPasswordReset(ctx, "alice@example.com"))

		err = env.svc.ResetPassword(ctx, first, "newpassword123")
		assertTokenState(t, err, auth.TokenStateSuperseded)
	})
}

func TestService_ResetPassword(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*flowEnv, string) {
		t.Helper()
		env := newFlowEnv(t)
		_, _, err := env.svc.Register(ctx, "alice@example.com", "alice", "hunter2hunter2")
		require.NoError(t, err)
		require.NoError(t, env.svc.RequestPasswordReset(ctx, "alice@example.com"))
		return env, env.resetToken(t)
	}

	t.Run("changes the password and revokes every session", func(t *testing.T) {
		env, token := setup(t)
		user, _, err := env.svc.Login(ctx, "alice@example.com", "hunter2hunter2")
		require.NoError(t, err)
		_, _, err = env.svc.Login(ctx, "alice@example.com", "hunter2hunter2")
		require.NoError(t, err)

		require.NoError(t, env.svc.ResetPassword(ctx, token, "newpassword123"))

		assert.Zero(t, env.sessions.ActiveCountForUser(user.ID), "logout everywhere")

		_, _, err = env.svc.Login(ctx, "alice@example.com", "hunter2hunter2")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
		_, _, err = env.svc.Login(ctx, "alice@example.com", "newpassword123")
		assert.NoError(t, err)
	})

	t.Run("other users keep their sessions", func(t *testing.T) {
		env, token := setup(t)
		_, _, err := env.svc.Register(ctx, "bob@example.com", "bob", "hunter2hunter2")
		require.NoError(t, err)
		bob, bobSession, err := env.svc.Login(ctx, "bob@example.com", "hunter2hunter2")
		require.NoError(t, err)

		require.NoError(t, env.svc.ResetPassword(ctx, token, "newpassword123"))

		assert.Equal(t, 2, env.sessions.ActiveCountForUser(bob.ID), "signup and login sessions untouched")
		user, _, err := env.svc.CurrentUser(ctx, bobSession.ID.String())
		require.NoError(t, err)
		require.NotNil(t, user)
	})

	t.Run("doubles as account recovery", func(t *testing.T) {
		env, token := setup(t)

		require.NoError(t, env.svc.ResetPassword(ctx, token, "newpassword123"))

		user, err := env.users.GetByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.True(t, user.Active, "reset activates an unverified account")
	})

	t.Run("reusing the current password keeps the token valid", func(t *testing.T) {
		env, token := setup(t)

		err := env.svc.ResetPassword(ctx, token, "hunter2hunter2")
		assert.ErrorIs(t, err, auth.ErrPasswordReused)

		// The rejected attempt must not burn the link.
		require.NoError(t, env.svc.ResetPassword(ctx, token, "newpassword123"))
	})

	t.Run("second use of the link reports used", func(t *testing.T) {
		env, token := setup(t)

		require.NoError(t, env.svc.ResetPassword(ctx, token, "newpassword123"))

		err := env.svc.ResetPassword(ctx, token, "anotherpassword1")
		assertTokenState(t, err, auth.TokenStateUsed)
	})

	t.Run("expired link reports expired", func(t *testing.T) {
		env, token := setup(t)
		env.clock.Advance(auth.DefaultResetTokenLifetime + time.Second)

		err := env.svc.ResetPassword(ctx, token, "newpassword123")
		assertTokenState(t, err, auth.TokenStateExpired)
	})
}

func TestSignupFlow(t *testing.T) {
	ctx := context.Background()
	env := newFlowEnv(t)

	_, _, err := env.svc.Register(ctx, "alice@example.com", "alice", "hunter2hunter2")
	require.NoError(t, err)

	env.clock.Advance(30 * time.Second)
	err = env.svc.ResendSignupVerification(ctx, "alice@example.com")
	var limited *auth.RateLimitedError
	require.ErrorAs(t, err, &limited)
	require.Equal(t, 30, limited.RetryAfter)

	env.clock.Advance(31 * time.Second)
	require.NoError(t, env.svc.ResendSignupVerification(ctx, "alice@example.com"))
	require.Equal(t, 2, env.mailer.SignupLinkCount())

	result, err := env.svc.VerifySignup(ctx, env.signupToken(t), "")
	require.NoError(t, err)
	require.True(t, result.RequiresLogin)

	user, session, err := env.svc.Login(ctx, "alice@example.com", "hunter2hunter2")
	require.NoError(t, err)
	assert.True(t, user.Active)

	resolved, _, err := env.svc.CurrentUser(ctx, session.ID.String())
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, "alice", resolved.Username)
}
