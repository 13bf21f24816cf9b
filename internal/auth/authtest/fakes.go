// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PartForge Contributors

// Package authtest provides in-memory repository implementations with
// the same contracts as the postgres ones, for whole-flow tests.
package authtest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/partforge/partforge/internal/auth"
)

// MemUsers is an in-memory UserRepository.
type MemUsers struct {
	mu   sync.Mutex
	seq  int64
	byID map[int64]*auth.User
}

// NewMemUsers creates an empty user store.
func NewMemUsers() *MemUsers {
	return &MemUsers{byID: make(map[int64]*auth.User)}
}

var _ auth.UserRepository = (*MemUsers)(nil)

func (m *MemUsers) Create(_ context.Context, user *auth.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Email == user.Email {
			return oops.Code("USER_EMAIL_TAKEN").Wrap(auth.ErrEmailTaken)
		}
		if existing.Username == user.Username {
			return oops.Code("USER_USERNAME_TAKEN").Wrap(auth.ErrUsernameTaken)
		}
	}
	m.seq++
	user.ID = m.seq
	stored := *user
	m.byID[user.ID] = &stored
	return nil
}

func (m *MemUsers) GetByID(_ context.Context, id int64) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (m *MemUsers) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.byID {
		if user.Email == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (m *MemUsers) GetByUsername(_ context.Context, username string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.byID {
		if user.Username == username {
			clone := *user
			return &clone, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (m *MemUsers) Activate(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	user.Active = true
	return nil
}

func (m *MemUsers) UpdatePassword(_ context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	user.PasswordHash = hash
	return nil
}

// MemTokens is an in-memory TokenRepository.
type MemTokens struct {
	mu   sync.Mutex
	seq  int64
	byID map[int64]*auth.VerificationToken
}

// NewMemTokens creates an empty token store.
func NewMemTokens() *MemTokens {
	return &MemTokens{byID: make(map[int64]*auth.VerificationToken)}
}

var _ auth.TokenRepository = (*MemTokens)(nil)

func (m *MemTokens) Create(_ context.Context, token *auth.VerificationToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	token.ID = m.seq
	stored := *token
	m.byID[token.ID] = &stored
	return nil
}

func (m *MemTokens) GetByID(_ context.Context, id int64, purpose auth.TokenPurpose) (*auth.VerificationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.byID[id]
	if !ok || token.Purpose != purpose {
		return nil, auth.ErrNotFound
	}
	clone := *token
	return &clone, nil
}

func (m *MemTokens) LatestForUser(_ context.Context, userID int64, purpose auth.TokenPurpose) (*auth.VerificationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *auth.VerificationToken
	for _, token := range m.byID {
		if token.UserID != userID || token.Purpose != purpose {
			continue
		}
		if latest == nil || token.CreatedAt.After(latest.CreatedAt) ||
			(token.CreatedAt.Equal(latest.CreatedAt) && token.ID > latest.ID) {
			latest = token
		}
	}
	if latest == nil {
		return nil, auth.ErrNotFound
	}
	clone := *latest
	return &clone, nil
}

func (m *MemTokens) MarkUsed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.byID[id]
	if !ok || token.Used {
		return auth.ErrNotFound
	}
	token.Used = true
	return nil
}

// MemSessions is an in-memory SessionRepository. Activity checks use
// the injected clock so tests can advance time.
type MemSessions struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*auth.Session

	now func() time.Time
}

// NewMemSessions creates an empty session store using now as clock.
func NewMemSessions(now func() time.Time) *MemSessions {
	if now == nil {
		now = time.Now
	}
	return &MemSessions{byID: make(map[uuid.UUID]*auth.Session), now: now}
}

var _ auth.SessionRepository = (*MemSessions)(nil)

func (m *MemSessions) Create(_ context.Context, session *auth.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *session
	m.byID[session.ID] = &stored
	return nil
}

func (m *MemSessions) GetActive(_ context.Context, id uuid.UUID) (*auth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.byID[id]
	if !ok || session.Revoked || !session.ExpiresAt.After(m.now()) {
		return nil, auth.ErrNotFound
	}
	clone := *session
	return &clone, nil
}

func (m *MemSessions) Revoke(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.byID[id]; ok {
		session.Revoked = true
	}
	return nil
}

func (m *MemSessions) RevokeAllForUser(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, session := range m.byID {
		if session.UserID == userID {
			session.Revoked = true
		}
	}
	return nil
}

// ActiveCountForUser counts the user's unrevoked sessions.
func (m *MemSessions) ActiveCountForUser(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, session := range m.byID {
		if session.UserID == userID && !session.Revoked {
			count++
		}
	}
	return count
}

// CaptureMailer records delivered links instead of sending anything.
type CaptureMailer struct {
	mu          sync.Mutex
	signupLinks []string
	resetLinks  []string
}

var _ auth.Mailer = (*CaptureMailer)(nil)

func (m *CaptureMailer) SendSignupVerification(_ context.Context, _, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signupLinks = append(m.signupLinks, link)
	return nil
}

func (m *CaptureMailer) SendPasswordReset(_ context.Context, _, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLinks = append(m.resetLinks, link)
	return nil
}

// SignupLinkCount reports how many signup mails were captured.
func (m *CaptureMailer) SignupLinkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.signupLinks)
}

// LastSignupLink returns the newest signup link, empty when none.
func (m *CaptureMailer) LastSignupLink() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.signupLinks) == 0 {
		return ""
	}
	return m.signupLinks[len(m.signupLinks)-1]
}

// LastResetLink returns the newest reset link, empty when none.
func (m *CaptureMailer) LastResetLink() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.resetLinks) == 0 {
		return ""
	}
	return m.resetLinks[len(m.resetLinks)-1]
}

// MemTransactor gives the in-memory stores the same atomicity contract
// as the real transactor: writes made by the callback are rolled back
// when it returns an error. Nil stores are skipped.
type MemTransactor struct {
	users    *MemUsers
	tokens   *MemTokens
	sessions *MemSessions
}

// NewMemTransactor creates a transactor rolling back the given stores.
func NewMemTransactor(users *MemUsers, tokens *MemTokens, sessions *MemSessions) *MemTransactor {
	return &MemTransactor{users: users, tokens: tokens, sessions: sessions}
}

var _ auth.Transactor = (*MemTransactor)(nil)

func (t *MemTransactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	usersSeq, users := t.users.snapshot()
	tokensSeq, tokens := t.tokens.snapshot()
	sessions := t.sessions.snapshot()
	if err := fn(ctx); err != nil {
		t.users.restore(usersSeq, users)
		t.tokens.restore(tokensSeq, tokens)
		t.sessions.restore(sessions)
		return err
	}
	return nil
}

func (m *MemUsers) snapshot() (int64, map[int64]auth.User) {
	if m == nil {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make(map[int64]auth.User, len(m.byID))
	for id, user := range m.byID {
		users[id] = *user
	}
	return m.seq, users
}

func (m *MemUsers) restore(seq int64, users map[int64]auth.User) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq = seq
	m.byID = make(map[int64]*auth.User, len(users))
	for id, user := range users {
		stored := user
		m.byID[id] = &stored
	}
}

func (m *MemTokens) snapshot() (int64, map[int64]auth.VerificationToken) {
	if m == nil {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tokens := make(map[int64]auth.VerificationToken, len(m.byID))
	for id, token := range m.byID {
		tokens[id] = *token
	}
	return m.seq, tokens
}

func (m *MemTokens) restore(seq int64, tokens map[int64]auth.VerificationToken) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq = seq
	m.byID = make(map[int64]*auth.VerificationToken, len(tokens))
	for id, token := range tokens {
		stored := token
		m.byID[id] = &stored
	}
}

func (m *MemSessions) snapshot() map[uuid.UUID]auth.Session {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sessions := make(map[uuid.UUID]auth.Session, len(m.byID))
	for id, session := range m.byID {
		sessions[id] = *session
	}
	return sessions
}

func (m *MemSessions) restore(sessions map[uuid.UUID]auth.Session) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID = make(map[uuid.UUID]*auth.Session, len(sessions))
	for id, session := range sessions {
		stored := session
		m.byID[id] = &stored
	}
}
