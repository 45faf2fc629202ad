package auth

import (
	"context"
	"time"

	"github.com/samber/oops"

	"github.com/risto-app/risto/internal/model"
)

const DefaultSessionTTL = 7 * 24 * time.Hour

// IssuedSession is what a caller needs to set the session cookie.
type IssuedSession struct {
	Token     string
	ExpiresAt time.Time
}

// SessionManager issues, validates, and revokes cookie sessions. Only the
// SHA-256 of a token reaches the database.
type SessionManager struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time
}

func NewSessionManager(backend Backend, ttl time.Duration, now func() time.Time) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if now == nil {
		now = time.Now
	}
	return &SessionManager{backend: backend, ttl: ttl, now: now}
}

// Create starts a session for userID and returns the raw token.
func (m *SessionManager) Create(ctx context.Context, userID int64) (IssuedSession, error) {
	return m.create(ctx, m.backend.Repos().Sessions, userID)
}

func (m *SessionManager) create(ctx context.Context, sessions SessionRepository, userID int64) (IssuedSession, error) {
	raw, err := GenerateSessionToken()
	if err != nil {
		return IssuedSession{}, internal("create session", err)
	}
	expiresAt := m.now().Add(m.ttl).UTC()
	if _, err := sessions.Create(ctx, userID, HashSessionToken(raw), expiresAt); err != nil {
		return IssuedSession{}, internal("create session", err)
	}
	return IssuedSession{Token: raw, ExpiresAt: expiresAt}, nil
}

// Validate reports whether raw names a live session. Missing and expired
// sessions are indistinguishable to the caller.
func (m *SessionManager) Validate(ctx context.Context, raw string) (int64, bool, error) {
	if raw == "" {
		return 0, false, nil
	}
	sess, err := m.backend.Repos().Sessions.GetByTokenHash(ctx, HashSessionToken(raw))
	if err != nil {
		return 0, false, internal("validate session", err)
	}
	if sess == nil || !sess.ExpiresAt.After(m.now()) {
		return 0, false, nil
	}
	return sess.UserID, true, nil
}

// AuthenticatedUser resolves raw to its user. Every failure short of a
// store error is reported as CodeUnauthenticated.
func (m *SessionManager) AuthenticatedUser(ctx context.Context, raw string) (*model.User, error) {
	userID, ok, err := m.Validate(ctx, raw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, oops.Code(CodeUnauthenticated).Errorf("not authenticated")
	}
	u, err := m.backend.Repos().Users.GetByID(ctx, userID)
	if err != nil {
		return nil, internal("load session user", err)
	}
	if u == nil {
		return nil, oops.Code(CodeUnauthenticated).Errorf("not authenticated")
	}
	return u, nil
}

// InvalidateOthers deletes every session of userID except keepHash.
func (m *SessionManager) InvalidateOthers(ctx context.Context, userID int64, keepHash string) (int64, error) {
	n, err := m.backend.Repos().Sessions.DeleteByUserExcept(ctx, userID, keepHash)
	if err != nil {
		return 0, internal("invalidate sessions", err)
	}
	return n, nil
}

// Delete signs out the session named by raw. An unknown token is not an
// error, but an empty one is CodeNoSession.
func (m *SessionManager) Delete(ctx context.Context, raw string) error {
	if raw == "" {
		return oops.Code(CodeNoSession).Errorf("No session found")
	}
	if err := m.backend.Repos().Sessions.DeleteByTokenHash(ctx, HashSessionToken(raw)); err != nil {
		return internal("delete session", err)
	}
	return nil
}
