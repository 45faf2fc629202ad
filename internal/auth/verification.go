package auth

import (
	"context"
	"time"

	"github.com/samber/oops"

	"github.com/risto-app/risto/internal/model"
)

const DefaultTokenTTL = 24 * time.Hour

type ConsumeStatus int

const (
	// ResetAuthorized means a PASSWORD_RESET token was burned and the
	// owner may now set a new password.
	ResetAuthorized ConsumeStatus = iota + 1
	// EmailVerified means the owner was marked verified and signed in.
	EmailVerified
)

func (s ConsumeStatus) String() string {
	switch s {
	case ResetAuthorized:
		return "reset_authorized"
	case EmailVerified:
		return "email_verified"
	}
	return "unknown"
}

type ConsumeResult struct {
	Status ConsumeStatus
	UserID int64
	// Session is set only for EmailVerified.
	Session *IssuedSession
}

// VerificationManager owns the single-use email verification and password
// reset tokens.
type VerificationManager struct {
	backend  Backend
	sessions *SessionManager
	ttl      time.Duration
	now      func() time.Time
}

func NewVerificationManager(backend Backend, sessions *SessionManager, ttl time.Duration, now func() time.Time) *VerificationManager {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if now == nil {
		now = time.Now
	}
	return &VerificationManager{backend: backend, sessions: sessions, ttl: ttl, now: now}
}

// Issue creates a new token without touching the user's existing ones.
func (m *VerificationManager) Issue(ctx context.Context, userID int64, typ model.TokenType) (string, error) {
	return m.issue(ctx, m.backend.Repos().Tokens, userID, typ)
}

func (m *VerificationManager) issue(ctx context.Context, tokens TokenRepository, userID int64, typ model.TokenType) (string, error) {
	if !typ.Valid() {
		return "", oops.Code(CodeInternal).With("type", string(typ)).Errorf("unknown token type")
	}
	token := NewVerificationToken()
	if _, err := tokens.Create(ctx, token, userID, typ, m.now().Add(m.ttl)); err != nil {
		return "", internal("issue token", err)
	}
	return token, nil
}

// Regenerate deletes every outstanding token of the user, of any type, and
// issues a fresh one of typ in the same transaction.
func (m *VerificationManager) Regenerate(ctx context.Context, userID int64, typ model.TokenType) (string, error) {
	var token string
	err := m.backend.InTx(ctx, func(r Repos) error {
		if _, err := r.Tokens.DeleteByUser(ctx, userID); err != nil {
			return internal("clear tokens", err)
		}
		var err error
		token, err = m.issue(ctx, r.Tokens, userID, typ)
		return err
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// Consume burns token. A token succeeds at most once: the delete inside the
// transaction must remove exactly one row or the call fails as not found.
// For EMAIL_VERIFICATION the user update, the token delete, and the new
// session commit together.
func (m *VerificationManager) Consume(ctx context.Context, token string) (ConsumeResult, error) {
	if token == "" {
		return ConsumeResult{}, oops.Code(CodeTokenNotFound).Errorf("token not found")
	}

	var res ConsumeResult
	err := m.backend.InTx(ctx, func(r Repos) error {
		vt, err := r.Tokens.Get(ctx, token)
		if err != nil {
			return internal("load token", err)
		}
		if vt == nil || !vt.Type.Valid() {
			return oops.Code(CodeTokenNotFound).Errorf("token not found")
		}
		if vt.ExpiresAt.Before(m.now()) {
			return oops.Code(CodeTokenExpired).With("user_id", vt.UserID).Errorf("token expired")
		}

		deleted, err := r.Tokens.Delete(ctx, token)
		if err != nil {
			return internal("delete token", err)
		}
		if !deleted {
			return oops.Code(CodeTokenNotFound).Errorf("token already consumed")
		}

		res.UserID = vt.UserID
		switch vt.Type {
		case model.TokenPasswordReset:
			res.Status = ResetAuthorized
			return nil
		case model.TokenEmailVerification:
			if err := r.Users.MarkVerified(ctx, vt.UserID); err != nil {
				return internal("mark verified", err)
			}
			sess, err := m.sessions.create(ctx, r.Sessions, vt.UserID)
			if err != nil {
				return err
			}
			res.Status = EmailVerified
			res.Session = &sess
			return nil
		}
		return oops.Code(CodeTokenNotFound).Errorf("token not found")
	})
	if err != nil {
		return ConsumeResult{}, err
	}
	return res, nil
}
