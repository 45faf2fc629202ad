package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/risto-app/risto/internal/model"
	"github.com/risto-app/risto/internal/ratelimit"
	"github.com/risto-app/risto/internal/store"
)

const minPasswordLen = 8

// Mailer delivers verification and password reset links.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, to, token string, kind model.TokenType) error
}

// RateLimiter throttles per-principal actions.
type RateLimiter interface {
	CheckAndUpdate(ctx context.Context, principal string) (ratelimit.Decision, error)
}

// Service implements the account endpoints on top of the session and
// verification token managers.
type Service struct {
	backend  Backend
	hasher   PasswordHasher
	limiter  RateLimiter
	mailer   Mailer
	logger   *slog.Logger
	sessions *SessionManager
	tokens   *VerificationManager

	now        func() time.Time
	sessionTTL time.Duration
	tokenTTL   time.Duration
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithSessionTTL(d time.Duration) Option {
	return func(s *Service) { s.sessionTTL = d }
}

func WithTokenTTL(d time.Duration) Option {
	return func(s *Service) { s.tokenTTL = d }
}

func NewService(backend Backend, hasher PasswordHasher, limiter RateLimiter, mailer Mailer, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		backend:    backend,
		hasher:     hasher,
		limiter:    limiter,
		mailer:     mailer,
		logger:     logger.With("component", "auth"),
		now:        time.Now,
		sessionTTL: DefaultSessionTTL,
		tokenTTL:   DefaultTokenTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sessions = NewSessionManager(backend, s.sessionTTL, s.now)
	s.tokens = NewVerificationManager(backend, s.sessions, s.tokenTTL, s.now)
	return s
}

func (s *Service) Sessions() *SessionManager { return s.sessions }

func (s *Service) Tokens() *VerificationManager { return s.tokens }

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp creates an unverified user and its first EMAIL_VERIFICATION token
// in one transaction, then mails the link. A failed send is logged only;
// the user can ask for a new link.
func (s *Service) SignUp(ctx context.Context, email, password string) (*model.User, error) {
	email = normalizeEmail(email)
	if len(password) < minPasswordLen {
		return nil, fieldError(CodeValidation, "password", "Password must be at least 8 characters long.")
	}

	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		return nil, internal("hash password", err)
	}

	var (
		user  *model.User
		token string
	)
	err = s.backend.InTx(ctx, func(r Repos) error {
		existing, err := r.Users.GetByEmail(ctx, email)
		if err != nil {
			return internal("lookup user", err)
		}
		if existing != nil {
			return oops.Code(CodeEmailExists).Errorf("A user with this email already exists.")
		}

		user, err = r.Users.Create(ctx, email, hash)
		if errors.Is(err, store.ErrDuplicateEmail) {
			return oops.Code(CodeEmailExists).Errorf("A user with this email already exists.")
		}
		if err != nil {
			return internal("create user", err)
		}

		token, err = s.tokens.issue(ctx, r.Tokens, user.ID, model.TokenEmailVerification)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.send(ctx, user, token, model.TokenEmailVerification)
	s.logger.Info("user signed up", "user_id", user.ID)
	return user, nil
}

// SignIn checks credentials and opens a session. Unknown email and wrong
// password are reported separately.
func (s *Service) SignIn(ctx context.Context, email, password string) (*model.User, IssuedSession, error) {
	user, err := s.backend.Repos().Users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, IssuedSession{}, internal("lookup user", err)
	}
	if user == nil {
		return nil, IssuedSession{}, fieldError(CodeUnknownEmail, "email", "Incorrect email.")
	}

	ok, err := s.hasher.Compare(ctx, user.PasswordHash, password)
	if err != nil {
		return nil, IssuedSession{}, internal("compare password", err)
	}
	if !ok {
		return nil, IssuedSession{}, fieldError(CodeWrongPassword, "password", "Incorrect password.")
	}

	sess, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		return nil, IssuedSession{}, err
	}
	return user, sess, nil
}

// Verify consumes a token from an emailed link.
func (s *Service) Verify(ctx context.Context, token string) (ConsumeResult, error) {
	res, err := s.tokens.Consume(ctx, token)
	if err != nil {
		return ConsumeResult{}, err
	}
	s.logger.Info("token consumed", "user_id", res.UserID, "status", res.Status.String())
	return res, nil
}

// RegenerateVerification replaces the user's tokens with a fresh
// EMAIL_VERIFICATION token and mails it, subject to the rate limiter.
func (s *Service) RegenerateVerification(ctx context.Context, email string) error {
	user, err := s.backend.Repos().Users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return internal("lookup user", err)
	}
	if user == nil {
		return oops.Code(CodeUserNotFound).Errorf("No user found with this email address. Please check and try again.")
	}

	d, err := s.limiter.CheckAndUpdate(ctx, ratelimit.UserPrincipal(user.ID))
	if err != nil {
		return internal("rate limit", err)
	}
	if !d.Allowed {
		return oops.Code(CodeRateLimited).
			With("retry_after", d.RetryAfter).
			With("user_id", user.ID).
			Errorf("Too many requests. Please try again later.")
	}

	token, err := s.tokens.Regenerate(ctx, user.ID, model.TokenEmailVerification)
	if err != nil {
		return err
	}
	s.send(ctx, user, token, model.TokenEmailVerification)
	return nil
}

// ForgotPassword issues a PASSWORD_RESET token when the email belongs to a
// user whose rate limit allows it. It never reports whether the email exists
// or whether the request was throttled.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.backend.Repos().Users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return internal("lookup user", err)
	}
	if user == nil {
		return nil
	}

	d, err := s.limiter.CheckAndUpdate(ctx, ratelimit.UserPrincipal(user.ID))
	if err != nil {
		return internal("rate limit", err)
	}
	if !d.Allowed {
		s.logger.Warn("password reset throttled", "user_id", user.ID, "retry_after", d.RetryAfter)
		return nil
	}

	token, err := s.tokens.Issue(ctx, user.ID, model.TokenPasswordReset)
	if err != nil {
		return err
	}
	s.send(ctx, user, token, model.TokenPasswordReset)
	return nil
}

// ChangePassword replaces the password of the user behind rawSession after
// checking the current one. Every other session of the user is revoked in
// the same transaction as the password update.
func (s *Service) ChangePassword(ctx context.Context, rawSession, current, next string) (*model.User, error) {
	user, err := s.sessions.AuthenticatedUser(ctx, rawSession)
	if err != nil {
		return nil, err
	}

	ok, err := s.hasher.Compare(ctx, user.PasswordHash, current)
	if err != nil {
		return nil, internal("compare password", err)
	}
	if !ok {
		return nil, fieldError(CodeWrongPassword, "currentPassword", "Current password is incorrect")
	}
	if current == next {
		return nil, fieldError(CodeSamePassword, "newPassword", "New password cannot be the same as the current password")
	}
	if len(next) < minPasswordLen {
		return nil, fieldError(CodeValidation, "newPassword", "New password must be at least 8 characters.")
	}

	if err := s.replacePassword(ctx, user.ID, next, HashSessionToken(rawSession)); err != nil {
		return nil, err
	}
	return user, nil
}

// ResetPassword sets a new password for userID. The caller vouches for
// userID through a previously consumed PASSWORD_RESET token.
func (s *Service) ResetPassword(ctx context.Context, userID int64, rawSession, next string) error {
	if len(next) < minPasswordLen {
		return fieldError(CodeValidation, "newPassword", "New password must be at least 8 characters.")
	}
	user, err := s.backend.Repos().Users.GetByID(ctx, userID)
	if err != nil {
		return internal("lookup user", err)
	}
	if user == nil {
		return oops.Code(CodeUserNotFound).With("user_id", userID).Errorf("User not found.")
	}

	var keep string
	if rawSession != "" {
		keep = HashSessionToken(rawSession)
	}
	return s.replacePassword(ctx, user.ID, next, keep)
}

func (s *Service) replacePassword(ctx context.Context, userID int64, password, keepHash string) error {
	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		return internal("hash password", err)
	}

	var revoked int64
	err = s.backend.InTx(ctx, func(r Repos) error {
		if err := r.Users.UpdatePassword(ctx, userID, hash); err != nil {
			return internal("update password", err)
		}
		n, err := r.Sessions.DeleteByUserExcept(ctx, userID, keepHash)
		if err != nil {
			return internal("invalidate sessions", err)
		}
		revoked = n
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("password replaced", "user_id", userID, "sessions_revoked", revoked)
	return nil
}

// CheckSession returns the user id behind rawSession.
func (s *Service) CheckSession(ctx context.Context, rawSession string) (int64, error) {
	user, err := s.sessions.AuthenticatedUser(ctx, rawSession)
	if err != nil {
		return 0, err
	}
	return user.ID, nil
}

// SignOut deletes the session behind rawSession.
func (s *Service) SignOut(ctx context.Context, rawSession string) error {
	return s.sessions.Delete(ctx, rawSession)
}

func (s *Service) send(ctx context.Context, user *model.User, token string, kind model.TokenType) {
	if s.mailer == nil {
		return
	}
	if err := s.mailer.SendVerificationEmail(ctx, user.Email, token, kind); err != nil {
		s.logger.Error("send verification email", "error", err, "user_id", user.ID, "kind", string(kind))
	}
}
