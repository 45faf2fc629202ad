package auth

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/risto-app/risto/internal/database"
	"github.com/risto-app/risto/internal/model"
	"github.com/risto-app/risto/internal/ratelimit"
	"github.com/risto-app/risto/internal/store"
)

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

type sentMail struct {
	To    string
	Token string
	Kind  model.TokenType
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *fakeMailer) SendVerificationEmail(_ context.Context, to, token string, kind model.TokenType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: to, Token: token, Kind: kind})
	return nil
}

func (m *fakeMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no mail sent")
	return m.sent[len(m.sent)-1]
}

type testEnv struct {
	svc    *Service
	db     *sql.DB
	mailer *fakeMailer
	clock  *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvAt(t, ":memory:")
}

// newFileTestEnv uses an on-disk database so transactions run on separate
// connections.
func newFileTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvAt(t, filepath.Join(t.TempDir(), "risto.db"))
}

func newTestEnvAt(t *testing.T, dbPath string) *testEnv {
	t.Helper()
	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := &fakeClock{t: time.Now().UTC().Truncate(time.Second)}
	mailer := &fakeMailer{}
	limiter := ratelimit.New(store.NewRateLimitStore(db), 3, time.Hour, ratelimit.WithClock(clock.Now))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := NewService(NewSQLBackend(db), NewBcryptHasher(bcrypt.MinCost, 2), limiter, mailer, logger,
		WithClock(clock.Now))
	return &testEnv{svc: svc, db: db, mailer: mailer, clock: clock}
}

func (e *testEnv) signUp(t *testing.T, email string) (*model.User, string) {
	t.Helper()
	u, err := e.svc.SignUp(context.Background(), email, "password1")
	require.NoError(t, err)
	return u, e.mailer.last(t).Token
}

func (e *testEnv) countRows(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, e.db.QueryRow(query, args...).Scan(&n))
	return n
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, HasCode(err, code), "want code %s, got %v", code, err)
}

func TestSessionRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u, _ := env.signUp(t, "a@x.com")
	sm := env.svc.Sessions()

	sess, err := sm.Create(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, sess.Token, 96)
	assert.Equal(t, env.clock.Now().Add(DefaultSessionTTL), sess.ExpiresAt)

	userID, ok, err := sm.Validate(ctx, sess.Token)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, u.ID, userID)

	// only the hash is persisted
	assert.Equal(t, 0, env.countRows(t, `SELECT COUNT(*) FROM sessions WHERE token_hash = ?`, sess.Token))
	assert.Equal(t, 1, env.countRows(t, `SELECT COUNT(*) FROM sessions WHERE token_hash = ?`, HashSessionToken(sess.Token)))

	_, ok, err = sm.Validate(ctx, "not-a-token")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u, _ := env.signUp(t, "a@x.com")
	sm := env.svc.Sessions()

	sess, err := sm.Create(ctx, u.ID)
	require.NoError(t, err)

	env.clock.Advance(DefaultSessionTTL - time.Second)
	_, ok, _ := sm.Validate(ctx, sess.Token)
	assert.True(t, ok, "session should still be valid just before expiry")

	env.clock.Advance(time.Second)
	_, ok, err = sm.Validate(ctx, sess.Token)
	require.NoError(t, err)
	assert.False(t, ok, "session expiring exactly now is invalid")

	_, err = sm.AuthenticatedUser(ctx, sess.Token)
	requireCode(t, err, CodeUnauthenticated)
}

func TestSessionDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u, _ := env.signUp(t, "a@x.com")
	sm := env.svc.Sessions()

	sess, _ := sm.Create(ctx, u.ID)
	require.NoError(t, env.svc.SignOut(ctx, sess.Token))

	_, ok, _ := sm.Validate(ctx, sess.Token)
	assert.False(t, ok)

	// unknown token is fine, missing token is not
	require.NoError(t, env.svc.SignOut(ctx, sess.Token))
	requireCode(t, env.svc.SignOut(ctx, ""), CodeNoSession)
}

func TestInvalidateOtherSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u, _ := env.signUp(t, "a@x.com")
	sm := env.svc.Sessions()

	s1, _ := sm.Create(ctx, u.ID)
	keep, _ := sm.Create(ctx, u.ID)
	s3, _ := sm.Create(ctx, u.ID)

	n, err := sm.InvalidateOthers(ctx, u.ID, HashSessionToken(keep.Token))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	assert.Equal(t, 1, env.countRows(t, `SELECT COUNT(*) FROM sessions WHERE user_id = ?`, u.ID))
	for _, raw := range []string{s1.Token, s3.Token} {
		_, ok, _ := sm.Validate(ctx, raw)
		assert.False(t, ok)
	}
	_, ok, _ := sm.Validate(ctx, keep.Token)
	assert.True(t, ok)
}

func TestSignUpIssuesVerificationToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u, err := env.svc.SignUp(ctx, "A@X.com ", "password1")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", u.Email)
	assert.False(t, u.Verified)

	tokens, err := store.NewVerificationTokenStore(env.db).ListByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, model.TokenEmailVerification, tokens[0].Type)
	assert.True(t, tokens[0].ExpiresAt.Equal(env.clock.Now().Add(24*time.Hour)))

	mail := env.mailer.last(t)
	assert.Equal(t, "a@x.com", mail.To)
	assert.Equal(t, tokens[0].Token, mail.Token)
	assert.Equal(t, model.TokenEmailVerification, mail.Kind)
}

func TestSignUpRejects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signUp(t, "a@x.com")

	_, err := env.svc.SignUp(ctx, "a@x.com", "password2")
	requireCode(t, err, CodeEmailExists)

	_, err = env.svc.SignUp(ctx, "b@x.com", "short")
	requireCode(t, err, CodeValidation)
	assert.Equal(t, "password", Field(err))
}

func TestSignIn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u, _ := env.signUp(t, "a@x.com")

	_, _, err := env.svc.SignIn(ctx, "nobody@x.com", "password1")
	requireCode(t, err, CodeUnknownEmail)
	assert.Equal(t, "email", Field(err))

	_, _, err = env.svc.SignIn(ctx, "a@x.com", "wrong-password")
	requireCode(t, err, CodeWrongPassword)
	assert.Equal(t, "password", Field(err))

	got, sess, err := env.svc.SignIn(ctx, "a@x.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	id, err := env.svc.CheckSession(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)
}

func TestVerifyEmailToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u, token := env.signUp(t, "a@x.com")

	res, err := env.svc.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, EmailVerified, res.Status)
	assert.Equal(t, u.ID, res.UserID)
	require.NotNil(t, res.Session)

	got, _ := store.NewUserStore(env.db).GetByID(ctx, u.ID)
	assert.True(t, got.Verified)
	assert.Equal(t, 0, env.countRows(t, `SELECT COUNT(*) FROM verification_tokens WHERE token = ?`, token))

	id, err := env.svc.CheckSession(ctx, res.Session.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)
}

func TestVerifyConsumesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, token := env.signUp(t, "a@x.com")

	_, err := env.svc.Verify(ctx, token)
	require.NoError(t, err)

	_, err = env.svc.Verify(ctx, token)
	requireCode(t, err, CodeTokenNotFound)
}

func TestVerifyConcurrentConsumers(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.signUp(t, "a@x.com")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.svc.Verify(context.Background(), token); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, env.countRows(t, `SELECT COUNT(*) FROM sessions`))
}

func TestVerifyConcurrentConsumersFileDB(t *testing.T) {
	env := newFileTestEnv(t)
	_, token := env.signUp(t, "a@x.com")

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.Verify(context.Background(), token)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.True(t, HasCode(err, CodeTokenNotFound), "want token not found, got %v", err)
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, env.countRows(t, `SELECT COUNT(*) FROM sessions`))
}

func TestConcurrentRegenerateFileDB(t *testing.T) {
	env := newFileTestEnv(t)
	ctx := context.Background()
	env.signUp(t, "a@x.com")

	errs := make([]error, 3)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = env.svc.RegenerateVerification(ctx, "a@x.com")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			assert.True(t, HasCode(err, CodeRateLimited), "want rate limited, got %v", err)
		}
	}
	assert.Equal(t, 1, env.countRows(t, `SELECT COUNT(*) FROM verification_tokens`))
}

func TestVerifyExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u, token := env.signUp(t, "a@x.com")

	_, err := env.db.Exec(`UPDATE verification_tokens SET expires_at = ? WHERE token = ?`,
		env.clock.Now().Add(-time.Minute), token)
	require.NoError(t, err)

	_, err = env.svc.Verify(ctx, token)
	requireCode(t, err, CodeTokenExpired)

	got, _ := store.NewUserStore(env.db).GetByID(ctx, u.ID)
	assert.False(t, got.Verified)
	assert.Equal(t, 0, env.countRows(t, `SELECT COUNT(*) FROM sessions`))

	// the expired token never validates again
	_, err = env.svc.Verify(ctx, token)
	requireCode(t, err, CodeTokenExpired)
}

func TestVerifyMissingToken(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Verify(context.Background(), "")
	requireCode(t, err, CodeTokenNotFound)

	_, err = env.svc.Verify(context.Background(), "00000000-0000-4000-8000-000000000000")
	requireCode(t, err, CodeTokenNotFound)
}

func TestVerifyResetToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u, _ := env.signUp(t, "a@x.com")

	require.NoError(t, env.svc.ForgotPassword(ctx, "a@x.com"))
	mail := env.mailer.last(t)
	assert.Equal(t, model.TokenPasswordReset, mail.Kind)

	res, err := env.svc.Verify(ctx, mail.Token)
	require.NoError(t, err)
	assert.Equal(t, ResetAuthorized, res.Status)
	assert.Equal(t, u.ID, res.UserID)
	assert.Nil(t, res.Session)

	got, _ := store.NewUserStore(env.db).GetByID(ctx, u.ID)
	assert.False(t, got.Verified, "reset token must not verify the email")
}

func TestRegenerateLeavesOneLiveToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u, first := env.signUp(t, "a@x.com")
	vm := env.svc.Tokens()

	second, err := vm.Regenerate(ctx, u.ID, model.TokenEmailVerification)
	require.NoError(t, err)
	third, err := vm.Regenerate(ctx, u.ID, model.TokenEmailVerification)
	require.NoError(t, err)
	assert.NotEqual(t, second, third)

	tokens, _ := store.NewVerificationTokenStore(env.db).ListByUser(ctx, u.ID)
	require.Len(t, tokens, 1)
	assert.Equal(t, third, tokens[0].Token)

	_, err = env.svc.Verify(ctx, first)
	requireCode(t, err, CodeTokenNotFound)
	_, err = env.svc.Verify(ctx, second)
	requireCode(t, err, CodeTokenNotFound)
}

func TestRegenerateClearsEveryType(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u, _ := env.signUp(t, "a@x.com")
	vm := env.svc.Tokens()

	_, err := vm.Issue(ctx, u.ID, model.TokenPasswordReset)
	require.NoError(t, err)
	_, err = vm.Regenerate(ctx, u.ID, model.TokenEmailVerification)
	require.NoError(t, err)

	tokens, _ := store.NewVerificationTokenStore(env.db).ListByUser(ctx, u.ID)
	require.Len(t, tokens, 1)
	assert.Equal(t, model.TokenEmailVerification, tokens[0].Type)
}

func TestRegenerateVerificationRateLimited(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signUp(t, "a@x.com")

	err := env.svc.RegenerateVerification(ctx, "nobody@x.com")
	requireCode(t, err, CodeUserNotFound)

	for i := 0; i < 3; i++ {
		require.NoError(t, env.svc.RegenerateVerification(ctx, "a@x.com"), "call %d", i+1)
	}
	err = env.svc.RegenerateVerification(ctx, "a@x.com")
	requireCode(t, err, CodeRateLimited)

	env.clock.Advance(time.Hour)
	require.NoError(t, env.svc.RegenerateVerification(ctx, "a@x.com"))
}

func TestForgotPasswordDoesNotRevealThrottle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signUp(t, "a@x.com")
	before := len(env.mailer.sent)

	require.NoError(t, env.svc.ForgotPassword(ctx, "nobody@x.com"))
	assert.Len(t, env.mailer.sent, before)

	for i := 0; i < 4; i++ {
		require.NoError(t, env.svc.ForgotPassword(ctx, "a@x.com"))
	}
	assert.Len(t, env.mailer.sent, before+3, "fourth request is throttled silently")
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u, _ := env.signUp(t, "a@x.com")

	_, other1, err := env.svc.SignIn(ctx, "a@x.com", "password1")
	require.NoError(t, err)
	_, current, err := env.svc.SignIn(ctx, "a@x.com", "password1")
	require.NoError(t, err)
	_, other2, err := env.svc.SignIn(ctx, "a@x.com", "password1")
	require.NoError(t, err)

	_, err = env.svc.ChangePassword(ctx, current.Token, "password1", "password2")
	require.NoError(t, err)

	sm := env.svc.Sessions()
	for _, s := range []IssuedSession{other1, other2} {
		_, ok, _ := sm.Validate(ctx, s.Token)
		assert.False(t, ok, "other sessions must be revoked")
	}
	_, ok, _ := sm.Validate(ctx, current.Token)
	assert.True(t, ok, "the requesting session survives")
	assert.Equal(t, 1, env.countRows(t, `SELECT COUNT(*) FROM sessions WHERE user_id = ?`, u.ID))

	_, _, err = env.svc.SignIn(ctx, "a@x.com", "password1")
	requireCode(t, err, CodeWrongPassword)
	_, _, err = env.svc.SignIn(ctx, "a@x.com", "password2")
	require.NoError(t, err)
}

func TestChangePasswordRejects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signUp(t, "a@x.com")
	_, sess, _ := env.svc.SignIn(ctx, "a@x.com", "password1")

	_, err := env.svc.ChangePassword(ctx, "bogus", "password1", "password2")
	requireCode(t, err, CodeUnauthenticated)

	_, err = env.svc.ChangePassword(ctx, sess.Token, "wrong-pass", "password2")
	requireCode(t, err, CodeWrongPassword)
	assert.Equal(t, "currentPassword", Field(err))

	_, err = env.svc.ChangePassword(ctx, sess.Token, "password1", "password1")
	requireCode(t, err, CodeSamePassword)
	assert.Equal(t, "newPassword", Field(err))
}

func TestResetPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u, _ := env.signUp(t, "a@x.com")
	_, s1, _ := env.svc.SignIn(ctx, "a@x.com", "password1")
	_, s2, _ := env.svc.SignIn(ctx, "a@x.com", "password1")

	require.NoError(t, env.svc.ResetPassword(ctx, u.ID, "", "new-password"))

	sm := env.svc.Sessions()
	for _, s := range []IssuedSession{s1, s2} {
		_, ok, _ := sm.Validate(ctx, s.Token)
		assert.False(t, ok)
	}
	_, _, err := env.svc.SignIn(ctx, "a@x.com", "new-password")
	require.NoError(t, err)

	requireCode(t, env.svc.ResetPassword(ctx, u.ID, "", "short"), CodeValidation)
	requireCode(t, env.svc.ResetPassword(ctx, 999, "", "new-password"), CodeUserNotFound)
}
