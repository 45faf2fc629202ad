package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/risto-app/risto/internal/auth"
	"github.com/risto-app/risto/internal/database"
	"github.com/risto-app/risto/internal/middleware"
	"github.com/risto-app/risto/internal/model"
	"github.com/risto-app/risto/internal/ratelimit"
	"github.com/risto-app/risto/internal/store"
	"github.com/risto-app/risto/internal/websocket"
)

const testCookie = "session_token"

type sentMail struct {
	To    string
	Token string
	Kind  model.TokenType
}

type captureMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *captureMailer) SendVerificationEmail(_ context.Context, to, token string, kind model.TokenType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: to, Token: token, Kind: kind})
	return nil
}

func (m *captureMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no mail sent")
	return m.sent[len(m.sent)-1]
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs map[int64][]websocket.Message
}

func (n *recordingNotifier) SendToUser(userID int64, msg websocket.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.msgs == nil {
		n.msgs = make(map[int64][]websocket.Message)
	}
	n.msgs[userID] = append(n.msgs[userID], msg)
}

func (n *recordingNotifier) types(userID int64) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.msgs[userID] {
		out = append(out, m.Type)
	}
	return out
}

type testEnv struct {
	db       *sql.DB
	svc      *auth.Service
	mailer   *captureMailer
	notifier *recordingNotifier
	router   http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mailer := &captureMailer{}
	notifier := &recordingNotifier{}
	limiter := ratelimit.New(store.NewRateLimitStore(db), 3, time.Hour)
	svc := auth.NewService(auth.NewSQLBackend(db), auth.NewBcryptHasher(bcrypt.MinCost, 2), limiter, mailer, logger)

	authH := NewAuthHandler(svc, notifier, nil, testCookie, false, logger)
	animeH := NewAnimeHandler(store.NewAnimeStore(db), notifier, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/signup", authH.SignUp)
	mux.HandleFunc("POST /api/auth/signin", authH.SignIn)
	mux.HandleFunc("GET /api/auth/verify", authH.Verify)
	mux.HandleFunc("POST /api/auth/verify/regenerate", authH.RegenerateVerification)
	mux.HandleFunc("POST /api/auth/forgot-password", authH.ForgotPassword)
	mux.HandleFunc("POST /api/auth/change-password", authH.ChangePassword)
	mux.HandleFunc("POST /api/auth/reset-password", authH.ResetPassword)
	mux.HandleFunc("GET /api/auth/session", authH.Session)
	mux.HandleFunc("DELETE /api/auth/session", authH.SignOut)

	requireAuth := middleware.RequireAuth(svc.Sessions(), testCookie, logger)
	mux.Handle("GET /api/user/anime", requireAuth(http.HandlerFunc(animeH.List)))
	mux.Handle("POST /api/user/anime", requireAuth(http.HandlerFunc(animeH.Create)))
	mux.Handle("GET /api/user/anime/{malId}", requireAuth(http.HandlerFunc(animeH.GetByMalID)))
	mux.Handle("PATCH /api/user/anime/{id}", requireAuth(http.HandlerFunc(animeH.Update)))

	return &testEnv{db: db, svc: svc, mailer: mailer, notifier: notifier, router: mux}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, cookie string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: testCookie, Value: cookie})
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// signedIn creates a verified user and returns its id and session token.
func (e *testEnv) signedIn(t *testing.T, email string) (int64, string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/auth/signup", map[string]string{"email": email, "password": "password1"}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/auth/verify?token="+e.mailer.last(t).Token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		User int64 `json:"user"`
	}
	decode(t, rec, &body)
	return body.User, sessionCookie(t, rec).Value
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == testCookie {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", testCookie)
	return nil
}

type errorResponse struct {
	Kind   string       `json:"kind"`
	Error  string       `json:"error"`
	Errors []FieldError `json:"errors"`
}
