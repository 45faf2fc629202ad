package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/risto-app/risto/internal/database"
	"github.com/risto-app/risto/internal/metrics"
	"github.com/risto-app/risto/internal/model"
	"github.com/risto-app/risto/internal/ratelimit"
	"github.com/risto-app/risto/internal/store"
)

func newIPLimiter(t *testing.T, max int, now func() time.Time) *ratelimit.Limiter {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return ratelimit.New(store.NewRateLimitStore(db), max, time.Minute, ratelimit.WithClock(now))
}

func ipKey(r *http.Request) string {
	return ratelimit.IPPrincipal(RemoteIP(r))
}

func TestRetryAfterSeconds(t *testing.T) {
	cases := map[time.Duration]string{
		0:                       "1",
		300 * time.Millisecond:  "1",
		1500 * time.Millisecond: "2",
		time.Hour:               "3600",
	}
	for d, want := range cases {
		if got := RetryAfterSeconds(d); got != want {
			t.Errorf("RetryAfterSeconds(%v) = %q, want %q", d, got, want)
		}
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	m := metrics.New(prometheus.NewRegistry())
	limiter := newIPLimiter(t, 2, func() time.Time { return now })

	handler := RateLimit(limiter, ipKey, m, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(remote, xff string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/", nil)
		req.RemoteAddr = remote
		if xff != "" {
			req.Header.Set("X-Forwarded-For", xff)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	// First 2 requests should pass
	for i := 0; i < 2; i++ {
		if rec := send("192.0.2.1:1234", ""); rec.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i+1, rec.Code, http.StatusOK)
		}
	}

	// a rotated forwarding header does not buy a fresh budget
	rec := send("192.0.2.1:1234", "203.0.113.9")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("3rd request: status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}
	if got := testutil.ToFloat64(m.RateLimited.WithLabelValues("ip")); got != 1 {
		t.Errorf("rate limited counter = %v, want 1", got)
	}

	// a different client is unaffected
	if rec := send("192.0.2.2:1234", ""); rec.Code != http.StatusOK {
		t.Errorf("other client: status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRateLimitWindowReset(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	limiter := newIPLimiter(t, 1, func() time.Time { return now })
	m := metrics.New(prometheus.NewRegistry())

	handler := RateLimit(limiter, ipKey, m, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	send := func() int {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/", nil))
		return rec.Code
	}

	if code := send(); code != http.StatusOK {
		t.Fatalf("first request: status = %d", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Fatalf("should be blocked within window, got %d", code)
	}
	now = now.Add(time.Minute)
	if code := send(); code != http.StatusOK {
		t.Errorf("should be allowed after window expires, got %d", code)
	}
}

type failingStore struct{}

func (failingStore) Hit(context.Context, string, int, time.Duration, time.Time) (model.RateLimit, bool, error) {
	return model.RateLimit{}, false, errors.New("store down")
}

func TestRateLimitStoreErrorRejects(t *testing.T) {
	limiter := ratelimit.New(failingStore{}, 10, time.Minute)
	m := metrics.New(prometheus.NewRegistry())

	called := false
	handler := RateLimit(limiter, ipKey, m, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if called {
		t.Error("handler should not run when the limiter fails")
	}
}
