package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/risto-app/risto/internal/auth"
	"github.com/risto-app/risto/internal/model"
)

// SessionResolver maps a raw session cookie to its user.
type SessionResolver interface {
	AuthenticatedUser(ctx context.Context, raw string) (*model.User, error)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// unauthenticatedBody keeps the legacy "user": null field next to the
// error kind every failure body carries.
var unauthenticatedBody = map[string]any{"kind": "authentication", "user": nil}

// RequireAuth validates the session cookie and populates AuthContext. The
// resolved user is also recorded on the access log entry.
// Requests without a live session get 401 {"kind": "authentication", "user": null}.
func RequireAuth(sessions SessionResolver, cookieName string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(cookieName)
			if err != nil || cookie.Value == "" {
				writeJSON(w, http.StatusUnauthorized, unauthenticatedBody)
				return
			}

			user, err := sessions.AuthenticatedUser(r.Context(), cookie.Value)
			if err != nil {
				if auth.HasCode(err, auth.CodeUnauthenticated) {
					writeJSON(w, http.StatusUnauthorized, unauthenticatedBody)
					return
				}
				logger.Error("resolve session", "error", err)
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"kind":  "internal",
					"error": "Internal server error",
				})
				return
			}

			ac := auth.AuthContext{
				UserID:    user.ID,
				Email:     user.Email,
				Verified:  user.Verified,
				TokenHash: auth.HashSessionToken(cookie.Value),
			}

			SetUser(r.Context(), user.ID)
			ctx := auth.WithAuth(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
