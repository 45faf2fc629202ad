package handler

import (
	"log/slog"
	"net/http"

	"github.com/risto-app/risto/internal/auth"
	"github.com/risto-app/risto/internal/metrics"
	"github.com/risto-app/risto/internal/middleware"
	"github.com/risto-app/risto/internal/websocket"
)

// Notifier delivers realtime messages to one user's open connections.
type Notifier interface {
	SendToUser(userID int64, msg websocket.Message)
}

type AuthHandler struct {
	svc        *auth.Service
	notifier   Notifier
	metrics    *metrics.Metrics
	cookieName string
	secure     bool
	logger     *slog.Logger
}

func NewAuthHandler(svc *auth.Service, notifier Notifier, m *metrics.Metrics, cookieName string, secure bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		svc:        svc,
		notifier:   notifier,
		metrics:    m,
		cookieName: cookieName,
		secure:     secure,
		logger:     logger,
	}
}

func (h *AuthHandler) rawSession(r *http.Request) string {
	cookie, err := r.Cookie(h.cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (h *AuthHandler) notify(userID int64, msg websocket.Message) {
	if h.notifier != nil {
		h.notifier.SendToUser(userID, msg)
	}
}

type credentialsRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"min=8"`
}

func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	_, err := h.svc.SignUp(r.Context(), req.Email, req.Password)
	h.metrics.AuthEvent("signup", outcome(err))
	if err != nil {
		writeAuthError(w, h.logger, "sign up", err)
		return
	}
	writeMessage(w, http.StatusCreated, "User created. Please verify your email.")
}

func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, sess, err := h.svc.SignIn(r.Context(), req.Email, req.Password)
	h.metrics.AuthEvent("signin", outcome(err))
	if err != nil {
		writeAuthError(w, h.logger, "sign in", err)
		return
	}

	middleware.SetUser(r.Context(), user.ID)
	setSessionCookie(w, h.cookieName, sess.Token, sess.ExpiresAt, h.secure)
	writeJSON(w, http.StatusOK, map[string]int64{"user": user.ID})
}

// Verify consumes the token from an emailed link. A password reset token
// only authorizes the next step; an email token also signs the user in.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeErrorMessage(w, http.StatusBadRequest, KindValidation, "Invalid or missing token")
		return
	}

	res, err := h.svc.Verify(r.Context(), token)
	h.metrics.AuthEvent("verify", outcome(err))
	if err != nil {
		writeAuthError(w, h.logger, "verify token", err)
		return
	}

	switch res.Status {
	case auth.ResetAuthorized:
		writeJSON(w, http.StatusOK, map[string]any{"message": "Token is valid", "user": res.UserID})
	case auth.EmailVerified:
		if res.Session != nil {
			setSessionCookie(w, h.cookieName, res.Session.Token, res.Session.ExpiresAt, h.secure)
		}
		writeJSON(w, http.StatusOK, map[string]int64{"user": res.UserID})
	default:
		writeInternal(w, h.logger, "verify token", errUnknownStatus(res.Status))
	}
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (h *AuthHandler) RegenerateVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	err := h.svc.RegenerateVerification(r.Context(), req.Email)
	h.metrics.AuthEvent("regenerate", outcome(err))
	if auth.HasCode(err, auth.CodeRateLimited) {
		h.metrics.Throttled("user")
	}
	if err != nil {
		writeAuthError(w, h.logger, "regenerate verification", err)
		return
	}
	writeMessage(w, http.StatusCreated, "Verification email sent. Please check your inbox.")
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	err := h.svc.ForgotPassword(r.Context(), req.Email)
	h.metrics.AuthEvent("forgot_password", outcome(err))
	if err != nil {
		writeAuthError(w, h.logger, "forgot password", err)
		return
	}
	writeMessage(w, http.StatusOK, "If this email is registered, you will receive a reset link.")
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"min=8"`
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	raw := h.rawSession(r)
	if raw == "" {
		writeUnauthenticated(w)
		return
	}

	var req changePasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.svc.ChangePassword(r.Context(), raw, req.CurrentPassword, req.NewPassword)
	h.metrics.AuthEvent("change_password", outcome(err))
	if err != nil {
		writeAuthError(w, h.logger, "change password", err)
		return
	}

	h.notify(user.ID, websocket.SessionRevoked(user.ID))
	clearSessionCookie(w, h.cookieName, h.secure)
	writeMessage(w, http.StatusOK, "Password updated, please log in again")
}

type resetPasswordRequest struct {
	UserID      int64  `json:"userId" validate:"required,gt=0"`
	NewPassword string `json:"newPassword" validate:"min=8"`
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	err := h.svc.ResetPassword(r.Context(), req.UserID, h.rawSession(r), req.NewPassword)
	h.metrics.AuthEvent("reset_password", outcome(err))
	if err != nil {
		writeAuthError(w, h.logger, "reset password", err)
		return
	}

	h.notify(req.UserID, websocket.SessionRevoked(req.UserID))
	clearSessionCookie(w, h.cookieName, h.secure)
	writeMessage(w, http.StatusOK, "Password updated, please log in again")
}

// Session reports the user behind the session cookie.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	raw := h.rawSession(r)
	if raw == "" {
		writeUnauthenticated(w)
		return
	}

	userID, err := h.svc.CheckSession(r.Context(), raw)
	if err != nil {
		writeAuthError(w, h.logger, "check session", err)
		return
	}
	middleware.SetUser(r.Context(), userID)
	writeJSON(w, http.StatusOK, map[string]int64{"user": userID})
}

func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	err := h.svc.SignOut(r.Context(), h.rawSession(r))
	h.metrics.AuthEvent("signout", outcome(err))
	if err != nil {
		writeAuthError(w, h.logger, "sign out", err)
		return
	}

	clearSessionCookie(w, h.cookieName, h.secure)
	writeJSON(w, http.StatusOK, struct{}{})
}
