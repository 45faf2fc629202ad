package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/oops"

	"github.com/risto-app/risto/internal/auth"
	"github.com/risto-app/risto/internal/middleware"
)

// Error kinds carried in every error body.
const (
	KindValidation     = "validation"
	KindAuthentication = "authentication"
	KindConflict       = "conflict"
	KindNotFound       = "not_found"
	KindGone           = "gone"
	KindRateLimited    = "rate_limited"
	KindInternal       = "internal"
)

const msgInternal = "Internal server error"

type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

type errorBody struct {
	Kind   string       `json:"kind"`
	Error  string       `json:"error,omitempty"`
	Errors []FieldError `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeFieldErrors(w http.ResponseWriter, status int, kind string, errs ...FieldError) {
	writeJSON(w, status, errorBody{Kind: kind, Errors: errs})
}

func writeErrorMessage(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorBody{Kind: kind, Error: msg})
}

// writeUnauthenticated keeps "user": null beside the kind so clients that
// only read the user field still see a signed-out session.
func writeUnauthenticated(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]any{"kind": KindAuthentication, "user": nil})
}

func writeInternal(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	logger.Error(op, "error", err)
	writeErrorMessage(w, http.StatusInternalServerError, KindInternal, msgInternal)
}

// writeAuthError maps an auth error code onto a status and error body.
// Errors without a known code are internal.
func writeAuthError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		writeInternal(w, logger, op, err)
		return
	}

	field := auth.Field(err)
	msg := oopsErr.Error()

	switch oopsErr.Code() {
	case auth.CodeValidation, auth.CodeSamePassword:
		writeFieldErrors(w, http.StatusBadRequest, KindValidation, FieldError{Field: field, Error: msg})
	case auth.CodeWrongPassword:
		// A wrong current password on change-password is a form error.
		if field == "currentPassword" {
			writeFieldErrors(w, http.StatusBadRequest, KindValidation, FieldError{Field: field, Error: msg})
			return
		}
		writeFieldErrors(w, http.StatusUnauthorized, KindAuthentication, FieldError{Field: field, Error: msg})
	case auth.CodeUnknownEmail:
		writeFieldErrors(w, http.StatusNotFound, KindAuthentication, FieldError{Field: field, Error: msg})
	case auth.CodeEmailExists:
		writeErrorMessage(w, http.StatusConflict, KindConflict, msg)
	case auth.CodeUnauthenticated:
		writeUnauthenticated(w)
	case auth.CodeNoSession:
		writeErrorMessage(w, http.StatusUnauthorized, KindAuthentication, msg)
	case auth.CodeTokenNotFound, auth.CodeTokenExpired:
		writeErrorMessage(w, http.StatusGone, KindGone, "Invalid or expired token")
	case auth.CodeUserNotFound:
		writeErrorMessage(w, http.StatusNotFound, KindNotFound, msg)
	case auth.CodeRateLimited:
		retry, _ := oopsErr.Context()["retry_after"].(time.Duration)
		w.Header().Set("Retry-After", middleware.RetryAfterSeconds(retry))
		writeErrorMessage(w, http.StatusTooManyRequests, KindRateLimited, msg)
	default:
		writeInternal(w, logger, op, err)
	}
}

// outcome labels an auth result for metrics.
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return "error"
	}
	switch oopsErr.Code() {
	case auth.CodeRateLimited:
		return "throttled"
	case auth.CodeInternal:
		return "error"
	}
	return "rejected"
}

func setSessionCookie(w http.ResponseWriter, name, token string, expires time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, name string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func parseIDParam(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(r.PathValue(name), 10, 64)
}

func errUnknownStatus(s auth.ConsumeStatus) error {
	return fmt.Errorf("unknown consume status %d", int(s))
}
