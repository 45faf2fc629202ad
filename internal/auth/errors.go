package auth

import "github.com/samber/oops"

// Error codes carried by every error the auth package returns to callers.
// Anything without one of these codes is an internal failure.
const (
	CodeValidation      = "AUTH_VALIDATION"
	CodeEmailExists     = "AUTH_EMAIL_EXISTS"
	CodeUnknownEmail    = "AUTH_UNKNOWN_EMAIL"
	CodeWrongPassword   = "AUTH_WRONG_PASSWORD"
	CodeUnauthenticated = "AUTH_UNAUTHENTICATED"
	CodeNoSession       = "AUTH_NO_SESSION"
	CodeTokenNotFound   = "AUTH_TOKEN_NOT_FOUND"
	CodeTokenExpired    = "AUTH_TOKEN_EXPIRED"
	CodeSamePassword    = "AUTH_SAME_PASSWORD"
	CodeUserNotFound    = "AUTH_USER_NOT_FOUND"
	CodeRateLimited     = "AUTH_RATE_LIMITED"
	CodeInternal        = "AUTH_INTERNAL"
)

// HasCode reports whether err is an oops error with the given code.
func HasCode(err error, code string) bool {
	if err == nil {
		return false
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	return oopsErr.Code() == code
}

// Field returns the request field an error refers to, if any.
func Field(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	field, _ := oopsErr.Context()["field"].(string)
	return field
}

func fieldError(code, field, msg string) error {
	return oops.Code(code).With("field", field).Errorf("%s", msg)
}

func internal(op string, err error) error {
	return oops.Code(CodeInternal).With("operation", op).Wrap(err)
}
