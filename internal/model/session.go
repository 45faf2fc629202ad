package model

import "time"

// Session is keyed by the SHA-256 of the raw cookie value. The raw value is
// never stored.
type Session struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type TokenType string

const (
	TokenEmailVerification TokenType = "EMAIL_VERIFICATION"
	TokenPasswordReset     TokenType = "PASSWORD_RESET"
)

func (t TokenType) Valid() bool {
	return t == TokenEmailVerification || t == TokenPasswordReset
}

type VerificationToken struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	Type      TokenType `json:"type"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type RateLimit struct {
	PrincipalID string    `json:"principal_id"`
	Count       int       `json:"count"`
	WindowEnd   time.Time `json:"window_end"`
}
