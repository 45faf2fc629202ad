package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/risto-app/risto/internal/database"
	"github.com/risto-app/risto/internal/model"
)

type VerificationTokenStore struct {
	q database.DBTX
}

func NewVerificationTokenStore(q database.DBTX) *VerificationTokenStore {
	return &VerificationTokenStore{q: q}
}

func scanVerificationToken(scanner interface{ Scan(...any) error }) (*model.VerificationToken, error) {
	var vt model.VerificationToken
	err := scanner.Scan(&vt.Token, &vt.UserID, &vt.Type, &vt.ExpiresAt, &vt.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &vt, nil
}

const verificationTokenCols = `token, user_id, type, expires_at, created_at`

func (s *VerificationTokenStore) Create(ctx context.Context, token string, userID int64, typ model.TokenType, expiresAt time.Time) (*model.VerificationToken, error) {
	now := time.Now().UTC()
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO verification_tokens (token, user_id, type, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		token, userID, string(typ), expiresAt.UTC(), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert verification token: %w", err)
	}
	return &model.VerificationToken{
		Token:     token,
		UserID:    userID,
		Type:      typ,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: now,
	}, nil
}

func (s *VerificationTokenStore) Get(ctx context.Context, token string) (*model.VerificationToken, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+verificationTokenCols+` FROM verification_tokens WHERE token = ?`, token)
	vt, err := scanVerificationToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get verification token: %w", err)
	}
	return vt, nil
}

func (s *VerificationTokenStore) ListByUser(ctx context.Context, userID int64) ([]model.VerificationToken, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+verificationTokenCols+` FROM verification_tokens WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list verification tokens: %w", err)
	}
	defer rows.Close()

	var tokens []model.VerificationToken
	for rows.Next() {
		vt, err := scanVerificationToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification token: %w", err)
		}
		tokens = append(tokens, *vt)
	}
	return tokens, rows.Err()
}

// Delete removes the token and reports whether this call removed it. Two
// concurrent consumers of the same token see exactly one true.
func (s *VerificationTokenStore) Delete(ctx context.Context, token string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM verification_tokens WHERE token = ?`, token)
	if err != nil {
		return false, fmt.Errorf("delete verification token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// DeleteByUser removes all tokens of the user, of every type.
func (s *VerificationTokenStore) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM verification_tokens WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user verification tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *VerificationTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM verification_tokens WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired verification tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
