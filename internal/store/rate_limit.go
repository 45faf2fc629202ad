package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/risto-app/risto/internal/database"
	"github.com/risto-app/risto/internal/model"
)

// RateLimitStore keeps fixed-window counters. window_end is stored as unix
// milliseconds so the window arithmetic stays inside one statement.
type RateLimitStore struct {
	q database.DBTX
}

func NewRateLimitStore(q database.DBTX) *RateLimitStore {
	return &RateLimitStore{q: q}
}

// hitQuery opens a fresh window when none exists or the old one has ended
// (window_end <= now), otherwise increments while count < max. A blocked
// principal matches the DO UPDATE WHERE clause as false and returns no row.
const hitQuery = `
INSERT INTO rate_limits (principal_id, count, window_end) VALUES (?1, 1, ?2)
ON CONFLICT (principal_id) DO UPDATE SET
	count = CASE WHEN rate_limits.window_end <= ?3 THEN 1 ELSE rate_limits.count + 1 END,
	window_end = CASE WHEN rate_limits.window_end <= ?3 THEN excluded.window_end ELSE rate_limits.window_end END
WHERE rate_limits.window_end <= ?3 OR rate_limits.count < ?4
RETURNING count, window_end`

// Hit records one request for principal and reports whether it fits in the
// current window. The check and the increment are a single statement, so
// concurrent callers cannot both observe the same count.
func (s *RateLimitStore) Hit(ctx context.Context, principal string, max int, window time.Duration, now time.Time) (model.RateLimit, bool, error) {
	nowMs := now.UnixMilli()
	rec := model.RateLimit{PrincipalID: principal}

	var windowEnd int64
	err := s.q.QueryRowContext(ctx, hitQuery,
		principal, nowMs+window.Milliseconds(), nowMs, max,
	).Scan(&rec.Count, &windowEnd)
	if err == nil {
		rec.WindowEnd = time.UnixMilli(windowEnd).UTC()
		return rec, true, nil
	}
	if err != sql.ErrNoRows {
		return rec, false, fmt.Errorf("hit rate limit: %w", err)
	}

	cur, err := s.Get(ctx, principal)
	if err != nil {
		return rec, false, err
	}
	if cur == nil {
		return rec, false, fmt.Errorf("hit rate limit: record for %q vanished", principal)
	}
	return *cur, false, nil
}

func (s *RateLimitStore) Get(ctx context.Context, principal string) (*model.RateLimit, error) {
	var rec model.RateLimit
	var windowEnd int64
	err := s.q.QueryRowContext(ctx,
		`SELECT principal_id, count, window_end FROM rate_limits WHERE principal_id = ?`, principal,
	).Scan(&rec.PrincipalID, &rec.Count, &windowEnd)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rate limit: %w", err)
	}
	rec.WindowEnd = time.UnixMilli(windowEnd).UTC()
	return &rec, nil
}

func (s *RateLimitStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM rate_limits WHERE window_end <= ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete expired rate limits: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
