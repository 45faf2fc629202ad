package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/risto-app/risto/internal/store"
)

// PurgeStats counts what one housekeeping pass removed.
type PurgeStats struct {
	Sessions   int64
	Tokens     int64
	RateLimits int64
}

// Purge deletes expired sessions, expired verification tokens, and elapsed
// rate limit windows of both user and ip principals. Records kept in Redis
// expire on their own.
func Purge(ctx context.Context, db *sql.DB, now time.Time) (PurgeStats, error) {
	var stats PurgeStats
	var err error

	if stats.Sessions, err = store.NewSessionStore(db).DeleteExpired(ctx, now); err != nil {
		return stats, fmt.Errorf("purge sessions: %w", err)
	}
	if stats.Tokens, err = store.NewVerificationTokenStore(db).DeleteExpired(ctx, now); err != nil {
		return stats, fmt.Errorf("purge verification tokens: %w", err)
	}
	if stats.RateLimits, err = store.NewRateLimitStore(db).DeleteExpired(ctx, now); err != nil {
		return stats, fmt.Errorf("purge rate limits: %w", err)
	}
	return stats, nil
}

// RunCleanup purges on every tick until ctx is done.
func RunCleanup(ctx context.Context, db *sql.DB, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := Purge(ctx, db, time.Now())
			if err != nil {
				logger.Error("cleanup", "error", err)
				continue
			}
			if stats.Sessions+stats.Tokens+stats.RateLimits > 0 {
				logger.Info("cleanup",
					"sessions", stats.Sessions,
					"tokens", stats.Tokens,
					"rate_limits", stats.RateLimits)
			}
		}
	}
}
