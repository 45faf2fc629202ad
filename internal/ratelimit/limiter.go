// Package ratelimit implements the fixed-window, per-principal throttle that
// guards token regeneration and password reset requests.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/risto-app/risto/internal/model"
)

const (
	DefaultMax    = 3
	DefaultWindow = time.Hour
)

// Store records one hit for principal. The read, the comparison against max,
// and the increment must be atomic in the store. A blocked hit leaves the
// record unchanged and still returns it so callers can compute Retry-After.
type Store interface {
	Hit(ctx context.Context, principal string, max int, window time.Duration, now time.Time) (model.RateLimit, bool, error)
}

// Decision is the outcome of one CheckAndUpdate call.
type Decision struct {
	Allowed    bool
	Count      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type Limiter struct {
	store  Store
	max    int
	window time.Duration
	now    func() time.Time
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter allowing max hits per window. Non-positive values
// fall back to DefaultMax and DefaultWindow.
func New(store Store, max int, window time.Duration, opts ...Option) *Limiter {
	if max <= 0 {
		max = DefaultMax
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{store: store, max: max, window: window, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAndUpdate counts a request from principal against its window.
func (l *Limiter) CheckAndUpdate(ctx context.Context, principal string) (Decision, error) {
	now := l.now()
	rec, allowed, err := l.store.Hit(ctx, principal, l.max, l.window, now)
	if err != nil {
		return Decision{}, fmt.Errorf("check rate limit: %w", err)
	}

	d := Decision{
		Allowed: allowed,
		Count:   rec.Count,
		ResetAt: rec.WindowEnd,
	}
	if rem := l.max - rec.Count; rem > 0 {
		d.Remaining = rem
	}
	if !allowed {
		d.RetryAfter = rec.WindowEnd.Sub(now)
		if d.RetryAfter < time.Second {
			d.RetryAfter = time.Second
		}
	}
	return d, nil
}

// UserPrincipal is the principal key for a user account.
func UserPrincipal(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// IPPrincipal is the principal key for an unauthenticated client address.
func IPPrincipal(ip string) string {
	return "ip:" + ip
}
