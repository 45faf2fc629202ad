package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/risto-app/risto/internal/metrics"
	"github.com/risto-app/risto/internal/ratelimit"
)

// RetryAfterSeconds renders d for a Retry-After header, rounding up.
func RetryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// RateLimit returns middleware that counts every request against limiter
// under the principal keyFunc derives from it. A store failure rejects the
// request with 500 rather than letting it through unthrottled.
func RateLimit(limiter *ratelimit.Limiter, keyFunc func(*http.Request) string, m *metrics.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := keyFunc(r)
			d, err := limiter.CheckAndUpdate(r.Context(), principal)
			if err != nil {
				logger.Error("rate limit", "principal", principal, "error", err)
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"kind":  "internal",
					"error": "Internal server error",
				})
				return
			}
			if !d.Allowed {
				m.Throttled("ip")
				w.Header().Set("Retry-After", RetryAfterSeconds(d.RetryAfter))
				writeJSON(w, http.StatusTooManyRequests, map[string]string{
					"kind":  "rate_limited",
					"error": "Too many requests. Please try again later.",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
