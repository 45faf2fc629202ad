package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// accessEntry is what the access log reports about one request. Handlers
// further down the chain annotate it through the request context.
type accessEntry struct {
	status int
	bytes  int
	userID int64
}

type accessKey struct{}

// SetUser attributes the request to userID in the access log. Outside
// RequestLogger it does nothing.
func SetUser(ctx context.Context, userID int64) {
	if e, ok := ctx.Value(accessKey{}).(*accessEntry); ok {
		e.userID = userID
	}
}

// accessWriter records the first status code and the body size.
type accessWriter struct {
	http.ResponseWriter
	entry       *accessEntry
	wroteHeader bool
}

func (w *accessWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.entry.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *accessWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	w.entry.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer, which
// the websocket upgrade needs for hijacking.
func (w *accessWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func accessLevel(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// RequestLogger writes one access log line per request. clientIP resolves
// the remote field the same way the per-IP throttle attributes requests,
// and user_id is added once a session has been resolved.
func RequestLogger(logger *slog.Logger, clientIP func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			entry := &accessEntry{status: http.StatusOK}
			ctx := context.WithValue(r.Context(), accessKey{}, entry)

			next.ServeHTTP(&accessWriter{ResponseWriter: w, entry: entry}, r.WithContext(ctx))

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", entry.status),
				slog.Int("bytes", entry.bytes),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote", clientIP(r)),
			}
			if entry.userID != 0 {
				attrs = append(attrs, slog.Int64("user_id", entry.userID))
			}
			logger.LogAttrs(r.Context(), accessLevel(entry.status), "request", attrs...)
		})
	}
}
