package middleware

import (
	"net"
	"net/http"
	"strings"
)

// RemoteIP returns the host part of the connection's peer address.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ForwardedIP prefers Cloudflare's CF-Connecting-IP header, then the first
// X-Forwarded-For hop, and falls back to RemoteIP. Both headers are client
// controlled unless a proxy in front of the server overwrites them.
func ForwardedIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	return RemoteIP(r)
}

// ClientIP selects how requests are attributed to a client. Forwarding
// headers count only when trustProxy is set.
func ClientIP(trustProxy bool) func(*http.Request) string {
	if trustProxy {
		return ForwardedIP
	}
	return RemoteIP
}
