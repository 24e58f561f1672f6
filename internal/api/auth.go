package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// DashboardAuth picks the guard for the dashboard API: bearer auth when a
// token is configured, loopback-only otherwise.
func DashboardAuth(token string) func(http.Handler) http.Handler {
	if token == "" {
		return LoopbackOnly
	}
	return BearerAuth(token)
}

// BearerAuth rejects requests whose Authorization header does not carry
// token. Both sides are hashed first so the comparison does not leak the
// token length.
func BearerAuth(token string) func(http.Handler) http.Handler {
	want := sha256.Sum256([]byte(token))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const prefix = "Bearer "
			auth := r.Header.Get("Authorization")
			got := sha256.Sum256([]byte(strings.TrimPrefix(auth, prefix)))
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
				slog.Warn("dashboard request rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
				w.Header().Set("WWW-Authenticate", `Bearer realm="feedagent"`)
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoopbackOnly serves only clients on the loopback interface. An agent
// started without dashboard.token stays private even if it is bound to a
// wider address. Forwarding headers are not trusted.
func LoopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isLoopback(r.RemoteAddr) {
			slog.Warn("non-loopback dashboard request without token configured", "path", r.URL.Path, "remote", r.RemoteAddr)
			httpError(w, http.StatusForbidden, "permission_error", "set dashboard.token to allow remote access")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
