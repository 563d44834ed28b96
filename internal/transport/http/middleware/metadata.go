package middleware

import (
	"net"
	"net/http"
	"strings"

	"psymetric/internal/requestcontext"
)

// ClientMetadata captures the request attributes the audit ledger records:
// source IP, user agent, language and client-reported timezone. Capture is
// best-effort; a malformed RemoteAddr degrades to the raw value.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithClientMetadata(r.Context(),
			clientIP(r),
			r.UserAgent(),
			r.Header.Get("Accept-Language"),
			r.Header.Get("X-Timezone"),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP prefers the first X-Forwarded-For hop, falling back to
// RemoteAddr.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
