package middleware

import (
	"net/http"
	"strings"
)

// CacheControl sets cache headers by path. Referral data is patient data and is never stored.
func CacheControl(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		switch {
		case strings.HasPrefix(path, "/api/stream/"):
			// the stream handler sets its own headers
		case path == "/api/reject-reasons":
			w.Header().Set("Cache-Control", "public, max-age=3600")
		case path == "/health":
			w.Header().Set("Cache-Control", "no-cache")
		default:
			w.Header().Set("Cache-Control", "no-store")
		}

		next.ServeHTTP(w, r)
	})
}
