package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// WriteRateLimit limits mutating requests per client IP. Reads and streams are not limited.
func WriteRateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := httprate.LimitByIP(perMinute, time.Minute)

	return func(next http.Handler) http.Handler {
		limited := limiter(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
			default:
				limited.ServeHTTP(w, r)
			}
		})
	}
}
