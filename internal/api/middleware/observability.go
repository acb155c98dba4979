package middleware

import (
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ahecn/referraldesk/internal/infrastructure/observability"
)

// unmatchedRoute labels requests no route matched, keeping raw paths out of metrics
const unmatchedRoute = "unmatched"

// ObservabilityMiddleware traces each request and records request metrics. Span
// and metric labels use the route pattern the mux matched, which is only known
// once the request has been served.
func ObservabilityMiddleware(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := observability.StartSpan(r.Context(), "http.request")
			defer span.End()

			req := r.WithContext(ctx)
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(rw, req)

			duration := time.Since(start)
			route := unmatchedRoute
			if req.Pattern != "" {
				span.SetName(req.Pattern)
				_, route, _ = strings.Cut(req.Pattern, " ")
			}

			observability.SetSpanAttributes(span,
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.Int("http.status_code", rw.statusCode),
			)
			if actor := r.Header.Get("X-Actor"); actor != "" {
				observability.SetSpanAttributes(span, attribute.String("referral.actor", actor))
			}
			if id := req.PathValue("id"); id != "" {
				observability.SetSpanAttributes(span, attribute.String(pathIDAttribute(route), id))
			}
			if rw.statusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.statusCode))
			}

			observability.RecordRequestMetric(ctx, metrics, r.Method, route, rw.statusCode, duration)
		})
	}
}

// pathIDAttribute names the {id} wildcard of a route by the resource it identifies
func pathIDAttribute(route string) string {
	switch {
	case strings.HasPrefix(route, "/api/facilities/"):
		return "referral.facility"
	case strings.HasPrefix(route, "/api/notifications/"):
		return "alert.id"
	default:
		return "referral.case_id"
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
