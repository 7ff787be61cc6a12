package middleware

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tracing tags the server span opened by Telemetry with the request id and
// the matched route. It opens no span and records no metrics of its own, so
// it must run inside both Telemetry and Logging.
func Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		span := trace.SpanFromContext(r.Context())
		if id := RequestID(r.Context()); id != "" {
			span.SetAttributes(attribute.String("http.request_id", id))
		}

		next.ServeHTTP(w, r)

		// ServeMux sets Pattern on r while routing.
		if r.Pattern != "" {
			span.SetName(r.Pattern)
			span.SetAttributes(attribute.String("http.route", r.Pattern))
		}
	})
}
