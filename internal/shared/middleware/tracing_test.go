package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracing_AnnotatesSingleServerSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/jobs/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	handler := Chain(mux,
		otelhttp.NewMiddleware("catalogsync", otelhttp.WithTracerProvider(tp)),
		Logging,
		Tracing,
	)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/aggregate-all", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "POST /api/jobs/{name}" {
		t.Errorf("span name = %q, want route pattern", span.Name())
	}

	attrs := make(map[string]string)
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["http.request_id"] != "req-42" {
		t.Errorf("http.request_id = %q, want %q", attrs["http.request_id"], "req-42")
	}
	if attrs["http.route"] != "POST /api/jobs/{name}" {
		t.Errorf("http.route = %q, want route pattern", attrs["http.route"])
	}
}

func TestTracing_WithoutSpan(t *testing.T) {
	called := false
	handler := Tracing(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if !called {
		t.Error("next handler was not called")
	}
}
