package engine

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTracingMiddleware(t *testing.T) {
	var seen string
	h := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TraceHeader, "trace-from-proxy")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "trace-from-proxy" || rec.Header().Get(TraceHeader) != "trace-from-proxy" {
		t.Fatalf("expected propagated trace id, got %q / %q", seen, rec.Header().Get(TraceHeader))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rec.Header().Get(TraceHeader) != seen {
		t.Fatalf("expected generated trace id echoed, got %q / %q", seen, rec.Header().Get(TraceHeader))
	}
}
