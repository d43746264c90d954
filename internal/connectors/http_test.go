package connectors

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPClientGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/charts/top-countries/" || r.URL.Query().Get("limit") != "5" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"country":"CN","count":3}]`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL+"/api/", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, err := c.Get(context.Background(), EndpointTopCountries+"?limit=5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != `[{"country":"CN","count":3}]` {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestHTTPClientStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/throttled":
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		case "/broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, _ := NewHTTPClient(srv.URL, time.Second)

	_, err := c.Get(context.Background(), "/throttled")
	var tErr *ThrottleError
	if !errors.As(err, &tErr) || tErr.RetryAfter != 7*time.Second {
		t.Fatalf("expected ThrottleError with 7s, got %v", err)
	}
	var sErr *StatusError
	if !errors.As(err, &sErr) || !sErr.Temporary() {
		t.Fatalf("expected temporary StatusError 429, got %v", err)
	}

	_, err = c.Get(context.Background(), "/broken")
	if !errors.As(err, &sErr) || sErr.Code != http.StatusBadGateway || !sErr.Temporary() {
		t.Fatalf("expected temporary StatusError 502, got %v", err)
	}

	_, err = c.Get(context.Background(), "/missing")
	if !errors.Is(err, ErrUnexpectedStatus) || !errors.As(err, &sErr) || sErr.Temporary() {
		t.Fatalf("expected permanent StatusError 404, got %v", err)
	}
}

func TestNewHTTPClientRejectsBadScheme(t *testing.T) {
	if _, err := NewHTTPClient("ws://localhost:8000", time.Second); err == nil {
		t.Fatalf("expected error for ws scheme")
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", time.Second},
		{"3", 3 * time.Second},
		{now.Add(5 * time.Second).Format(http.TimeFormat), 5 * time.Second},
		{now.Add(-5 * time.Second).Format(http.TimeFormat), 0},
		{"soon", time.Second},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in, now); got != tt.want {
			t.Fatalf("%q: expected %v, got %v", tt.in, tt.want, got)
		}
	}
}
