package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xela07ax/attackmap/internal/console/handler"
	"github.com/xela07ax/attackmap/internal/console/service"
	"github.com/xela07ax/attackmap/internal/domain"
	"github.com/xela07ax/attackmap/internal/engine"
	"github.com/xela07ax/attackmap/internal/history"
	"go.uber.org/zap/zaptest"
)

type staticBoot []domain.AttackRecord

func (b staticBoot) Snapshot(context.Context) ([]domain.AttackRecord, error) { return b, nil }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()

	lat, lon := 48.85, 2.35
	boot := staticBoot{
		{IPAddress: "192.0.2.1", Timestamp: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), Country: "FR", Latitude: &lat, Longitude: &lon, Attempts: 4},
		{IPAddress: "192.0.2.2", Timestamp: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), Country: "DE"},
	}
	core := engine.NewCore(history.NewStore(10), boot, nil, engine.NewMetrics(reg), logger)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = core.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-core.Done()
	})

	deadline := time.Now().Add(2 * time.Second)
	for core.State().Status.Phase != domain.PhaseLive {
		if time.Now().After(deadline) {
			t.Fatalf("engine did not reach live phase")
		}
		time.Sleep(5 * time.Millisecond)
	}

	svc := service.NewDashboardService(core, nil, service.DashboardOptions{Location: time.UTC}, logger)
	srv := NewConsoleServer(logger, reg,
		handler.NewDashboardHandler(svc, logger),
		handler.NewStreamHandler(core, svc, nil, logger),
	)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func TestRoutes(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/health", "/metrics", "/api/v1/logs", "/api/v1/map", "/api/v1/charts?width=320", "/api/v1/status", "/api/v1/dashboard", "/api/v1/selection"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d", path, resp.StatusCode)
		}
		if resp.Header.Get("X-Trace-ID") == "" {
			t.Fatalf("GET %s: expected trace id header", path)
		}
	}
}

func TestSelectThroughAPI(t *testing.T) {
	ts := newTestServer(t)

	var list domain.ListView
	resp, err := http.Get(ts.URL + "/api/v1/logs")
	if err != nil {
		t.Fatalf("GET logs: %v", err)
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if len(list.Rows) != 2 || list.SelectedIndex != -1 {
		t.Fatalf("unexpected list %+v", list)
	}

	id := list.Rows[1].ID
	resp, err = http.Post(ts.URL+"/api/v1/selection", "application/json", strings.NewReader(`{"id":"`+id+`","source":"list"}`))
	if err != nil {
		t.Fatalf("POST selection: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var frame domain.DashboardFrame
	resp, err = http.Get(ts.URL + "/api/v1/dashboard")
	if err != nil {
		t.Fatalf("GET dashboard: %v", err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&frame); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Selection != id || frame.List.SelectedIndex != 1 || !frame.List.Rows[1].Highlighted {
		t.Fatalf("expected row 1 highlighted, got %+v", frame.List)
	}
	// У выделенной записи нет координат: на карте ничего не подсвечено
	if len(frame.Map.Points) != 1 || frame.Map.Points[0].Highlighted || frame.Map.Excluded != 1 {
		t.Fatalf("unexpected map %+v", frame.Map)
	}
}
