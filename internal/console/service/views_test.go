package service

import (
	"math"
	"testing"
	"time"

	"github.com/xela07ax/attackmap/internal/domain"
	"github.com/xela07ax/attackmap/internal/selection"
)

func fptr(f float64) *float64 { return &f }

func sampleRecords() []domain.AttackRecord {
	port := 22
	return []domain.AttackRecord{
		{ID: "r1", IPAddress: "192.0.2.1", Timestamp: time.Date(2025, 3, 1, 23, 30, 0, 0, time.UTC), Port: &port, Country: "US", City: "Ashburn", Latitude: fptr(39.0), Longitude: fptr(-77.5), Attempts: 25},
		{ID: "r2", IPAddress: "192.0.2.2", Timestamp: time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC), Latitude: fptr(math.NaN()), Longitude: fptr(10), Attempts: 1},
		{ID: "r3", IPAddress: "192.0.2.3", Timestamp: time.Date(2025, 3, 1, 3, 15, 0, 0, time.UTC), Country: "CN", Latitude: fptr(39.9), Longitude: fptr(116.4), Attempts: 3},
	}
}

func TestTopNForWidth(t *testing.T) {
	tests := []struct{ width, want int }{{320, 5}, {599, 5}, {600, 8}, {1023, 8}, {1024, 10}, {2560, 10}}
	for _, tt := range tests {
		if got := TopNForWidth(tt.width); got != tt.want {
			t.Fatalf("width %d: expected %d, got %d", tt.width, tt.want, got)
		}
	}
}

func TestBuildListView(t *testing.T) {
	view := BuildListView(sampleRecords(), selection.State{ID: "r3"}, time.UTC, time.DateTime)

	if len(view.Rows) != 3 || view.SelectedIndex != 2 {
		t.Fatalf("expected 3 rows with selected index 2, got %d/%d", len(view.Rows), view.SelectedIndex)
	}
	row := view.Rows[1]
	if row.Country != domain.Unknown || row.City != domain.Unknown || row.Region != domain.Unknown || row.Port != nil {
		t.Fatalf("expected Unknown placeholders and omitted port, got %+v", row)
	}
	if view.Rows[0].LocalTime != "2025-03-01 23:30:00" {
		t.Fatalf("unexpected local time %q", view.Rows[0].LocalTime)
	}
	if !view.Rows[2].Highlighted || view.Rows[0].Highlighted {
		t.Fatalf("expected only r3 highlighted")
	}

	none := BuildListView(sampleRecords(), selection.State{ID: "evicted"}, time.UTC, time.DateTime)
	if none.SelectedIndex != -1 {
		t.Fatalf("expected -1 for selection outside window, got %d", none.SelectedIndex)
	}
}

func TestBuildMapViewExcludesUnplaceableRecords(t *testing.T) {
	server := domain.LatLon{Lat: 40.8586, Lon: -74.1636}
	view := BuildMapView(sampleRecords(), selection.State{ID: "r1"}, server)

	if len(view.Points) != 2 || view.Excluded != 1 {
		t.Fatalf("expected 2 points and 1 excluded, got %d/%d", len(view.Points), view.Excluded)
	}
	if view.Server != server {
		t.Fatalf("unexpected server %+v", view.Server)
	}

	selected, idle := view.Points[0], view.Points[1]
	if selected.RadiusM != 300000 {
		t.Fatalf("expected radius capped at 10 attempts, got %v", selected.RadiusM)
	}
	if selected.Line != LineSelected || !selected.Highlighted {
		t.Fatalf("expected selected line style, got %+v", selected.Line)
	}
	if idle.Line != LineIdle || idle.RadiusM != 90000 {
		t.Fatalf("unexpected idle point %+v", idle)
	}
}

func TestBuildChartsViewEmpty(t *testing.T) {
	view := BuildChartsView(domain.GlobalStats{TopCountries: []domain.CountryCount{}, Trend: domain.AttackTrend{Label: "Attacks (0 total)", Points: []domain.DateCount{}}})

	if len(view.TopCountries.Labels) != 0 || len(view.AttackTrends.Labels) != 0 {
		t.Fatalf("expected empty labels, got %+v", view)
	}
	if len(view.TimeOfDay.Labels) != 24 || len(view.TimeOfDay.Datasets[0].Data) != 24 {
		t.Fatalf("expected 24 hour buckets")
	}
	for _, v := range view.TimeOfDay.Datasets[0].Data {
		if v != 0 {
			t.Fatalf("expected zero series, got %v", view.TimeOfDay.Datasets[0].Data)
		}
	}
	if view.AttackTrends.Datasets[0].Label != "Attacks (0 total)" {
		t.Fatalf("unexpected trend label %q", view.AttackTrends.Datasets[0].Label)
	}
}
