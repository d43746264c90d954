package service

// View-адаптеры: чистые функции (снимок окна, выделение) -> данные для отрисовки.
// Позиции записей вычисляются только здесь, на момент рендера.

import (
	"strconv"
	"time"

	"github.com/xela07ax/attackmap/internal/domain"
	"github.com/xela07ax/attackmap/internal/selection"
)

const (
	maxRadiusAttempts = 10
	radiusPerAttemptM = 30000
)

var (
	LineSelected = domain.LineStyle{Color: "red", Weight: 10, Opacity: 1}
	LineIdle     = domain.LineStyle{Color: "orange", Weight: 3, Opacity: 0.7}
)

// TopNForWidth — сколько стран показывать при данной ширине экрана.
func TopNForWidth(width int) int {
	switch {
	case width < 600:
		return 5
	case width < 1024:
		return 8
	default:
		return 10
	}
}

func BuildListView(records []domain.AttackRecord, sel selection.State, loc *time.Location, layout string) domain.ListView {
	view := domain.ListView{Rows: make([]domain.LogRow, len(records)), SelectedIndex: -1}
	for i, r := range records {
		highlighted := sel.Is(r.ID)
		if highlighted {
			view.SelectedIndex = i
		}
		view.Rows[i] = domain.LogRow{
			ID:          r.ID,
			IPAddress:   r.IPAddress,
			Timestamp:   r.Timestamp,
			LocalTime:   r.Timestamp.In(loc).Format(layout),
			Port:        r.Port,
			City:        r.CityOrUnknown(),
			Region:      r.RegionOrUnknown(),
			Country:     r.CountryOrUnknown(),
			Highlighted: highlighted,
		}
	}
	return view
}

// BuildMapView строит маркер и линию до сервера для каждой записи с координатами.
func BuildMapView(records []domain.AttackRecord, sel selection.State, server domain.LatLon) domain.MapView {
	view := domain.MapView{Server: server, Points: make([]domain.MapPoint, 0, len(records))}
	for _, r := range records {
		if !r.HasLocation() {
			view.Excluded++
			continue
		}
		attempts := r.Weight()
		line := LineIdle
		highlighted := sel.Is(r.ID)
		if highlighted {
			line = LineSelected
		}
		view.Points = append(view.Points, domain.MapPoint{
			ID:          r.ID,
			Source:      domain.LatLon{Lat: *r.Latitude, Lon: *r.Longitude},
			RadiusM:     float64(radiusPerAttemptM * min(attempts, maxRadiusAttempts)),
			Attempts:    attempts,
			Line:        line,
			Highlighted: highlighted,
		})
	}
	return view
}

// BuildChartsView раскладывает агрегаты в форму Chart.js.
func BuildChartsView(stats domain.GlobalStats) domain.ChartsView {
	top := domain.ChartData{Labels: make([]string, 0, len(stats.TopCountries))}
	topData := make([]int64, 0, len(stats.TopCountries))
	for _, c := range stats.TopCountries {
		top.Labels = append(top.Labels, c.Country)
		topData = append(topData, c.Count)
	}
	top.Datasets = []domain.ChartDataset{{Label: "Number of Attempts", Data: topData}}

	trend := domain.ChartData{Labels: make([]string, 0, len(stats.Trend.Points))}
	trendData := make([]int64, 0, len(stats.Trend.Points))
	for _, p := range stats.Trend.Points {
		trend.Labels = append(trend.Labels, p.Date)
		trendData = append(trendData, p.Count)
	}
	trend.Datasets = []domain.ChartDataset{{Label: stats.Trend.Label, Data: trendData}}

	hours := domain.ChartData{Labels: make([]string, 24)}
	hourData := make([]int64, 24)
	for h := range 24 {
		hours.Labels[h] = strconv.Itoa(h)
		hourData[h] = stats.HourOfDay[h]
	}
	hours.Datasets = []domain.ChartDataset{{Label: "Number of Attacks", Data: hourData}}

	return domain.ChartsView{
		Total:        stats.Total,
		TopCountries: top,
		AttackTrends: trend,
		TimeOfDay:    hours,
		Source:       stats.Source,
	}
}
