package domain

import "time"

type Phase string

const (
	PhaseBootstrapping Phase = "bootstrapping" // Живые батчи буферизуются до применения снапшота
	PhaseLive          Phase = "live"
	PhaseClosed        Phase = "closed"
)

// LiveStatus — то, что UI показывает как "no data" / "disconnected".
type LiveStatus struct {
	Phase           Phase      `json:"phase"`
	Connected       bool       `json:"connected"`
	LastError       string     `json:"last_error,omitempty"`
	BootstrapError  string     `json:"bootstrap_error,omitempty"`
	LastMessageAt   *time.Time `json:"last_message_at,omitempty"`
	LatestAttackAt  *time.Time `json:"latest_attack_at,omitempty"` // Время самой свежей записи окна
	DroppedMessages int64      `json:"dropped_messages"`
}

// Представления для view-адаптеров. Позиции вычисляются только при рендере.

type LogRow struct {
	ID          string    `json:"id"`
	IPAddress   string    `json:"ip_address"`
	Timestamp   time.Time `json:"timestamp"`
	LocalTime   string    `json:"local_time"`
	Port        *int      `json:"port,omitempty"`
	City        string    `json:"city"`
	Region      string    `json:"region"`
	Country     string    `json:"country"`
	Highlighted bool      `json:"highlighted"`
}

type ListView struct {
	Rows          []LogRow `json:"rows"`
	SelectedIndex int      `json:"selected_index"` // -1, если выделенной записи нет в окне
}

type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type LineStyle struct {
	Color   string  `json:"color"`
	Weight  int     `json:"weight"`
	Opacity float64 `json:"opacity"`
}

type MapPoint struct {
	ID          string    `json:"id"`
	Source      LatLon    `json:"source"`
	RadiusM     float64   `json:"radius_m"`
	Attempts    int       `json:"attempts"`
	Line        LineStyle `json:"line"`
	Highlighted bool      `json:"highlighted"`
}

type MapView struct {
	Server   LatLon     `json:"server"`
	Points   []MapPoint `json:"points"`
	Excluded int        `json:"excluded"` // Записи без валидных координат
}

// ChartData повторяет форму данных Chart.js: labels + datasets.
type ChartData struct {
	Labels   []string       `json:"labels"`
	Datasets []ChartDataset `json:"datasets"`
}

type ChartDataset struct {
	Label string  `json:"label"`
	Data  []int64 `json:"data"`
}

type ChartsView struct {
	Total        int64     `json:"total"`
	TopCountries ChartData `json:"top_countries"`
	AttackTrends ChartData `json:"attack_trends"`
	TimeOfDay    ChartData `json:"time_of_day"`
	Source       string    `json:"source"`
}

// Полный кадр, который уходит в браузер.
type DashboardFrame struct {
	Version   uint64     `json:"version"`
	List      ListView   `json:"list"`
	Map       MapView    `json:"map"`
	Charts    ChartsView `json:"charts"`
	Selection string     `json:"selection,omitempty"`
	Status    LiveStatus `json:"status"`
}
