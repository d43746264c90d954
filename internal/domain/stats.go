package domain

type CountryCount struct {
	Country string `json:"country"`
	Count   int64  `json:"count"`
}

type DateCount struct {
	Date  string `json:"date"` // YYYY-MM-DD в локальной зоне отображения
	Count int64  `json:"count"`
}

type HourCount struct {
	Hour  int   `json:"hour"`
	Count int64 `json:"count"`
}

// AttackTrend — ряд по датам (по возрастанию) и подпись с общим числом записей окна.
type AttackTrend struct {
	Label  string      `json:"label"`
	Points []DateCount `json:"points"`
}

// Все агрегаты одного снимка окна.
type GlobalStats struct {
	Total        int64          `json:"total"`
	TopCountries []CountryCount `json:"top_countries"`
	Trend        AttackTrend    `json:"trend"`
	HourOfDay    [24]int64      `json:"hour_of_day"`
	Source       string         `json:"source"` // "local" или "remote"
}
