package domain

import (
	"math"
	"time"
)

// Unknown подставляется вместо незаполненных city/region/country.
const Unknown = "Unknown"

// AttackRecord — одна зафиксированная попытка атаки.
// ID выдаётся при ингесте и никогда не является позицией в окне.
type AttackRecord struct {
	ID        string    `json:"id"`
	IPAddress string    `json:"ip_address"`
	Timestamp time.Time `json:"timestamp"` // Всегда UTC (нормализуется в ingest)
	Port      *int      `json:"port,omitempty"`

	City    string `json:"city,omitempty"`
	Region  string `json:"region,omitempty"`
	Country string `json:"country,omitempty"`

	// Координаты валидны только парой: см. HasLocation
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	Attempts int `json:"attempts"` // >= 1, влияет только на визуальный вес
}

// HasLocation сообщает, можно ли показать запись на карте.
// Запись с одной координатой или NaN/Inf остаётся в списке и агрегатах.
func (r AttackRecord) HasLocation() bool {
	if r.Latitude == nil || r.Longitude == nil {
		return false
	}
	return isFinite(*r.Latitude) && isFinite(*r.Longitude)
}

// CountryOrUnknown — ключ группировки для Top-N стран.
func (r AttackRecord) CountryOrUnknown() string {
	return orUnknown(r.Country)
}

func (r AttackRecord) CityOrUnknown() string {
	return orUnknown(r.City)
}

func (r AttackRecord) RegionOrUnknown() string {
	return orUnknown(r.Region)
}

// Weight возвращает attempts с учётом дефолта.
func (r AttackRecord) Weight() int {
	if r.Attempts < 1 {
		return 1
	}
	return r.Attempts
}

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
