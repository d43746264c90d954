package connectors

import (
	"fmt"
	"math/rand/v2" // Используем v2 для Go 1.25
	"sync"
	"time"

	"github.com/xela07ax/attackmap/internal/domain"
)

type origin struct {
	city, region, country string
	lat, lon              float64
}

// Набор типовых источников атак для генератора.
var origins = []origin{
	{"Beijing", "Beijing", "CN", 39.9042, 116.4074},
	{"Shanghai", "Shanghai", "CN", 31.2304, 121.4737},
	{"Moscow", "Moscow", "RU", 55.7558, 37.6173},
	{"Sao Paulo", "Sao Paulo", "BR", -23.5505, -46.6333},
	{"Amsterdam", "North Holland", "NL", 52.3676, 4.9041},
	{"Frankfurt", "Hesse", "DE", 50.1109, 8.6821},
	{"Ashburn", "Virginia", "US", 39.0438, -77.4874},
	{"Mumbai", "Maharashtra", "IN", 19.0760, 72.8777},
	{"Seoul", "Seoul", "KR", 37.5665, 126.9780},
	{"Hanoi", "Hanoi", "VN", 21.0278, 105.8342},
	{"Lagos", "Lagos", "NG", 6.5244, 3.3792},
	{"Singapore", "Singapore", "SG", 1.3521, 103.8198},
}

var ports = []int{22, 22, 22, 2222, 23, 3389, 5900}

// MockFeed генерирует правдоподобные записи неудачных входов.
// Часть записей намеренно без геолокации, как у реального GeoIP.
type MockFeed struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

func NewMockFeed(seed uint64) *MockFeed {
	return &MockFeed{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now: time.Now,
	}
}

func (f *MockFeed) Next() domain.AttackRecord {
	f.mu.Lock()
	defer f.mu.Unlock()

	port := ports[f.rng.IntN(len(ports))]
	r := domain.AttackRecord{
		IPAddress: fmt.Sprintf("%d.%d.%d.%d", 1+f.rng.IntN(222), f.rng.IntN(256), f.rng.IntN(256), 1+f.rng.IntN(254)),
		Timestamp: f.now().UTC(),
		Port:      &port,
		Attempts:  1 + f.rng.IntN(12),
	}

	// ~10% без геолокации
	if f.rng.IntN(10) == 0 {
		return r
	}
	o := origins[f.rng.IntN(len(origins))]
	// Разброс в пределах ~50 км, чтобы точки не слипались
	lat := o.lat + (f.rng.Float64()-0.5)*0.8
	lon := o.lon + (f.rng.Float64()-0.5)*0.8
	r.City, r.Region, r.Country = o.city, o.region, o.country
	r.Latitude, r.Longitude = &lat, &lon
	return r
}

// Batch отдаёт n записей newest-first.
func (f *MockFeed) Batch(n int) []domain.AttackRecord {
	out := make([]domain.AttackRecord, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = f.Next()
	}
	return out
}
