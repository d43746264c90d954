package feedsim

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/attackmap/internal/aggregate"
	"github.com/xela07ax/attackmap/internal/domain"
)

// Storage хранит историю эмулятора и считает по ней агрегаты.
type Storage interface {
	// WriteBatch сохраняет пачку записей (newest-first) за один раз
	WriteBatch(ctx context.Context, records []domain.AttackRecord) error
	Recent(ctx context.Context, limit int, locatedOnly bool) ([]domain.AttackRecord, error)
	Count(ctx context.Context) (int64, error)
	TopCountries(ctx context.Context, limit int) ([]domain.CountryCount, error)
	Trends(ctx context.Context) ([]domain.DateCount, error)
	TimeOfDay(ctx context.Context) ([]domain.HourCount, error)
}

// MemoryStorage держит последние retain записей; агрегаты считаются по ним в UTC.
type MemoryStorage struct {
	mu      sync.RWMutex
	retain  int
	records []domain.AttackRecord // newest-first
	total   int64                 // всего записано, включая вытесненные
}

func NewMemoryStorage(retain int) *MemoryStorage {
	if retain <= 0 {
		retain = 1000
	}
	return &MemoryStorage{retain: retain}
}

func (m *MemoryStorage) WriteBatch(_ context.Context, records []domain.AttackRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make([]domain.AttackRecord, 0, min(len(records)+len(m.records), m.retain))
	next = append(next, records...)
	next = append(next, m.records...)
	if len(next) > m.retain {
		next = next[:m.retain]
	}
	m.records = next
	m.total += int64(len(records))
	return nil
}

func (m *MemoryStorage) Recent(_ context.Context, limit int, locatedOnly bool) ([]domain.AttackRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.AttackRecord, 0, min(limit, len(m.records)))
	for _, r := range m.records {
		if len(out) >= limit {
			break
		}
		if locatedOnly && !r.HasLocation() {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *MemoryStorage) Count(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total, nil
}

func (m *MemoryStorage) TopCountries(_ context.Context, limit int) ([]domain.CountryCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return aggregate.TopCountries(m.records, limit), nil
}

func (m *MemoryStorage) Trends(context.Context) ([]domain.DateCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return aggregate.Trend(m.records, time.UTC).Points, nil
}

func (m *MemoryStorage) TimeOfDay(context.Context) ([]domain.HourCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return aggregate.HourCounts(aggregate.HourOfDay(m.records, time.UTC)), nil
}
