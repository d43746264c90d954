package history

/*
Store — единственный источник правды для окна последних атак (HistoryWindow).

- Окно упорядочено newest-first, порядок вставки важнее timestamp.
- Длина окна никогда не превышает capacity, вытеснение идёт с хвоста.
- Copy-on-write: каждая мутация публикует новый неизменяемый Snapshot через atomic.Pointer,
  поэтому читатели (агрегаты, view-адаптеры) никогда не видят частично применённый батч.
- Писатель ровно один: Bootstrap/Ingest вызываются только из ingest.Pipeline внутри
  цикла событий engine.Core. Чтение (Snapshot) безопасно из любой горутины.
*/

import (
	"errors"
	"slices"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/xela07ax/attackmap/internal/domain"
)

const DefaultCapacity = 100

var ErrAlreadyBootstrapped = errors.New("history: bootstrap after ingestion started")

type IDSet map[string]struct{}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Snapshot не изменяется после публикации.
type Snapshot struct {
	Version uint64
	records []domain.AttackRecord
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.records)
}

// Records возвращает собственную копию записей, её можно менять.
// Рендер читает через All, копия нужна тестам и внешним потребителям.
func (s *Snapshot) Records() []domain.AttackRecord {
	if s == nil {
		return []domain.AttackRecord{}
	}
	return slices.Clone(s.records)
}

// All отдаёт записи без копирования, только для чтения.
func (s *Snapshot) All() []domain.AttackRecord {
	if s == nil {
		return nil
	}
	return s.records
}

// Head отдаёт самую свежую запись (время последней атаки в статусе).
func (s *Snapshot) Head() (domain.AttackRecord, bool) {
	if s.Len() == 0 {
		return domain.AttackRecord{}, false
	}
	return s.records[0], true
}

// IndexOf вычисляет позицию записи в момент рендера. Позиции нигде не хранятся.
func (s *Snapshot) IndexOf(id string) int {
	if s == nil || id == "" {
		return -1
	}
	return slices.IndexFunc(s.records, func(r domain.AttackRecord) bool { return r.ID == id })
}

type Store struct {
	capacity int
	current  atomic.Pointer[Snapshot]
	started  bool // Был bootstrap или непустой ingest
}

func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Store{capacity: capacity}
	s.current.Store(&Snapshot{records: []domain.AttackRecord{}})
	return s
}

func (s *Store) Capacity() int { return s.capacity }

// Snapshot возвращает последнюю опубликованную версию окна.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Bootstrap заменяет окно целиком. Допустим только до начала ингеста.
func (s *Store) Bootstrap(records []domain.AttackRecord) error {
	if s.started {
		return ErrAlreadyBootstrapped
	}
	s.started = true

	n := min(len(records), s.capacity)
	window := make([]domain.AttackRecord, n)
	copy(window, records[:n])
	assignMissingIDs(window)

	s.publish(window)
	return nil
}

// Ingest добавляет батч в голову окна: batch[0] становится новой головой.
// Возвращает идентификаторы, вытесненные из окна (пустое множество, если таких нет).
func (s *Store) Ingest(batch []domain.AttackRecord) IDSet {
	evicted := IDSet{}
	if len(batch) == 0 {
		return evicted
	}
	s.started = true

	// Батч больше окна сам обрезается до самых свежих CAP записей
	if len(batch) > s.capacity {
		batch = batch[:s.capacity]
	}

	old := s.current.Load().records
	keep := min(len(old), s.capacity-len(batch))

	window := make([]domain.AttackRecord, 0, len(batch)+keep)
	window = append(window, batch...)
	assignMissingIDs(window)
	window = append(window, old[:keep]...)

	present := make(IDSet, len(window))
	for _, r := range window {
		present[r.ID] = struct{}{}
	}
	for _, r := range old[keep:] {
		// Дубликат id мог остаться в окне, тогда это не вытеснение
		if !present.Has(r.ID) {
			evicted[r.ID] = struct{}{}
		}
	}

	s.publish(window)
	return evicted
}

func (s *Store) publish(window []domain.AttackRecord) {
	prev := s.current.Load()
	s.current.Store(&Snapshot{Version: prev.Version + 1, records: window})
}

func assignMissingIDs(records []domain.AttackRecord) {
	for i := range records {
		if records[i].ID == "" {
			records[i].ID = uuid.NewString()
		}
	}
}
