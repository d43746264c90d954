package feedsim

/*
Batcher собирает сгенерированные записи в одно сообщение "logs" на каждый flush.

- Log не блокирует: при переполнении очереди запись отбрасывается (load shedding).
- Flush по таймеру или по достижении batchSize.
- Stop запирает вход, закрывает канал и ждёт, пока воркер вычитает остатки
  и сделает финальный flush.
*/

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xela07ax/attackmap/internal/domain"
	"go.uber.org/zap"
)

// Publisher рассылает готовый батч (newest-first) живым подписчикам.
type Publisher interface {
	Publish(ctx context.Context, batch []domain.AttackRecord) error
}

type Batcher struct {
	ch         chan domain.AttackRecord
	store      Storage
	publishers []Publisher
	batchSize  int
	interval   time.Duration
	logger     *zap.Logger
	wg         sync.WaitGroup

	// Закрытие канала под write-локом: Log никогда не пишет в закрытый канал
	mu     sync.RWMutex
	closed bool
}

func NewBatcher(store Storage, batchSize int, interval time.Duration, logger *zap.Logger, publishers ...Publisher) *Batcher {
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Batcher{
		ch:         make(chan domain.AttackRecord, 10000),
		store:      store,
		publishers: publishers,
		batchSize:  batchSize,
		interval:   interval,
		logger:     logger.With(zap.String("mod", "batcher")),
	}
}

func (b *Batcher) Start() {
	b.wg.Add(1)
	go b.worker()
}

// Stop запирает вход и ждёт финального flush.
func (b *Batcher) Stop() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.logger.Info("stopping batcher: closing channel and flushing buffer...")
	close(b.ch)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("batcher stopped gracefully")
}

func (b *Batcher) Log(r domain.AttackRecord) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.logger.Warn("record dropped: batcher is stopping", zap.String("ip", r.IPAddress))
		return
	}

	select {
	case b.ch <- r:
	default:
		b.logger.Error("batch_buffer_overflow", zap.String("ip", r.IPAddress))
	}
}

func (b *Batcher) worker() {
	defer b.wg.Done()

	batch := make([]domain.AttackRecord, 0, b.batchSize)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Копим oldest-first, на провод уходит newest-first
		out := slices.Clone(batch)
		slices.Reverse(out)
		batch = batch[:0]

		// Background: при остановке основной контекст уже отменён
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.store.WriteBatch(ctx, out); err != nil {
			b.logger.Error("batch write failed", zap.Error(err), zap.Int("size", len(out)))
		}
		for _, p := range b.publishers {
			if err := p.Publish(ctx, out); err != nil {
				b.logger.Warn("batch publish failed", zap.Error(err))
			}
		}
	}

	for {
		select {
		case r, ok := <-b.ch:
			if !ok {
				flush() // Финальный сброс
				b.logger.Info("batch worker finished")
				return
			}
			batch = append(batch, r)
			if len(batch) >= b.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
