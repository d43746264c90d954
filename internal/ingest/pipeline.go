package ingest

import (
	"errors"

	"github.com/xela07ax/attackmap/internal/domain"
	"github.com/xela07ax/attackmap/internal/history"
	"github.com/xela07ax/attackmap/internal/selection"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("ingest: pipeline closed")

// Result описывает эффект одного сообщения или бутстрапа.
type Result struct {
	Type     MessageType
	Applied  int // Записи, попавшие в окно
	Dropped  int // Невалидные записи внутри батча
	Evicted  int
	Buffered bool // Батч отложен до завершения бутстрапа
	Cleared  bool // Выделение сброшено вытеснением
}

// Pipeline применяет бутстрап и живые батчи к окну строго в порядке прихода.
// Живые батчи, пришедшие до бутстрапа, копятся в pending и применяются
// поверх снапшота, так что более ранний снимок не затирает более новые данные.
//
// Не потокобезопасен: вызывается только из цикла engine.Core.
type Pipeline struct {
	store     *history.Store
	selection *selection.Coordinator
	logger    *zap.Logger

	phase   domain.Phase
	pending [][]domain.AttackRecord
}

func NewPipeline(store *history.Store, sel *selection.Coordinator, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		selection: sel,
		logger:    logger.Named("ingest"),
		phase:     domain.PhaseBootstrapping,
	}
}

func (p *Pipeline) Phase() domain.Phase { return p.phase }

func (p *Pipeline) Pending() int { return len(p.pending) }

// ApplyBootstrap применяет результат начальной выгрузки. При fetchErr окно
// остаётся пустым, но пайплайн всё равно переходит в live: отложенные батчи
// применяются, живой канал продолжает работать.
func (p *Pipeline) ApplyBootstrap(records []domain.AttackRecord, fetchErr error) (Result, error) {
	if p.phase == domain.PhaseClosed {
		return Result{}, ErrClosed
	}
	if p.phase != domain.PhaseBootstrapping {
		return Result{}, history.ErrAlreadyBootstrapped
	}

	res := Result{}
	if fetchErr != nil {
		p.logger.Warn("bootstrap failed, continuing with live feed only", zap.Error(fetchErr))
		records = nil
	}
	if err := p.store.Bootstrap(records); err != nil {
		return Result{}, err
	}
	res.Applied = p.store.Snapshot().Len()
	p.phase = domain.PhaseLive

	pending := p.pending
	p.pending = nil
	for _, batch := range pending {
		r := p.apply(batch)
		res.Applied += r.Applied
		res.Evicted += r.Evicted
		res.Cleared = res.Cleared || r.Cleared
	}

	p.logger.Info("bootstrap applied",
		zap.Int("window", p.store.Snapshot().Len()),
		zap.Int("replayed_batches", len(pending)),
	)
	return res, fetchErr
}

// HandleMessage разбирает и применяет одно сообщение живого канала.
// Батч применяется целиком одной публикацией либо не применяется вовсе.
func (p *Pipeline) HandleMessage(raw []byte) (Result, error) {
	if p.phase == domain.PhaseClosed {
		return Result{}, ErrClosed
	}

	msg, err := DecodeMessage(raw)
	if err != nil {
		p.logger.Warn("dropping live message", zap.Error(err), zap.Int("bytes", len(raw)))
		return Result{}, err
	}

	res := Result{Type: msg.Type, Dropped: msg.Dropped}
	if msg.Dropped > 0 {
		p.logger.Debug("dropped invalid records from batch", zap.Int("dropped", msg.Dropped))
	}
	if msg.Type != TypeLogs || len(msg.Records) == 0 {
		return res, nil
	}

	if p.phase == domain.PhaseBootstrapping {
		p.pending = append(p.pending, msg.Records)
		res.Buffered = true
		return res, nil
	}

	r := p.apply(msg.Records)
	res.Applied, res.Evicted, res.Cleared = r.Applied, r.Evicted, r.Cleared
	return res, nil
}

// Close переводит пайплайн в терминальное состояние, отложенное отбрасывается.
func (p *Pipeline) Close() {
	if p.phase == domain.PhaseClosed {
		return
	}
	if n := len(p.pending); n > 0 {
		p.logger.Debug("discarding pending batches on close", zap.Int("batches", n))
	}
	p.pending = nil
	p.phase = domain.PhaseClosed
}

func (p *Pipeline) apply(batch []domain.AttackRecord) Result {
	evicted := p.store.Ingest(batch)
	applied := len(batch)
	if c := p.store.Capacity(); applied > c {
		applied = c
	}
	return Result{
		Type:    TypeLogs,
		Applied: applied,
		Evicted: len(evicted),
		Cleared: p.selection.OnEvicted(evicted),
	}
}
