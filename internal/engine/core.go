package engine

/*
Core — цикл событий телеметрии. Единственная горутина владеет history.Store,
selection.Coordinator и ingest.Pipeline; всё остальное (бутстрап, живой канал,
HTTP-клики) присылает события в канал events и никогда не трогает состояние напрямую.

Наружу публикуется неизменяемый State через atomic.Pointer: читатели (view-адаптеры,
/ws/dashboard) берут последнюю версию без блокировок и без копирования окна.
*/

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xela07ax/attackmap/internal/connectors"
	"github.com/xela07ax/attackmap/internal/domain"
	"github.com/xela07ax/attackmap/internal/history"
	"github.com/xela07ax/attackmap/internal/ingest"
	"github.com/xela07ax/attackmap/internal/selection"
	"go.uber.org/zap"
)

var (
	ErrStopped        = errors.New("engine: stopped")
	ErrAlreadyRunning = errors.New("engine: already running")
)

// SnapshotSource отдаёт одноразовую начальную выгрузку окна.
type SnapshotSource interface {
	Snapshot(ctx context.Context) ([]domain.AttackRecord, error)
}

// State не изменяется после публикации.
type State struct {
	Version   uint64
	Window    *history.Snapshot
	Selection selection.State
	Status    domain.LiveStatus
}

type Core struct {
	store     *history.Store
	selection *selection.Coordinator
	pipeline  *ingest.Pipeline
	boot      SnapshotSource        // nil: стартуем с пустого окна
	live      connectors.LiveSource // nil: только снапшот
	metrics   *Metrics
	logger    *zap.Logger

	events chan event
	done   chan struct{}
	state  atomic.Pointer[State]
	run    atomic.Bool

	// Принадлежат циклу
	status  domain.LiveStatus
	version uint64

	subsMu sync.Mutex
	subs   map[chan struct{}]struct{}
}

func NewCore(store *history.Store, boot SnapshotSource, live connectors.LiveSource, metrics *Metrics, logger *zap.Logger) *Core {
	logger = logger.Named("engine")
	sel := selection.NewCoordinator(logger)

	c := &Core{
		store:     store,
		selection: sel,
		pipeline:  ingest.NewPipeline(store, sel, logger),
		boot:      boot,
		live:      live,
		metrics:   metrics,
		logger:    logger,
		events:    make(chan event, 64),
		done:      make(chan struct{}),
		status:    domain.LiveStatus{Phase: domain.PhaseBootstrapping},
		subs:      make(map[chan struct{}]struct{}),
	}

	sel.Subscribe(func(prev, next selection.State, source selection.Source) {
		c.metrics.SelectionChanges.WithLabelValues(string(source)).Inc()
		c.logger.Debug("selection changed",
			zap.String("prev", prev.ID),
			zap.String("next", next.ID),
			zap.String("source", string(source)),
		)
	})

	c.state.Store(&State{Window: store.Snapshot(), Status: c.status})
	return c
}

// State безопасно вызывать из любых горутин.
func (c *Core) State() *State { return c.state.Load() }

// Done закрывается после остановки цикла.
func (c *Core) Done() <-chan struct{} { return c.done }

// Subscribe возвращает канал уведомлений о новых версиях состояния.
// Уведомления схлопываются: медленный подписчик увидит только последнюю версию.
func (c *Core) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	c.subsMu.Lock()
	c.subs[ch] = struct{}{}
	c.subsMu.Unlock()

	return ch, func() {
		c.subsMu.Lock()
		delete(c.subs, ch)
		c.subsMu.Unlock()
	}
}

// Run крутит цикл до отмены ctx. Бутстрап и живой канал запускаются
// параллельно: живые батчи, пришедшие раньше снапшота, буферизуются пайплайном.
func (c *Core) Run(ctx context.Context) error {
	if !c.run.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.runBootstrap(ctx)
	}()
	if c.live != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.runLive(ctx)
		}()
	}

	c.logger.Info("engine started", zap.Int("capacity", c.store.Capacity()), zap.Bool("live", c.live != nil))

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			// Источники сами выходят по ctx: их отправки событий тоже слушают ctx.Done
			wg.Wait()
			c.logger.Info("engine stopped")
			return nil
		case ev := <-c.events:
			ev.apply(c)
		}
	}
}

// Select приходит из клика по списку или карте.
func (c *Core) Select(ctx context.Context, id string, source selection.Source) (selection.State, error) {
	return c.command(ctx, selectCmd{id: id, source: source, reply: make(chan selection.State, 1)})
}

func (c *Core) Clear(ctx context.Context, source selection.Source) (selection.State, error) {
	return c.command(ctx, selectCmd{source: source, reply: make(chan selection.State, 1)})
}

func (c *Core) command(ctx context.Context, cmd selectCmd) (selection.State, error) {
	select {
	case c.events <- cmd:
	case <-c.done:
		return selection.State{}, ErrStopped
	case <-ctx.Done():
		return selection.State{}, ctx.Err()
	}
	select {
	case s := <-cmd.reply:
		return s, nil
	case <-c.done:
		return selection.State{}, ErrStopped
	case <-ctx.Done():
		return selection.State{}, ctx.Err()
	}
}

func (c *Core) runBootstrap(ctx context.Context) {
	start := time.Now()
	var (
		records []domain.AttackRecord
		err     error
	)
	if c.boot != nil {
		records, err = c.boot.Snapshot(ctx)
	}
	// Поздний ответ после остановки просто теряется
	c.send(ctx, bootstrapDone{records: records, err: err, took: time.Since(start)})
}

func (c *Core) runLive(ctx context.Context) {
	sink := &liveSink{core: c, ctx: ctx}
	err := c.live.Run(ctx, sink)
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = errors.New("live channel closed")
	}
	sink.Disconnected(err)
}

func (c *Core) send(ctx context.Context, ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Core) shutdown() {
	c.pipeline.Close()
	c.status.Phase = domain.PhaseClosed
	c.status.Connected = false
	c.metrics.LiveConnected.Set(0)
	c.publish(true)
}

// publish выкладывает новую версию состояния. при notify=false обновился только
// статус (например, пришёл ping): читатели увидят его, но кадры не рассылаются.
func (c *Core) publish(notify bool) {
	c.version++
	c.state.Store(&State{
		Version:   c.version,
		Window:    c.store.Snapshot(),
		Selection: c.selection.Current(),
		Status:    c.status,
	})
	if !notify {
		return
	}

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (c *Core) record(res ingest.Result) {
	if res.Applied > 0 {
		c.metrics.RecordsIngested.Add(float64(res.Applied))
	}
	if res.Evicted > 0 {
		c.metrics.RecordsEvicted.Add(float64(res.Evicted))
	}
	c.metrics.WindowSize.Set(float64(c.store.Snapshot().Len()))
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ingest.ErrUnknownMessageType):
		return "unknown_type"
	case errors.Is(err, ingest.ErrMalformedPayload):
		return "malformed"
	case errors.Is(err, ingest.ErrClosed):
		return "closed"
	default:
		return "other"
	}
}

// События цикла.

type event interface {
	apply(c *Core)
}

type bootstrapDone struct {
	records []domain.AttackRecord
	err     error
	took    time.Duration
}

func (e bootstrapDone) apply(c *Core) {
	res, err := c.pipeline.ApplyBootstrap(e.records, e.err)
	if err != nil && err != e.err {
		c.logger.Debug("bootstrap result ignored", zap.Error(err))
		return
	}

	c.metrics.BootstrapDuration.Observe(e.took.Seconds())
	if e.err != nil {
		c.status.BootstrapError = e.err.Error()
	}
	c.status.Phase = c.pipeline.Phase()
	c.record(res)
	c.publish(true)
}

type liveConnected struct{}

func (liveConnected) apply(c *Core) {
	c.status.Connected = true
	c.status.LastError = ""
	c.metrics.LiveConnected.Set(1)
	c.publish(true)
}

type liveDisconnected struct{ err error }

func (e liveDisconnected) apply(c *Core) {
	c.status.Connected = false
	if e.err != nil {
		c.status.LastError = e.err.Error()
	}
	c.metrics.LiveConnected.Set(0)
	c.logger.Warn("live channel disconnected", zap.Error(e.err))
	c.publish(true)
}

type liveMessage struct {
	raw []byte
	at  time.Time
}

func (e liveMessage) apply(c *Core) {
	at := e.at
	c.status.LastMessageAt = &at

	res, err := c.pipeline.HandleMessage(e.raw)
	if err != nil {
		c.metrics.MessagesDropped.WithLabelValues(dropReason(err)).Inc()
		c.status.DroppedMessages++
		c.publish(false)
		return
	}

	c.metrics.Messages.WithLabelValues(string(res.Type)).Inc()
	if res.Dropped > 0 {
		c.metrics.MessagesDropped.WithLabelValues("invalid_record").Add(float64(res.Dropped))
	}
	c.record(res)
	c.publish(res.Applied > 0 || res.Cleared)
}

type selectCmd struct {
	id     string
	source selection.Source
	reply  chan selection.State
}

func (e selectCmd) apply(c *Core) {
	prev := c.selection.Current()
	c.selection.Select(e.id, e.source) // Пустой id == Clear
	next := c.selection.Current()
	if next != prev {
		c.publish(true)
	}
	e.reply <- next
}

// liveSink переводит колбэки источника в события цикла.
type liveSink struct {
	core *Core
	ctx  context.Context
}

func (s *liveSink) Connected() { s.core.send(s.ctx, liveConnected{}) }

func (s *liveSink) Message(raw []byte) {
	s.core.send(s.ctx, liveMessage{raw: raw, at: time.Now().UTC()})
}

func (s *liveSink) Disconnected(err error) { s.core.send(s.ctx, liveDisconnected{err: err}) }
