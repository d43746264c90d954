package service

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/attackmap/internal/aggregate"
	"github.com/xela07ax/attackmap/internal/domain"
	"github.com/xela07ax/attackmap/internal/engine"
	"github.com/xela07ax/attackmap/internal/selection"
	"go.uber.org/zap"
)

const (
	ChartsLocal  = "local"
	ChartsRemote = "remote"
)

// Engine — то, что консоли нужно от engine.Core.
type Engine interface {
	State() *engine.State
	Select(ctx context.Context, id string, source selection.Source) (selection.State, error)
	Clear(ctx context.Context, source selection.Source) (selection.State, error)
	Subscribe() (<-chan struct{}, func())
	Done() <-chan struct{}
}

// RemoteStats (engine.Upstream)
type RemoteStats interface {
	RemoteStats(ctx context.Context, topN int) (domain.GlobalStats, error)
}

type DashboardOptions struct {
	Location     *time.Location
	TimeFormat   string
	Server       domain.LatLon
	ChartsSource string
	RemoteTTL    time.Duration // Кэш серверных агрегатов, чтобы push-кадры не долбили апстрим
}

type DashboardService struct {
	engine Engine
	remote RemoteStats
	opts   DashboardOptions
	logger *zap.Logger

	mu    sync.Mutex
	cache map[int]cachedStats // по topN
}

type cachedStats struct {
	at    time.Time
	stats domain.GlobalStats
}

func NewDashboardService(e Engine, remote RemoteStats, opts DashboardOptions, logger *zap.Logger) *DashboardService {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.TimeFormat == "" {
		opts.TimeFormat = time.DateTime
	}
	if opts.ChartsSource == "" {
		opts.ChartsSource = ChartsLocal
	}
	if opts.RemoteTTL <= 0 {
		opts.RemoteTTL = 5 * time.Second
	}
	return &DashboardService{
		engine: e,
		remote: remote,
		opts:   opts,
		logger: logger.Named("dashboard-service"),
		cache:  make(map[int]cachedStats),
	}
}

func (s *DashboardService) Engine() Engine { return s.engine }

func (s *DashboardService) Logs() domain.ListView {
	st := s.engine.State()
	return BuildListView(st.Window.All(), st.Selection, s.opts.Location, s.opts.TimeFormat)
}

func (s *DashboardService) Map() domain.MapView {
	st := s.engine.State()
	return BuildMapView(st.Window.All(), st.Selection, s.opts.Server)
}

func (s *DashboardService) Status() domain.LiveStatus {
	return statusOf(s.engine.State())
}

func statusOf(st *engine.State) domain.LiveStatus {
	status := st.Status
	if head, ok := st.Window.Head(); ok {
		ts := head.Timestamp
		status.LatestAttackAt = &ts
	}
	return status
}

func (s *DashboardService) Selection() (selection.State, int) {
	st := s.engine.State()
	if !st.Selection.Selected() {
		return st.Selection, -1
	}
	return st.Selection, st.Window.IndexOf(st.Selection.ID)
}

func (s *DashboardService) Select(ctx context.Context, id string, source selection.Source) (selection.State, error) {
	return s.engine.Select(ctx, id, source)
}

func (s *DashboardService) Clear(ctx context.Context, source selection.Source) (selection.State, error) {
	return s.engine.Clear(ctx, source)
}

// Charts считает агрегаты для ширины экрана width.
func (s *DashboardService) Charts(ctx context.Context, width int) domain.ChartsView {
	return BuildChartsView(s.stats(ctx, s.engine.State(), TopNForWidth(width)))
}

// Frame собирает все представления одной версии состояния.
func (s *DashboardService) Frame(ctx context.Context, width int) domain.DashboardFrame {
	st := s.engine.State()
	records := st.Window.All()
	return domain.DashboardFrame{
		Version:   st.Version,
		List:      BuildListView(records, st.Selection, s.opts.Location, s.opts.TimeFormat),
		Map:       BuildMapView(records, st.Selection, s.opts.Server),
		Charts:    BuildChartsView(s.stats(ctx, st, TopNForWidth(width))),
		Selection: st.Selection.ID,
		Status:    statusOf(st),
	}
}

// stats: локальный расчёт основной и запасной для remote.
func (s *DashboardService) stats(ctx context.Context, st *engine.State, topN int) domain.GlobalStats {
	local := func() domain.GlobalStats {
		return aggregate.Compute(st.Window.All(), aggregate.Options{TopN: topN, Location: s.opts.Location})
	}
	if s.opts.ChartsSource != ChartsRemote || s.remote == nil {
		return local()
	}

	s.mu.Lock()
	c, ok := s.cache[topN]
	s.mu.Unlock()
	if ok && time.Since(c.at) < s.opts.RemoteTTL {
		return c.stats
	}

	stats, err := s.remote.RemoteStats(ctx, topN)
	if err != nil {
		s.logger.Warn("remote aggregates unavailable, falling back to local", zap.Error(err))
		return local()
	}

	s.mu.Lock()
	s.cache[topN] = cachedStats{at: time.Now(), stats: stats}
	s.mu.Unlock()
	return stats
}
