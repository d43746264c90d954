package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xela07ax/attackmap/internal/domain"
	"github.com/xela07ax/attackmap/internal/engine"
	"github.com/xela07ax/attackmap/internal/history"
	"github.com/xela07ax/attackmap/internal/selection"
	"go.uber.org/zap/zaptest"
)

// fakeEngine публикует заранее собранное состояние.
type fakeEngine struct {
	state *engine.State
	done  chan struct{}
}

func newFakeEngine(t *testing.T, records []domain.AttackRecord, sel selection.State) *fakeEngine {
	t.Helper()
	store := history.NewStore(history.DefaultCapacity)
	if err := store.Bootstrap(records); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return &fakeEngine{
		state: &engine.State{Version: 7, Window: store.Snapshot(), Selection: sel, Status: domain.LiveStatus{Phase: domain.PhaseLive, Connected: true}},
		done:  make(chan struct{}),
	}
}

func (f *fakeEngine) State() *engine.State { return f.state }
func (f *fakeEngine) Select(ctx context.Context, id string, source selection.Source) (selection.State, error) {
	return selection.State{ID: id}, nil
}
func (f *fakeEngine) Clear(ctx context.Context, source selection.Source) (selection.State, error) {
	return selection.State{}, nil
}
func (f *fakeEngine) Subscribe() (<-chan struct{}, func()) { return make(chan struct{}), func() {} }
func (f *fakeEngine) Done() <-chan struct{}                { return f.done }

type fakeRemote struct {
	stats domain.GlobalStats
	err   error
	calls int
}

func (r *fakeRemote) RemoteStats(ctx context.Context, topN int) (domain.GlobalStats, error) {
	r.calls++
	return r.stats, r.err
}

func TestDashboardFrameLocal(t *testing.T) {
	e := newFakeEngine(t, sampleRecords(), selection.State{ID: "r1"})
	s := NewDashboardService(e, nil, DashboardOptions{Location: time.UTC}, zaptest.NewLogger(t))

	frame := s.Frame(context.Background(), 500)
	if frame.Version != 7 || frame.Selection != "r1" || frame.Status.Phase != domain.PhaseLive {
		t.Fatalf("unexpected frame header %+v", frame)
	}
	if at := frame.Status.LatestAttackAt; at == nil || !at.Equal(time.Date(2025, 3, 1, 23, 30, 0, 0, time.UTC)) {
		t.Fatalf("expected latest attack from r1, got %v", at)
	}
	if frame.Charts.Source != "local" || frame.Charts.Total != 3 {
		t.Fatalf("expected local charts with total 3, got %+v", frame.Charts)
	}
	// US, Unknown, CN: по порядку первого появления при равных счётах
	if got := frame.Charts.TopCountries.Labels; len(got) != 3 || got[0] != "US" || got[1] != domain.Unknown {
		t.Fatalf("unexpected top countries %v", got)
	}
	if frame.Charts.TimeOfDay.Datasets[0].Data[3] != 2 {
		t.Fatalf("expected 2 attacks at 03h, got %v", frame.Charts.TimeOfDay.Datasets[0].Data)
	}
	if len(frame.Map.Points) != 2 || frame.List.SelectedIndex != 0 {
		t.Fatalf("unexpected map/list %+v / %d", frame.Map.Points, frame.List.SelectedIndex)
	}
}

func TestDashboardChartsRemoteWithCache(t *testing.T) {
	e := newFakeEngine(t, sampleRecords(), selection.State{})
	remote := &fakeRemote{stats: domain.GlobalStats{Total: 5000, Source: "remote", TopCountries: []domain.CountryCount{{Country: "CN", Count: 4000}}}}
	s := NewDashboardService(e, remote, DashboardOptions{Location: time.UTC, ChartsSource: ChartsRemote, RemoteTTL: time.Minute}, zaptest.NewLogger(t))

	first := s.Charts(context.Background(), 1200)
	second := s.Charts(context.Background(), 1200)
	if first.Total != 5000 || second.Source != "remote" {
		t.Fatalf("expected remote stats, got %+v", first)
	}
	if remote.calls != 1 {
		t.Fatalf("expected cached remote stats, got %d calls", remote.calls)
	}
}

func TestDashboardChartsRemoteFallback(t *testing.T) {
	e := newFakeEngine(t, sampleRecords(), selection.State{})
	remote := &fakeRemote{err: errors.New("upstream down")}
	s := NewDashboardService(e, remote, DashboardOptions{Location: time.UTC, ChartsSource: ChartsRemote}, zaptest.NewLogger(t))

	charts := s.Charts(context.Background(), 800)
	if charts.Source != "local" || charts.Total != 3 {
		t.Fatalf("expected local fallback, got %+v", charts)
	}
}

func TestDashboardSelectionIndex(t *testing.T) {
	e := newFakeEngine(t, sampleRecords(), selection.State{ID: "r2"})
	s := NewDashboardService(e, nil, DashboardOptions{}, zaptest.NewLogger(t))

	sel, idx := s.Selection()
	if sel.ID != "r2" || idx != 1 {
		t.Fatalf("expected r2 at 1, got %+v at %d", sel, idx)
	}

	e.state = &engine.State{Window: e.state.Window, Selection: selection.State{ID: "gone"}}
	if _, idx := s.Selection(); idx != -1 {
		t.Fatalf("expected -1 for selection outside window, got %d", idx)
	}
}

func TestDashboardStatusEmptyWindow(t *testing.T) {
	e := newFakeEngine(t, nil, selection.State{})
	s := NewDashboardService(e, nil, DashboardOptions{}, zaptest.NewLogger(t))

	if st := s.Status(); st.LatestAttackAt != nil || st.Phase != domain.PhaseLive {
		t.Fatalf("expected live status without latest attack, got %+v", st)
	}
}
