package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xela07ax/attackmap/internal/connectors"
	"go.uber.org/zap/zaptest"
)

// flakyLive: первые fails запусков падают сразу, потом один успешный с обрывом.
type flakyLive struct {
	mu    sync.Mutex
	runs  int
	fails int
}

func (l *flakyLive) Run(ctx context.Context, sink connectors.Sink) error {
	if ctx.Err() != nil {
		return nil
	}
	l.mu.Lock()
	l.runs++
	n := l.runs
	l.mu.Unlock()

	if n <= l.fails {
		return errors.New("dial refused")
	}
	sink.Connected()
	sink.Message([]byte(`{"type":"ping"}`))
	return errors.New("connection reset")
}

type countingSink struct {
	mu           sync.Mutex
	connected    int
	messages     int
	disconnected int
}

func (s *countingSink) Connected()         { s.mu.Lock(); s.connected++; s.mu.Unlock() }
func (s *countingSink) Message([]byte)     { s.mu.Lock(); s.messages++; s.mu.Unlock() }
func (s *countingSink) Disconnected(error) { s.mu.Lock(); s.disconnected++; s.mu.Unlock() }

func TestResilientSourceBacksOffAndResets(t *testing.T) {
	live := &flakyLive{fails: 3}
	r := NewResilientSource(live, 4*time.Millisecond, zaptest.NewLogger(t))
	r.minBackoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	var delays []time.Duration
	r.afterFailed = func(attempt int, delay time.Duration) {
		delays = append(delays, delay)
		if len(delays) == 5 {
			cancel()
		}
	}

	sink := &countingSink{}
	if err := r.Run(ctx, sink); err != nil {
		t.Fatalf("expected nil on cancel, got %v", err)
	}

	// 1,2,4 (cap) для трёх отказов, затем сброс после успешного подключения
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond, time.Millisecond, time.Millisecond}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("expected delays %v, got %v", want, delays)
		}
	}
	if sink.disconnected != 5 || sink.connected != 2 || sink.messages != 2 {
		t.Fatalf("unexpected sink counts %+v", sink)
	}
}

func TestResilientSourceStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewResilientSource(&flakyLive{fails: 100}, time.Minute, zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, &countingSink{}) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
}
