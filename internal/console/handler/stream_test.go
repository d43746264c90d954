package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xela07ax/attackmap/internal/domain"
	"go.uber.org/zap/zaptest"
)

type fakeUpdates struct {
	mu      sync.Mutex
	ch      chan struct{}
	done    chan struct{}
	subbed  chan struct{}
	version uint64
}

func newFakeUpdates() *fakeUpdates {
	return &fakeUpdates{ch: make(chan struct{}, 1), done: make(chan struct{}), subbed: make(chan struct{})}
}

func (f *fakeUpdates) Subscribe() (<-chan struct{}, func()) {
	close(f.subbed)
	return f.ch, func() {}
}

func (f *fakeUpdates) Done() <-chan struct{} { return f.done }

func (f *fakeUpdates) bump() {
	f.mu.Lock()
	f.version++
	f.mu.Unlock()
	f.ch <- struct{}{}
}

func (f *fakeUpdates) Frame(_ context.Context, width int) domain.DashboardFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	frame := domain.DashboardFrame{Version: f.version}
	select {
	case <-f.done:
		frame.Status.Phase = domain.PhaseClosed
	default:
		frame.Status.Phase = domain.PhaseLive
	}
	return frame
}

func dialStream(t *testing.T, f *fakeUpdates) *websocket.Conn {
	t.Helper()
	h := NewStreamHandler(f, f, nil, zaptest.NewLogger(t))
	srv := httptest.NewServer(http.HandlerFunc(h.Serve))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/dashboard?width=500"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) domain.DashboardFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame domain.DashboardFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func TestStreamPushesFrames(t *testing.T) {
	f := newFakeUpdates()
	conn := dialStream(t, f)

	if got := readFrame(t, conn); got.Version != 0 {
		t.Fatalf("expected initial frame v0, got v%d", got.Version)
	}

	<-f.subbed
	f.bump()
	if got := readFrame(t, conn); got.Version != 1 {
		t.Fatalf("expected frame v1, got v%d", got.Version)
	}
}

func TestStreamFinalFrameOnShutdown(t *testing.T) {
	f := newFakeUpdates()
	conn := dialStream(t, f)
	readFrame(t, conn)

	close(f.done)
	if got := readFrame(t, conn); got.Status.Phase != domain.PhaseClosed {
		t.Fatalf("expected closed phase, got %s", got.Status.Phase)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}
}

func TestStreamRejectsBadWidth(t *testing.T) {
	f := newFakeUpdates()
	h := NewStreamHandler(f, f, nil, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	h.Serve(rec, httptest.NewRequest(http.MethodGet, "/ws/dashboard?width=wide", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
