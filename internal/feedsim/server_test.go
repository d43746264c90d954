package feedsim

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xela07ax/attackmap/internal/domain"
	"github.com/xela07ax/attackmap/internal/ingest"
	"go.uber.org/zap/zaptest"
)

type sinkFunc func(domain.AttackRecord)

func (f sinkFunc) Log(r domain.AttackRecord) { f(r) }

func newFeedServer(t *testing.T, store Storage, sink Sink) (*httptest.Server, *Hub) {
	t.Helper()
	hub := NewHub(zaptest.NewLogger(t))
	ts := httptest.NewServer(NewServer(store, sink, hub, zaptest.NewLogger(t)))
	t.Cleanup(ts.Close)
	return ts, hub
}

func TestServerLogsContract(t *testing.T) {
	store := NewMemoryStorage(10)
	_ = store.WriteBatch(context.Background(), []domain.AttackRecord{rec("b", "US", 2, false), rec("a", "CN", 1, true)})
	ts, _ := newFeedServer(t, store, sinkFunc(func(domain.AttackRecord) {}))

	resp, err := http.Get(ts.URL + "/logs/")
	if err != nil {
		t.Fatalf("GET /logs/: %v", err)
	}
	defer resp.Body.Close()
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	records, dropped, err := ingest.DecodeRecords(raw)
	if err != nil || dropped != 0 || len(records) != 2 || records[0].IPAddress != "b" {
		t.Fatalf("unexpected /logs/ payload %s (%v)", raw, err)
	}

	resp, err = http.Get(ts.URL + "/maplogs/?limit=5")
	if err != nil {
		t.Fatalf("GET /maplogs/: %v", err)
	}
	defer resp.Body.Close()
	var wire []ingest.WireRecord
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(wire) != 1 || wire[0].IPAddress != "a" {
		t.Fatalf("expected only located records, got %+v", wire)
	}

	resp, err = http.Get(ts.URL + "/logs/?limit=zero")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestServerPostLog(t *testing.T) {
	got := make(chan domain.AttackRecord, 1)
	ts, _ := newFeedServer(t, NewMemoryStorage(10), sinkFunc(func(r domain.AttackRecord) { got <- r }))

	resp, err := http.Post(ts.URL+"/logs/", "application/json",
		strings.NewReader(`{"ip_address":"198.51.100.7","timestamp":"2025-03-01T10:00:00","country":"BR"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if r := <-got; r.IPAddress != "198.51.100.7" || r.Country != "BR" {
		t.Fatalf("unexpected record %+v", r)
	}
}

func TestServerCharts(t *testing.T) {
	store := NewMemoryStorage(10)
	_ = store.WriteBatch(context.Background(), []domain.AttackRecord{rec("a", "CN", 3, true), rec("b", "US", 3, true), rec("c", "CN", 5, true)})
	ts, _ := newFeedServer(t, store, sinkFunc(func(domain.AttackRecord) {}))

	var top []domain.CountryCount
	getJSON(t, ts.URL+"/charts/top-countries/?limit=1", &top)
	if len(top) != 1 || top[0].Country != "CN" || top[0].Count != 2 {
		t.Fatalf("unexpected top countries %+v", top)
	}

	var total struct {
		Count int64 `json:"count"`
	}
	getJSON(t, ts.URL+"/logs/counts/", &total)
	if total.Count != 3 {
		t.Fatalf("expected count 3, got %d", total.Count)
	}

	var hours []domain.HourCount
	getJSON(t, ts.URL+"/charts/time-of-day/", &hours)
	if len(hours) != 24 || hours[3].Count != 2 {
		t.Fatalf("unexpected hours %+v", hours)
	}
}

func getJSON(t *testing.T, url string, dst any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: expected 200, got %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func dialFeed(t *testing.T, ts *httptest.Server, hub *Hub, path string, want int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+path, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() < want {
		if time.Now().After(deadline) {
			t.Fatalf("client on %s not registered", path)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) ingest.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := ingest.DecodeMessage(raw)
	if err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return msg
}

func TestHubFeedsAndPing(t *testing.T) {
	ts, hub := newFeedServer(t, NewMemoryStorage(10), sinkFunc(func(domain.AttackRecord) {}))
	logs := dialFeed(t, ts, hub, "/ws/logs", 1)
	maplogs := dialFeed(t, ts, hub, "/ws/maplogs", 2)

	batch := []domain.AttackRecord{rec("b", "US", 2, false), rec("a", "CN", 1, true)}
	if err := hub.Publish(context.Background(), batch); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if msg := readMessage(t, logs); msg.Type != ingest.TypeLogs || len(msg.Records) != 2 {
		t.Fatalf("expected full batch on /ws/logs, got %+v", msg)
	}
	if msg := readMessage(t, maplogs); len(msg.Records) != 1 || msg.Records[0].IPAddress != "a" {
		t.Fatalf("expected located record on /ws/maplogs, got %+v", msg)
	}

	_ = hub.Ping(context.Background())
	if msg := readMessage(t, logs); msg.Type != ingest.TypePing {
		t.Fatalf("expected ping, got %s", msg.Type)
	}
}

func TestHubRunClosesClientsOnCancel(t *testing.T) {
	ts, hub := newFeedServer(t, NewMemoryStorage(10), sinkFunc(func(domain.AttackRecord) {}))
	conn := dialFeed(t, ts, hub, "/ws/logs", 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { hub.Run(ctx); close(done) }()
	cancel()
	<-done

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}
}
