package feedsim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xela07ax/attackmap/internal/domain"
	"go.uber.org/zap/zaptest"
)

type recordingPublisher struct {
	mu      sync.Mutex
	batches [][]domain.AttackRecord
}

func (p *recordingPublisher) Publish(_ context.Context, batch []domain.AttackRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, batch)
	return nil
}

func (p *recordingPublisher) snapshot() [][]domain.AttackRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]domain.AttackRecord(nil), p.batches...)
}

func TestBatcherFlushesBySizeNewestFirst(t *testing.T) {
	store := NewMemoryStorage(100)
	pub := &recordingPublisher{}
	b := NewBatcher(store, 2, time.Hour, zaptest.NewLogger(t), pub)
	b.Start()
	defer b.Stop()

	b.Log(domain.AttackRecord{IPAddress: "first"})
	b.Log(domain.AttackRecord{IPAddress: "second"})

	deadline := time.Now().Add(2 * time.Second)
	for len(pub.snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected a size-triggered flush")
		}
		time.Sleep(5 * time.Millisecond)
	}
	batch := pub.snapshot()[0]
	if len(batch) != 2 || batch[0].IPAddress != "second" || batch[1].IPAddress != "first" {
		t.Fatalf("expected newest-first batch, got %+v", batch)
	}
	if batch[0].Timestamp.IsZero() {
		t.Fatalf("expected timestamp to be stamped")
	}
}

func TestBatcherStopDrains(t *testing.T) {
	store := NewMemoryStorage(100)
	pub := &recordingPublisher{}
	b := NewBatcher(store, 100, time.Hour, zaptest.NewLogger(t), pub)
	b.Start()

	for range 5 {
		b.Log(domain.AttackRecord{IPAddress: "x"})
	}
	b.Stop()
	b.Stop() // Повторный Stop безопасен

	if n, _ := store.Count(context.Background()); n != 5 {
		t.Fatalf("expected 5 records flushed on stop, got %d", n)
	}
	if got := pub.snapshot(); len(got) != 1 || len(got[0]) != 5 {
		t.Fatalf("expected one final batch of 5, got %v", got)
	}

	// После остановки запись отбрасывается, а не паникует
	b.Log(domain.AttackRecord{IPAddress: "late"})
}
