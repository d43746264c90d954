package engine

import (
	"context"
	"errors"
	"time"

	"github.com/xela07ax/attackmap/internal/connectors"
	"go.uber.org/zap"
)

// ResilientSource — "живучая" обёртка над LiveSource: переподключается
// с экспоненциальной задержкой, ограниченной maxBackoff. После успешного
// подключения задержка сбрасывается.
type ResilientSource struct {
	next        connectors.LiveSource
	minBackoff  time.Duration
	maxBackoff  time.Duration
	logger      *zap.Logger
	afterFailed func(attempt int, delay time.Duration) // Хук для тестов
}

func NewResilientSource(next connectors.LiveSource, maxBackoff time.Duration, logger *zap.Logger) *ResilientSource {
	if maxBackoff <= 0 {
		maxBackoff = 60 * time.Second
	}
	return &ResilientSource{
		next:       next,
		minBackoff: time.Second,
		maxBackoff: maxBackoff,
		logger:     logger.With(zap.String("mod", "resilient-source")),
	}
}

// connectTracker запоминает, было ли подключение за текущую попытку.
type connectTracker struct {
	connectors.Sink
	connected bool
}

func (t *connectTracker) Connected() {
	t.connected = true
	t.Sink.Connected()
}

// Run возвращается только при отмене ctx.
func (r *ResilientSource) Run(ctx context.Context, sink connectors.Sink) error {
	delay := r.minBackoff
	for attempt := 1; ; attempt++ {
		tracker := &connectTracker{Sink: sink}
		err := r.next.Run(ctx, tracker)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("live source returned without error")
		}
		sink.Disconnected(err)

		if tracker.connected {
			// Связь была, начинаем отсчёт заново
			delay = r.minBackoff
			attempt = 1
		}

		r.logger.Warn("live feed lost, reconnecting",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)
		if r.afterFailed != nil {
			r.afterFailed(attempt, delay)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > r.maxBackoff {
			delay = r.maxBackoff
		}
	}
}
