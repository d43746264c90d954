package feedsim

import (
	"context"
	"errors"
	"time"

	"github.com/xela07ax/attackmap/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RecordSource (connectors.MockFeed)
type RecordSource interface {
	Next() domain.AttackRecord
}

// Sink принимает записи (Batcher.Log).
type Sink interface {
	Log(r domain.AttackRecord)
}

// Generate выдаёт записи с частотой perSecond до отмены ctx.
func Generate(ctx context.Context, src RecordSource, sink Sink, perSecond float64, logger *zap.Logger) error {
	if perSecond <= 0 {
		return errors.New("feedsim: rate must be positive")
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), 1)
	logger.Info("generator started", zap.Float64("rate", perSecond))

	for {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		sink.Log(src.Next())
	}
}

// Pinger шлёт keep-alive подписчикам.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KeepAlive пингует всех каждые interval до отмены ctx.
func KeepAlive(ctx context.Context, interval time.Duration, logger *zap.Logger, pingers ...Pinger) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, p := range pingers {
				if err := p.Ping(ctx); err != nil {
					logger.Warn("keep-alive failed", zap.Error(err))
				}
			}
		}
	}
}
