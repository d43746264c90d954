package feedsim

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/attackmap/internal/domain"
	"github.com/xela07ax/attackmap/internal/infra"
	"github.com/xela07ax/attackmap/internal/ingest"
	"go.uber.org/zap"
)

// RedisPublisher дублирует живой поток в Redis pub/sub (канал на каждый фид).
type RedisPublisher struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisPublisher(rdb *redis.Client, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, logger: logger.Named("redis-publisher")}
}

func (p *RedisPublisher) Publish(ctx context.Context, batch []domain.AttackRecord) error {
	var errs []error
	for _, feed := range []Feed{FeedLogs, FeedMapLogs} {
		records := FilterFeed(feed, batch)
		if len(records) == 0 {
			continue
		}
		raw, err := ingest.EncodeBatch(records)
		if err != nil {
			return fmt.Errorf("redis: encode %s: %w", feed, err)
		}
		channel := infra.LiveChannel(string(feed))
		if err := p.rdb.Publish(ctx, channel, raw).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: publish %s: %w", channel, err))
		}
	}
	return errors.Join(errs...)
}

// Ping публикует keep-alive во все каналы.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	var errs []error
	for _, feed := range []Feed{FeedLogs, FeedMapLogs} {
		if err := p.rdb.Publish(ctx, infra.LiveChannel(string(feed)), ingest.PingMessage).Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
