package connectors

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSource — альтернативный живой канал: те же сообщения {"type":...},
// опубликованные эмулятором бэкенда в Redis pub/sub.
type RedisSource struct {
	rdb     *redis.Client
	channel string
	logger  *zap.Logger
}

func NewRedisSource(rdb *redis.Client, channel string, logger *zap.Logger) *RedisSource {
	return &RedisSource{
		rdb:     rdb,
		channel: channel,
		logger:  logger.Named("redis-source").With(zap.String("chan", channel)),
	}
}

func (s *RedisSource) Run(ctx context.Context, sink Sink) error {
	pubsub := s.rdb.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	// Проверка успешности подписки
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("connectors: subscribe %s: %w", s.channel, err)
	}

	s.logger.Info("live feed subscribed")
	sink.Connected()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return ErrSubscriptionLost
			}
			sink.Message([]byte(msg.Payload))
		}
	}
}
