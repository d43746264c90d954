package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "attackmap"
)

// Каналы Pub/Sub (живой поток тех же сообщений, что и /ws/logs)
const RedisChanLiveLogs = RedisNamespace + ":live:logs"

// LiveChannel для произвольного фида (logs, maplogs).
func LiveChannel(feed string) string {
	return fmt.Sprintf("%s:live:%s", RedisNamespace, feed)
}
