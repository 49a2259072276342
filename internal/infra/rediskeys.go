package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "triage"
)

// Ключи для Sets (состояние)
const (
	RedisKeyBlockedSources = RedisNamespace + ":sources:blocked_set"
)

// RedisKeyLockBlockedSources — лок прогрева списка заблокированных источников
var RedisKeyLockBlockedSources = GetWarmupLockKey("blocked_sources")

// Каналы Pub/Sub (события)
const (
	// RedisChanSourceSwitch — канал трансляции блокировок источников сигнала
	// между инстансами ядра. Формат сообщения: "source_id:on|off".
	RedisChanSourceSwitch = RedisNamespace + ":sources:kill-switch-signal"
)

// GetWarmupLockKey Генератор ключей для блокировок (если нужны динамические)
func GetWarmupLockKey(resource string) string {
	return fmt.Sprintf("%s:lock:warmup:%s", RedisNamespace, resource)
}
