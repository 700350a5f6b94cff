package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "embedrelay"
)

// Ключи для Hash (состояние)
const (
	// RedisKeyModePrefs — хэш "домен -> режим доставки" в рамках одной сессии.
	// Полный ключ строится через GetModePrefsKey.
	RedisKeyModePrefs = RedisNamespace + ":modeprefs"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanModeUpdate — канал трансляции смены режима домена,
	// чтобы параллельные вкладки одной сессии сходились к одному режиму.
	RedisChanModeUpdate = RedisNamespace + ":modeprefs:update"
)

// GetModePrefsKey строит ключ хэша предпочтений для конкретной сессии.
func GetModePrefsKey(sessionID string) string {
	return fmt.Sprintf("%s:%s", RedisKeyModePrefs, sessionID)
}
