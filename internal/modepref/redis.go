package modepref

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/embedrelay/internal/infra"
)

// RedisStore — сессионное хранилище предпочтений поверх Redis.
// Двухуровневая схема: горячий путь читает только локальный кэш (L1),
// Redis (L2) держит состояние сессии и транслирует обновления по Pub/Sub,
// чтобы параллельные вкладки одного домена сходились к одному режиму.
type RedisStore struct {
	rdb       *redis.Client
	sessionID string
	ttl       time.Duration
	logger    *zap.Logger

	mu    sync.RWMutex
	cache map[string]Mode
}

func NewRedisStore(rdb *redis.Client, sessionID string, cfg infra.RedisConfig, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		rdb:       rdb,
		sessionID: sessionID,
		ttl:       cfg.SessionTTL,
		logger:    logger.With(zap.String("mod", "modeprefs")),
		cache:     make(map[string]Mode),
	}
}

// Init прогревает локальный кэш из Redis при старте.
func (s *RedisStore) Init(ctx context.Context) error {
	prefs, err := s.rdb.HGetAll(ctx, infra.GetModePrefsKey(s.sessionID)).Result()
	if err != nil {
		return fmt.Errorf("modeprefs warmup failed: %w", err)
	}

	s.mu.Lock()
	for domain, raw := range prefs {
		if mode := Mode(raw); mode.Valid() {
			s.cache[domain] = mode
		}
	}
	s.mu.Unlock()

	s.logger.Info("mode preferences warmed up", zap.Int("count", len(prefs)))
	return nil
}

func (s *RedisStore) Get(ctx context.Context, rawURL string) Mode {
	key, ok := DomainKey(rawURL)
	if !ok {
		return ModeRelayed
	}

	// Hot Path: только RAM, Redis не трогаем
	s.mu.RLock()
	defer s.mu.RUnlock()
	if mode, ok := s.cache[key]; ok {
		return mode
	}
	return ModeRelayed
}

// Set пишет предпочтение насквозь: L1 -> Redis -> сигнал остальным вкладкам.
func (s *RedisStore) Set(ctx context.Context, rawURL string, mode Mode) error {
	key, ok := DomainKey(rawURL)
	if !ok || !mode.Valid() {
		return nil
	}

	s.mu.Lock()
	s.cache[key] = mode
	s.mu.Unlock()

	redisKey := infra.GetModePrefsKey(s.sessionID)
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, redisKey, key, string(mode))
	pipe.Expire(ctx, redisKey, s.ttl) // ключ живет в рамках сессии
	if _, err := pipe.Exec(ctx); err != nil {
		// Локальный кэш уже обновлен: вкладка продолжит работать,
		// потеряется только межвкладочная синхронизация
		s.logger.Warn("mode preference persist failed",
			zap.String("domain", key), zap.Error(err))
		return err
	}

	payload := fmt.Sprintf("%s:%s", key, mode)
	if err := s.rdb.Publish(ctx, infra.RedisChanModeUpdate, payload).Err(); err != nil {
		s.logger.Warn("mode update signal failed", zap.String("domain", key), zap.Error(err))
	}

	return nil
}

// applyUpdate обновляет локальный кэш по сигналу из Pub/Sub.
func (s *RedisStore) applyUpdate(domain string, mode Mode) {
	if !mode.Valid() {
		return
	}
	s.mu.Lock()
	s.cache[domain] = mode
	s.mu.Unlock()
}

// StartListener — «живучая» подписка на сигналы смены режима.
// Переживает обрывы соединения: при каждом реконнекте перечитывает
// состояние из Redis (Init), затем слушает инкрементальные обновления.
func (s *RedisStore) StartListener(ctx context.Context) {
	for {
		pubsub := s.rdb.Subscribe(ctx, infra.RedisChanModeUpdate)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			s.logger.Error("failed to subscribe", zap.String("chan", infra.RedisChanModeUpdate), zap.Error(err))
			pubsub.Close()

			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
				continue
			}
		}

		// Синхронизация при каждом успешном коннекте
		if err := s.Init(ctx); err != nil {
			s.logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}

				// Разбор формата "domain:mode"
				parts := strings.SplitN(msg.Payload, ":", 2)
				if len(parts) != 2 {
					s.logger.Error("invalid signal format", zap.String("payload", msg.Payload))
					continue
				}

				s.applyUpdate(parts[0], Mode(parts[1]))
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}
