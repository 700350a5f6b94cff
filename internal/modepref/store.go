package modepref

import (
	"context"
	"net/url"
	"strings"
	"sync"
)

// Mode — способ доставки контента для домена.
type Mode string

const (
	// ModeRelayed — контент забирает и переписывает релей (дефолт).
	ModeRelayed Mode = "relayed"
	// ModeDirect — контент грузится с origin напрямую, без переписывания.
	ModeDirect Mode = "direct"
)

// Valid сообщает, является ли строка известным режимом.
func (m Mode) Valid() bool {
	return m == ModeRelayed || m == ModeDirect
}

// Store — сессионное хранилище предпочтений «домен -> режим».
// Обновляется только по подтвержденной успешной загрузке; сбои
// предпочтение не трогают. Запись last-writer-wins, транзакций не нужно:
// каждый ключ пишут только вкладки, показывающие этот домен.
type Store interface {
	// Get возвращает запомненный режим для домена URL. Нет записи — ModeRelayed.
	Get(ctx context.Context, rawURL string) Mode
	// Set фиксирует режим для домена URL.
	Set(ctx context.Context, rawURL string, mode Mode) error
}

// DomainKey извлекает ключ предпочтения из адреса — hostname цели.
func DomainKey(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	return strings.ToLower(u.Hostname()), true
}

// MemoryStore — потокобезопасная in-memory реализация.
// Используется в тестах и при работе без Redis.
type MemoryStore struct {
	mu    sync.RWMutex
	prefs map[string]Mode
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{prefs: make(map[string]Mode)}
}

func (s *MemoryStore) Get(ctx context.Context, rawURL string) Mode {
	key, ok := DomainKey(rawURL)
	if !ok {
		return ModeRelayed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if mode, ok := s.prefs[key]; ok {
		return mode
	}
	return ModeRelayed
}

func (s *MemoryStore) Set(ctx context.Context, rawURL string, mode Mode) error {
	key, ok := DomainKey(rawURL)
	if !ok || !mode.Valid() {
		return nil
	}

	s.mu.Lock()
	s.prefs[key] = mode
	s.mu.Unlock()
	return nil
}
