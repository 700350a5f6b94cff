package guard

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Ошибки классификации. Это единственная SSRF-защита релея,
// поэтому Classify обязан отработать до любого сетевого вызова.
var (
	ErrInvalidURL = errors.New("invalid URL")

	// ErrLocalAddressBlocked — запрет политики безопасности, финальный.
	// Никаких ретраев и fallback-режимов для локальных адресов не существует.
	ErrLocalAddressBlocked = errors.New("local URLs are not allowed for security reasons")
)

// blockedHosts — адреса, указывающие на сам хост релея.
var blockedHosts = map[string]struct{}{
	"localhost": {},
	"127.0.0.1": {},
	"0.0.0.0":   {},
}

// Classify валидирует запрошенный адрес и отсекает локальные цели.
// Возвращает распарсенный URL, пригодный для исходящего запроса.
func Classify(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrInvalidURL
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}

	// Только абсолютные URI: без схемы и хоста релей не знает, куда идти
	if !u.IsAbs() || u.Host == "" {
		// file:// — отдельный случай: хоста нет, но схема опасна сама по себе
		if strings.EqualFold(u.Scheme, "file") {
			return nil, ErrLocalAddressBlocked
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}

	if strings.EqualFold(u.Scheme, "file") {
		return nil, ErrLocalAddressBlocked
	}

	if _, blocked := blockedHosts[strings.ToLower(u.Hostname())]; blocked {
		return nil, ErrLocalAddressBlocked
	}

	// Других ограничений нет: любые прочие схемы и хосты разрешены
	return u, nil
}
