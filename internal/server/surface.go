package server

import (
	"errors"
	"sync"
)

// ErrDocumentUnavailable — хост не прислал снапшот документа.
// Для верификации это эквивалент cross-origin блокировки.
var ErrDocumentUnavailable = errors.New("surface document unavailable")

// RemoteSurface — поверхность, живущая на стороне хост-приложения.
// Render запоминает адрес доставки (хост заберет его из состояния вкладки),
// снапшот документа хост присылает отдельным запросом. Смена адреса
// инвалидирует прошлый снапшот: верификация не должна видеть старый документ.
type RemoteSurface struct {
	mu          sync.Mutex
	deliveryURL string
	doc         string
	hasDoc      bool
}

func NewRemoteSurface() *RemoteSurface {
	return &RemoteSurface{}
}

func (s *RemoteSurface) Render(deliveryURL string) {
	s.mu.Lock()
	s.deliveryURL = deliveryURL
	s.doc = ""
	s.hasDoc = false
	s.mu.Unlock()
}

func (s *RemoteSurface) Document() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasDoc {
		return "", ErrDocumentUnavailable
	}
	return s.doc, nil
}

// SetDocument принимает снапшот документа от хоста.
func (s *RemoteSurface) SetDocument(html string) {
	s.mu.Lock()
	s.doc = html
	s.hasDoc = true
	s.mu.Unlock()
}

// DeliveryURL возвращает адрес, который должна грузить поверхность хоста.
func (s *RemoteSurface) DeliveryURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliveryURL
}
