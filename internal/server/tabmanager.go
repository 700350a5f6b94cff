package server

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/xela07ax/embedrelay/internal/activity"
	"github.com/xela07ax/embedrelay/internal/host"
	"github.com/xela07ax/embedrelay/internal/modepref"
	"github.com/xela07ax/embedrelay/internal/negotiator"
	"github.com/xela07ax/embedrelay/internal/tabs"
)

var ErrTabNotFound = errors.New("tab not found")

// Publisher — выход в шину активности.
type Publisher interface {
	Publish(tabID string, events []activity.Event)
}

// tabSession — связка вкладки: удаленная поверхность + машина режима.
type tabSession struct {
	surface *RemoteSurface
	neg     *negotiator.Negotiator
}

// TabState — снимок вкладки вместе с состоянием машины режима.
type TabState struct {
	Tab         tabs.Tab           `json:"tab"`
	State       negotiator.State   `json:"state"`
	Mode        modepref.Mode      `json:"mode"`
	DeliveryURL string             `json:"deliveryUrl"`
	Notice      *negotiator.Notice `json:"notice,omitempty"`
}

// TabManager владеет реестром вкладок и по машине режима на каждую.
// Хост-приложение управляет вкладками через HTTP и присылает события
// своих поверхностей; вся логика режима остается здесь.
type TabManager struct {
	registry  *tabs.Registry
	prefs     modepref.Store
	bus       Publisher
	relayBase string
	opts      negotiator.Options
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[string]*tabSession
}

func NewTabManager(registry *tabs.Registry, prefs modepref.Store, bus Publisher,
	relayBase string, opts negotiator.Options, logger *zap.Logger) *TabManager {
	return &TabManager{
		registry:  registry,
		prefs:     prefs,
		bus:       bus,
		relayBase: relayBase,
		opts:      opts,
		logger:    logger.With(zap.String("mod", "tab-manager")),
		sessions:  make(map[string]*tabSession),
	}
}

// Open создает вкладку, ее машину режима и сразу начинает загрузку.
func (m *TabManager) Open(ctx context.Context, url string) string {
	tabID := m.registry.Add(url, "")

	surface := NewRemoteSurface()
	neg := negotiator.New(tabID, m.relayBase, m.prefs, surface, m.registry, m.bus, m.logger, m.opts)

	m.mu.Lock()
	m.sessions[tabID] = &tabSession{surface: surface, neg: neg}
	m.mu.Unlock()

	neg.Navigate(ctx, url)
	return tabID
}

// Close демонтирует машину вкладки и убирает ее из реестра.
func (m *TabManager) Close(id string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		sess.neg.Teardown()
	}
	m.registry.Close(id)
}

// Navigate направляет вкладку на новую цель.
func (m *TabManager) Navigate(ctx context.Context, id, url string) error {
	sess, ok := m.session(id)
	if !ok {
		return ErrTabNotFound
	}
	sess.neg.Navigate(ctx, url)
	return nil
}

// SurfaceLoad — поверхность хоста сообщила о завершении загрузки.
func (m *TabManager) SurfaceLoad(id string) error {
	sess, ok := m.session(id)
	if !ok {
		return ErrTabNotFound
	}
	sess.neg.OnSurfaceLoad()
	return nil
}

// SurfaceError — поверхность хоста сообщила о сетевом сбое.
func (m *TabManager) SurfaceError(id string) error {
	sess, ok := m.session(id)
	if !ok {
		return ErrTabNotFound
	}
	sess.neg.OnSurfaceError()
	return nil
}

// SetDocument принимает снапшот документа для верификации.
func (m *TabManager) SetDocument(id, html string) error {
	sess, ok := m.session(id)
	if !ok {
		return ErrTabNotFound
	}
	sess.surface.SetDocument(html)
	return nil
}

// Retry повторяет загрузку в том же режиме.
func (m *TabManager) Retry(id string) error {
	sess, ok := m.session(id)
	if !ok {
		return ErrTabNotFound
	}
	sess.neg.Retry()
	return nil
}

// SwitchMode переключает режим доставки вкладки.
func (m *TabManager) SwitchMode(id string) error {
	sess, ok := m.session(id)
	if !ok {
		return ErrTabNotFound
	}
	sess.neg.SwitchMode()
	return nil
}

// DismissNotice скрывает уведомление о провале.
func (m *TabManager) DismissNotice(id string) error {
	sess, ok := m.session(id)
	if !ok {
		return ErrTabNotFound
	}
	sess.neg.DismissNotice()
	return nil
}

// State возвращает снимок вкладки и ее машины.
func (m *TabManager) State(id string) (TabState, error) {
	tab, ok := m.registry.Get(id)
	if !ok {
		return TabState{}, ErrTabNotFound
	}
	sess, ok := m.session(id)
	if !ok {
		return TabState{}, ErrTabNotFound
	}
	return TabState{
		Tab:         tab,
		State:       sess.neg.State(),
		Mode:        sess.neg.Mode(),
		DeliveryURL: sess.surface.DeliveryURL(),
		Notice:      sess.neg.Notice(),
	}, nil
}

// List возвращает вкладки в порядке открытия и ID активной.
func (m *TabManager) List() ([]tabs.Tab, string) {
	return m.registry.List(), m.registry.Active()
}

// Activate переключает активную вкладку.
func (m *TabManager) Activate(id string) {
	m.registry.Activate(id)
}

// Lookup реализует host.NegotiatorLookup для диспетчера сообщений.
func (m *TabManager) Lookup(tabID string) (host.Negotiator, bool) {
	sess, ok := m.session(tabID)
	if !ok {
		return nil, false
	}
	return sess.neg, true
}

func (m *TabManager) session(id string) (*tabSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	return sess, ok
}
