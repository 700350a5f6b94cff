package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/embedrelay/internal/activity"
	"github.com/xela07ax/embedrelay/internal/fetch"
	"github.com/xela07ax/embedrelay/internal/host"
	"github.com/xela07ax/embedrelay/internal/infra"
	"github.com/xela07ax/embedrelay/internal/modepref"
	"github.com/xela07ax/embedrelay/internal/negotiator"
	"github.com/xela07ax/embedrelay/internal/relay"
	"github.com/xela07ax/embedrelay/internal/tabs"
)

type captureBus struct {
	mu      sync.Mutex
	batches map[string][]activity.Event
}

func (b *captureBus) Publish(tabID string, events []activity.Event) {
	b.mu.Lock()
	if b.batches == nil {
		b.batches = make(map[string][]activity.Event)
	}
	b.batches[tabID] = append(b.batches[tabID], events...)
	b.mu.Unlock()
}

func (b *captureBus) count(tabID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches[tabID])
}

type fakeActivityStore struct {
	events []activity.Event
	lastQ  activity.Query
}

func (s *fakeActivityStore) Find(_ context.Context, q activity.Query) ([]activity.Event, int, error) {
	s.lastQ = q
	return s.events, len(s.events), nil
}

type fakeSessionStore struct {
	created  []activity.Session
	sessions []activity.Session
}

func (s *fakeSessionStore) Create(_ context.Context, sess activity.Session) (string, error) {
	s.created = append(s.created, sess)
	return "session-1", nil
}

func (s *fakeSessionStore) Find(_ context.Context, _ string, _ time.Time) ([]activity.Session, error) {
	return s.sessions, nil
}

type fakeFetcher struct{}

func (f *fakeFetcher) Fetch(_ context.Context, _ *url.URL, _ http.Header) (*fetch.Result, error) {
	return &fetch.Result{Body: []byte("<html><body>ok</body></html>"), Status: 200, ContentType: "text/html"}, nil
}

type serverFixture struct {
	srv      *Server
	bus      *captureBus
	acts     *fakeActivityStore
	sessions *fakeSessionStore
	manager  *TabManager
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	logger := zap.NewNop()
	bus := &captureBus{}

	registry := tabs.NewRegistry(bus, logger)
	prefs := modepref.NewMemoryStore()
	manager := NewTabManager(registry, prefs, bus, "http://127.0.0.1:8080", negotiator.Options{
		SettleDelay:       5 * time.Millisecond,
		TitlePollInterval: time.Hour, // не мешаем тестам фоновым опросом
	}, logger)

	acts := &fakeActivityStore{}
	sessions := &fakeSessionStore{}
	dispatcher := host.NewDispatcher(manager, bus, logger)
	apiH := NewAPIHandler(bus, acts, sessions, dispatcher, logger)
	tabsH := NewTabsHandler(manager, logger)
	relayH := relay.NewHandler(&fakeFetcher{}, relay.NewMetrics(nil), logger)

	cfg := &infra.Config{}
	cfg.Relay.RateLimit = 1000
	cfg.Relay.RateBurst = 1000

	return &serverFixture{
		srv:      NewServer(cfg, logger, relayH, apiH, tabsH),
		bus:      bus,
		acts:     acts,
		sessions: sessions,
		manager:  manager,
	}
}

func (f *serverFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RelayMounted(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodGet, "/relay?url=https%3A%2F%2Fexample.com%2F", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ALLOWALL", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))
}

func TestServer_TabLifecycle(t *testing.T) {
	f := newServerFixture(t)

	// 1. Открытие вкладки: машина сразу уходит в loading
	rec := f.do(t, http.MethodPost, "/v1/tabs", map[string]string{"url": "https://example.com/"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var state TabState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, negotiator.StateLoading, state.State)
	assert.Equal(t, modepref.ModeRelayed, state.Mode)
	assert.Contains(t, state.DeliveryURL, "/relay?url=")
	tabID := state.Tab.ID

	// 2. Снапшот документа + сигнал load от поверхности
	rec = f.do(t, http.MethodPost, "/v1/tabs/"+tabID+"/surface", map[string]string{
		"event": "load",
		"document": `<html><head><title>Example</title></head>` +
			`<body><div>plenty of meaningful readable content here</div></body></html>`,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		st, err := f.manager.State(tabID)
		return err == nil && st.State == negotiator.StateLoaded
	}, time.Second, 5*time.Millisecond)

	// 3. Снимок после верификации
	rec = f.do(t, http.MethodGet, "/v1/tabs/"+tabID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, "Example", state.Tab.Title)
	assert.False(t, state.Tab.Loading)

	// 4. Закрытие
	rec = f.do(t, http.MethodDelete, "/v1/tabs/"+tabID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/tabs/"+tabID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_SurfaceErrorLeadsToFailedState(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/tabs", map[string]string{"url": "https://example.com/"})
	var state TabState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))

	rec = f.do(t, http.MethodPost, "/v1/tabs/"+state.Tab.ID+"/surface", map[string]string{"event": "error"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	st, err := f.manager.State(state.Tab.ID)
	require.NoError(t, err)
	assert.Equal(t, negotiator.StateFailed, st.State)
	require.NotNil(t, st.Notice)
	assert.Equal(t, negotiator.ReasonNetworkError, st.Notice.Reason)

	// Смена режима с провала
	rec = f.do(t, http.MethodPost, "/v1/tabs/"+state.Tab.ID+"/switch-mode", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, modepref.ModeDirect, state.Mode)
	assert.Equal(t, "https://example.com/", state.DeliveryURL)
}

func TestServer_IngestMessage(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/tabs", map[string]string{"url": "https://example.com/"})
	var state TabState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	tabID := state.Tab.ID

	// Пачка наблюдений через протокол сообщений
	rec = f.do(t, http.MethodPost, "/v1/messages/"+tabID, map[string]interface{}{
		"type": "activities_flush",
		"activities": []map[string]interface{}{
			{"type": "click", "url": "https://example.com/", "timestamp": 1700000000000},
			{"type": "scroll"},
		},
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 2, f.bus.count(tabID))

	// titleChanged доезжает до вкладки
	rec = f.do(t, http.MethodPost, "/v1/messages/"+tabID, map[string]interface{}{
		"type": "titleChanged", "title": "Via Message",
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	st, _ := f.manager.State(tabID)
	assert.Equal(t, "Via Message", st.Tab.Title)

	// Неизвестный тип отклоняется
	rec = f.do(t, http.MethodPost, "/v1/messages/"+tabID, map[string]interface{}{"type": "evil"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_RecordActivities(t *testing.T) {
	f := newServerFixture(t)

	// Массив событий
	rec := f.do(t, http.MethodPost, "/v1/activities", []map[string]interface{}{
		{"type": "click", "tabId": "tab-1", "timestamp": time.Now().Format(time.RFC3339)},
		{"type": "scroll", "tabId": "tab-2", "timestamp": time.Now().Format(time.RFC3339)},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(2), resp["count"])
	assert.Len(t, resp["activityIds"], 2)
	assert.Equal(t, 1, f.bus.count("tab-1"))
	assert.Equal(t, 1, f.bus.count("tab-2"))

	// Одиночный объект тоже принимается
	rec = f.do(t, http.MethodPost, "/v1/activities", map[string]interface{}{
		"type": "page_load", "tabId": "tab-1", "timestamp": time.Now().Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	// Валидация обязательных полей
	rec = f.do(t, http.MethodPost, "/v1/activities", map[string]interface{}{"type": "click"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "required")
}

func TestServer_QueryActivities(t *testing.T) {
	f := newServerFixture(t)
	f.acts.events = []activity.Event{{ID: "e1", Type: activity.TypeClick, TabID: "tab-1"}}

	rec := f.do(t, http.MethodGet, "/v1/activities?tabId=tab-1&type=click&date=2026-08-30&limit=10&skip=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "tab-1", f.acts.lastQ.TabID)
	assert.Equal(t, activity.TypeClick, f.acts.lastQ.Type)
	assert.Equal(t, 10, f.acts.lastQ.Limit)
	assert.Equal(t, 5, f.acts.lastQ.Skip)
	assert.False(t, f.acts.lastQ.Day.IsZero())

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["totalCount"])
	assert.Equal(t, float64(1), resp["returnedCount"])

	// Кривой формат даты
	rec = f.do(t, http.MethodGet, "/v1/activities?date=30-08-2026", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Sessions(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/sessions", map[string]interface{}{
		"userId":    "u1",
		"startTime": time.Now().Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "session-1")
	require.Len(t, f.sessions.created, 1)

	// startTime обязателен
	rec = f.do(t, http.MethodPost, "/v1/sessions", map[string]interface{}{"userId": "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Start time is required")

	f.sessions.sessions = []activity.Session{{ID: "session-1", UserID: "u1"}}
	rec = f.do(t, http.MethodGet, "/v1/sessions?userId=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)
}
