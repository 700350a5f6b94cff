package tabs

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/embedrelay/internal/activity"
)

type captureBus struct {
	mu     sync.Mutex
	events []activity.Event
}

func (b *captureBus) Publish(tabID string, events []activity.Event) {
	b.mu.Lock()
	b.events = append(b.events, events...)
	b.mu.Unlock()
}

func (b *captureBus) types() []activity.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]activity.EventType, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.Type)
	}
	return out
}

func TestRegistry_AddActivatesAndEmits(t *testing.T) {
	bus := &captureBus{}
	r := NewRegistry(bus, zap.NewNop())

	id := r.Add("https://example.com/", "")

	tab, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, "New Tab", tab.Title)
	assert.True(t, tab.Loading)
	assert.Equal(t, id, r.Active())
	assert.Equal(t, []activity.EventType{activity.TypeTabCreated}, bus.types())
}

func TestRegistry_CloseActivatesLastRemaining(t *testing.T) {
	bus := &captureBus{}
	r := NewRegistry(bus, zap.NewNop())

	a := r.Add("https://a.example/", "A")
	b := r.Add("https://b.example/", "B")
	c := r.Add("https://c.example/", "C")
	require.Equal(t, c, r.Active())

	r.Close(c)
	assert.Equal(t, b, r.Active())

	r.Close(b)
	r.Close(a)
	assert.Equal(t, "", r.Active())
	assert.Empty(t, r.List())

	// Закрытие несуществующей вкладки безопасно
	r.Close("missing")
}

func TestRegistry_UpdatePartialMutation(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	id := r.Add("https://example.com/", "A")

	title := "Renamed"
	loading := false
	require.True(t, r.UpdateTab(id, Update{Title: &title, Loading: &loading}))

	tab, _ := r.Get(id)
	assert.Equal(t, "Renamed", tab.Title)
	assert.False(t, tab.Loading)
	assert.Equal(t, "https://example.com/", tab.URL) // nil-поля не тронуты

	assert.False(t, r.UpdateTab("missing", Update{Title: &title}))
}

func TestRegistry_ActivateEmitsTabChange(t *testing.T) {
	bus := &captureBus{}
	r := NewRegistry(bus, zap.NewNop())

	a := r.Add("https://a.example/", "A")
	r.Add("https://b.example/", "B")

	r.Activate(a)
	assert.Equal(t, a, r.Active())
	assert.Contains(t, bus.types(), activity.TypeTabChange)

	// Неизвестный ID не меняет активную вкладку
	r.Activate("missing")
	assert.Equal(t, a, r.Active())
}

func TestRegistry_ListPreservesOpenOrder(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	r.Add("https://a.example/", "A")
	r.Add("https://b.example/", "B")
	r.Add("https://c.example/", "C")

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "A", list[0].Title)
	assert.Equal(t, "B", list[1].Title)
	assert.Equal(t, "C", list[2].Title)
}

func TestRegistry_ReloadAddsCacheBuster(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	id := r.Add("https://example.com/page", "A")
	done := false
	r.UpdateTab(id, Update{Loading: &done})

	r.Reload(id)
	tab, _ := r.Get(id)
	assert.True(t, tab.Loading)
	assert.Contains(t, tab.URL, "?t=")

	// Повторная перезагрузка добавляет через &
	r.Reload(id)
	tab, _ = r.Get(id)
	assert.Equal(t, 1, strings.Count(tab.URL, "?"))
	assert.Contains(t, tab.URL, "&t=")
}
