package tabs

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/embedrelay/internal/activity"
)

// Tab — состояние одной вкладки. Реестр — единственный владелец истины:
// негоциатор читает и просит мутации через Update, но копий не держит.
type Tab struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	Loading      bool   `json:"loading"`
	CanGoBack    bool   `json:"canGoBack"`
	CanGoForward bool   `json:"canGoForward"`
}

// Update — частичная мутация вкладки. nil-поля не трогаются.
type Update struct {
	Title        *string
	URL          *string
	Loading      *bool
	CanGoBack    *bool
	CanGoForward *bool
}

// Publisher — выход в шину активности (события жизненного цикла вкладок).
type Publisher interface {
	Publish(tabID string, events []activity.Event)
}

// Registry — in-memory реестр открытых вкладок.
type Registry struct {
	mu     sync.RWMutex
	tabs   map[string]*Tab
	order  []string
	active string

	bus    Publisher
	logger *zap.Logger
}

func NewRegistry(bus Publisher, logger *zap.Logger) *Registry {
	return &Registry{
		tabs:   make(map[string]*Tab),
		bus:    bus,
		logger: logger.With(zap.String("mod", "tabs")),
	}
}

// Add открывает вкладку и делает ее активной.
func (r *Registry) Add(url, title string) string {
	if title == "" {
		title = "New Tab"
	}

	tab := &Tab{
		ID:      uuid.New().String(),
		Title:   title,
		URL:     url,
		Loading: true,
	}

	r.mu.Lock()
	r.tabs[tab.ID] = tab
	r.order = append(r.order, tab.ID)
	r.active = tab.ID
	r.mu.Unlock()

	r.emit(tab.ID, activity.TypeTabCreated, url, map[string]interface{}{"title": title})
	return tab.ID
}

// Close закрывает вкладку; активной становится последняя из оставшихся.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	tab, ok := r.tabs[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	url := tab.URL
	delete(r.tabs, id)

	for i, tid := range r.order {
		if tid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.active == id {
		r.active = ""
		if len(r.order) > 0 {
			r.active = r.order[len(r.order)-1]
		}
	}
	r.mu.Unlock()

	r.emit(id, activity.TypeTabClosed, url, nil)
}

// Get возвращает копию состояния вкладки.
func (r *Registry) Get(id string) (Tab, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tab, ok := r.tabs[id]
	if !ok {
		return Tab{}, false
	}
	return *tab, true
}

// UpdateTab применяет частичную мутацию.
func (r *Registry) UpdateTab(id string, upd Update) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	tab, ok := r.tabs[id]
	if !ok {
		return false
	}
	if upd.Title != nil {
		tab.Title = *upd.Title
	}
	if upd.URL != nil {
		tab.URL = *upd.URL
	}
	if upd.Loading != nil {
		tab.Loading = *upd.Loading
	}
	if upd.CanGoBack != nil {
		tab.CanGoBack = *upd.CanGoBack
	}
	if upd.CanGoForward != nil {
		tab.CanGoForward = *upd.CanGoForward
	}
	return true
}

// Activate переключает активную вкладку.
func (r *Registry) Activate(id string) {
	r.mu.Lock()
	_, ok := r.tabs[id]
	if ok {
		r.active = id
	}
	url := ""
	if ok {
		url = r.tabs[id].URL
	}
	r.mu.Unlock()

	if ok {
		r.emit(id, activity.TypeTabChange, url, nil)
	}
}

// Active возвращает ID активной вкладки (пустая строка — нет вкладок).
func (r *Registry) Active() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// List возвращает вкладки в порядке открытия.
func (r *Registry) List() []Tab {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tab, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.tabs[id])
	}
	return out
}

// Reload помечает вкладку загружающейся и подмешивает cache-busting маркер,
// чтобы поверхность перезагрузила тот же адрес.
func (r *Registry) Reload(id string) {
	r.mu.Lock()
	tab, ok := r.tabs[id]
	if ok {
		sep := "?"
		for _, c := range tab.URL {
			if c == '?' {
				sep = "&"
				break
			}
		}
		tab.URL = fmt.Sprintf("%s%st=%d", tab.URL, sep, time.Now().UnixMilli())
		tab.Loading = true
	}
	r.mu.Unlock()
}

func (r *Registry) emit(tabID string, t activity.EventType, url string, details map[string]interface{}) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(tabID, []activity.Event{{
		Type:    t,
		URL:     url,
		Details: details,
	}})
}
