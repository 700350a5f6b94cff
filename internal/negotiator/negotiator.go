package negotiator

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/embedrelay/internal/activity"
	"github.com/xela07ax/embedrelay/internal/modepref"
	"github.com/xela07ax/embedrelay/internal/tabs"
)

// State — состояние машины загрузки одной вкладки.
type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StateVerifying State = "verifying"
	StateLoaded    State = "loaded"
	StateFailed    State = "failed"
	StateSwitching State = "switching"
)

const loadingTitle = "Loading..."

// Surface — встраиваемая поверхность отображения. Render указывает ей
// новый адрес доставки; о завершении загрузки поверхность сообщает
// через OnSurfaceLoad/OnSurfaceError.
type Surface interface {
	Render(deliveryURL string)

	// Document возвращает HTML внутреннего документа поверхности.
	// Ошибка означает недоступность документа (cross-origin) —
	// для верификации это самостоятельный сигнал провала.
	Document() (string, error)
}

// TabRegistry — внешний реестр вкладок. Негоциатор читает и просит
// мутации, но собственной копии состояния вкладки не держит.
type TabRegistry interface {
	Get(id string) (tabs.Tab, bool)
	UpdateTab(id string, upd tabs.Update) bool
}

// Publisher — выход в шину активности.
type Publisher interface {
	Publish(tabID string, events []activity.Event)
}

// Notice — видимое пользователю уведомление о провале с действиями
// восстановления (повторить в том же режиме / сменить режим).
type Notice struct {
	Reason  FailureReason
	Message string
	Mode    modepref.Mode
}

// Options — тайминги машины. Нулевые значения заменяются дефолтами.
type Options struct {
	// SettleDelay — пауза между сигналом загрузки и верификацией:
	// клиентский рендеринг часто рапортует "loaded" до отрисовки контента.
	SettleDelay time.Duration
	// TitlePollInterval — период фонового опроса заголовка документа.
	TitlePollInterval time.Duration
}

func (o *Options) defaults() {
	if o.SettleDelay == 0 {
		o.SettleDelay = 1500 * time.Millisecond
	}
	if o.TitlePollInterval == 0 {
		o.TitlePollInterval = time.Second
	}
}

// Negotiator — машина выбора режима доставки, по одной на вкладку.
// Кооперативная модель: все тайминги — отложенные задачи taskSet,
// отменяемые атомарно при новой цели или демонтаже.
type Negotiator struct {
	tabID     string
	relayBase string

	prefs    modepref.Store
	surface  Surface
	registry TabRegistry
	bus      Publisher
	logger   *zap.Logger
	opts     Options

	tasks *taskSet

	mu     sync.Mutex
	state  State
	mode   modepref.Mode
	target string
	retry  bool
	notice *Notice
}

func New(tabID, relayBase string, prefs modepref.Store, surface Surface,
	registry TabRegistry, bus Publisher, logger *zap.Logger, opts Options) *Negotiator {
	opts.defaults()
	return &Negotiator{
		tabID:     tabID,
		relayBase: relayBase,
		prefs:     prefs,
		surface:   surface,
		registry:  registry,
		bus:       bus,
		logger:    logger.With(zap.String("mod", "negotiator"), zap.String("tab_id", tabID)),
		opts:      opts,
		tasks:     newTaskSet(),
		state:     StateIdle,
		mode:      modepref.ModeRelayed,
	}
}

// Navigate начинает загрузку новой цели. Режим берется из сессионного
// предпочтения домена (дефолт — relayed). Все таймеры прошлой загрузки
// отменяются до старта новых, чтобы устаревшая верификация не выстрелила
// по свежему документу.
func (n *Negotiator) Navigate(ctx context.Context, target string) {
	n.tasks.CancelAll()

	mode := n.prefs.Get(ctx, target)

	n.mu.Lock()
	n.target = target
	n.mode = mode
	n.retry = false
	n.state = StateLoading
	n.notice = nil
	delivery := n.deliveryURLLocked()
	n.mu.Unlock()

	loading := true
	n.registry.UpdateTab(n.tabID, tabs.Update{URL: &target, Loading: &loading})

	n.logger.Debug("navigating", zap.String("url", target), zap.String("mode", string(mode)))
	n.surface.Render(delivery)
}

// OnSurfaceLoad — сигнал поверхности о завершении загрузки.
// Верификация откладывается на settle-задержку.
func (n *Negotiator) OnSurfaceLoad() {
	n.mu.Lock()
	if n.state != StateLoading {
		n.mu.Unlock()
		return
	}
	n.state = StateVerifying
	n.mu.Unlock()

	n.tasks.After(n.opts.SettleDelay, n.verify)
}

// OnSurfaceError — сетевой сбой самой поверхности.
func (n *Negotiator) OnSurfaceError() {
	n.fail(ReasonNetworkError, "network error")
}

// verify применяет эвристику проверки к документу поверхности.
func (n *Negotiator) verify() {
	html, err := n.surface.Document()
	if err != nil {
		// Документ недоступен — обычно X-Frame-Options на стороне сайта
		n.fail(ReasonCrossOriginBlocked, "cross-origin access blocked")
		return
	}

	insp := inspectDocument(html)
	if !insp.OK {
		n.fail(insp.Reason, fmt.Sprintf("verification failed: %s", insp.Reason))
		return
	}
	n.loaded(insp)
}

// loaded фиксирует подтвержденную загрузку: только здесь предпочтение
// домена перезаписывается текущим режимом.
func (n *Negotiator) loaded(insp inspection) {
	n.mu.Lock()
	n.state = StateLoaded
	n.notice = nil
	mode := n.mode
	target := n.target
	n.mu.Unlock()

	if err := n.prefs.Set(context.Background(), target, mode); err != nil {
		n.logger.Warn("mode preference not persisted", zap.Error(err))
	}

	loading := false
	upd := tabs.Update{Loading: &loading}
	if insp.Title != "" && insp.Title != loadingTitle {
		upd.Title = &insp.Title
	}
	n.registry.UpdateTab(n.tabID, upd)

	n.emit(activity.TypeNavigation, map[string]interface{}{
		"value":  fmt.Sprintf("Page loaded via %s", mode),
		"method": string(mode),
	})

	// Фоновый опрос заголовка: документ может переименовать себя позже
	n.tasks.Every(n.opts.TitlePollInterval, n.pollTitle)

	n.logger.Info("load verified", zap.String("url", target), zap.String("mode", string(mode)))
}

// fail переводит машину в Failed и поднимает уведомление с действиями
// восстановления. Сохраненное предпочтение домена не трогается:
// провалы управляют только переходным откатом, не персистентным выбором.
func (n *Negotiator) fail(reason FailureReason, message string) {
	n.mu.Lock()
	n.state = StateFailed
	mode := n.mode
	target := n.target
	n.notice = &Notice{
		Reason:  reason,
		Message: fmt.Sprintf("Failed to load with %s: %s", mode, message),
		Mode:    mode,
	}
	n.mu.Unlock()

	loading := false
	n.registry.UpdateTab(n.tabID, tabs.Update{Loading: &loading})

	n.emit(activity.TypeNavigation, map[string]interface{}{
		"value":  fmt.Sprintf("Failed with %s", mode),
		"method": string(mode),
		"reason": string(reason),
	})

	n.logger.Warn("load failed",
		zap.String("url", target),
		zap.String("mode", string(mode)),
		zap.String("reason", string(reason)))
}

// Retry повторяет загрузку в том же режиме по явному действию пользователя.
// Флаг retry говорит релею вернуть машиночитаемую ошибку вместо
// fallback-страницы — второго слоя HTML об ошибке быть не должно.
func (n *Negotiator) Retry() {
	n.tasks.CancelAll()

	n.mu.Lock()
	n.retry = true
	n.state = StateLoading
	n.notice = nil
	delivery := n.deliveryURLLocked()
	n.mu.Unlock()

	loading := true
	n.registry.UpdateTab(n.tabID, tabs.Update{Loading: &loading})
	n.surface.Render(delivery)
}

// SwitchMode переворачивает режим доставки и перезапускает загрузку.
func (n *Negotiator) SwitchMode() {
	n.tasks.CancelAll()

	n.mu.Lock()
	n.state = StateSwitching
	if n.mode == modepref.ModeRelayed {
		n.mode = modepref.ModeDirect
	} else {
		n.mode = modepref.ModeRelayed
	}
	mode := n.mode
	n.retry = false
	n.notice = nil
	n.state = StateLoading
	delivery := n.deliveryURLLocked()
	n.mu.Unlock()

	loading := true
	title := loadingTitle
	n.registry.UpdateTab(n.tabID, tabs.Update{Loading: &loading, Title: &title})

	n.emit(activity.TypeNavigation, map[string]interface{}{
		"value":  fmt.Sprintf("Switching to %s mode", mode),
		"method": "manual",
	})

	n.surface.Render(delivery)
}

// TryDirectMode обрабатывает запрос fallback-страницы релея.
func (n *Negotiator) TryDirectMode() {
	n.mu.Lock()
	relayed := n.mode == modepref.ModeRelayed
	n.mu.Unlock()

	if relayed {
		n.SwitchMode()
	}
}

// HandleRelayError обрабатывает сигнал proxyError из доставленного документа.
func (n *Negotiator) HandleRelayError(message string) {
	n.fail(ReasonRelayError, message)
}

// HandleTitleChanged обновляет заголовок вкладки по сообщению скрипта.
func (n *Negotiator) HandleTitleChanged(title string) {
	if title == "" || title == loadingTitle {
		return
	}
	n.registry.UpdateTab(n.tabID, tabs.Update{Title: &title})
}

// DismissNotice скрывает уведомление о провале.
func (n *Negotiator) DismissNotice() {
	n.mu.Lock()
	n.notice = nil
	n.mu.Unlock()
}

// Teardown отменяет все отложенные задачи и возвращает машину в Idle.
func (n *Negotiator) Teardown() {
	n.tasks.CancelAll()
	n.mu.Lock()
	n.state = StateIdle
	n.mu.Unlock()
}

// State возвращает текущее состояние машины.
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Mode возвращает текущий режим доставки.
func (n *Negotiator) Mode() modepref.Mode {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mode
}

// Notice возвращает активное уведомление (nil — нет провала).
func (n *Negotiator) Notice() *Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.notice
}

// DeliveryURL возвращает адрес, который должна грузить поверхность.
func (n *Negotiator) DeliveryURL() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.deliveryURLLocked()
}

func (n *Negotiator) deliveryURLLocked() string {
	if n.mode == modepref.ModeDirect {
		return n.target
	}
	return fmt.Sprintf("%s/relay?url=%s&retry=%t", n.relayBase, url.QueryEscape(n.target), n.retry)
}

// pollTitle — фолбэк для заголовков, измененных мимо скрипта наблюдения.
func (n *Negotiator) pollTitle() {
	html, err := n.surface.Document()
	if err != nil {
		return // cross-origin: полагаемся на сообщения titleChanged
	}

	insp := inspectDocument(html)
	if insp.Title == "" || insp.Title == loadingTitle {
		return
	}

	if tab, ok := n.registry.Get(n.tabID); ok && tab.Title != insp.Title {
		n.registry.UpdateTab(n.tabID, tabs.Update{Title: &insp.Title})
	}
}

func (n *Negotiator) emit(t activity.EventType, details map[string]interface{}) {
	if n.bus == nil {
		return
	}
	n.mu.Lock()
	target := n.target
	n.mu.Unlock()

	n.bus.Publish(n.tabID, []activity.Event{{
		Type:    t,
		URL:     target,
		Details: details,
	}})
}
