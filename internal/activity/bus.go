package activity

/*
Файл bus.go реализует шину активности — приемник пачек наблюдений из
встроенных документов с асинхронной записью во внешнее хранилище.

Ключевые особенности архитектуры:
- Non-blocking intake: прием пачки не ждет записи в БД. Горячий путь
  (HTTP-ингест сообщений хоста) не зависит от задержек хранилища.
- Batching: события копятся в памяти и уходят в хранилище bulk-вставкой
  по таймеру или при достижении лимита пачки.
- Ordering: внутри одной вкладки пачки доставляются в порядке flush'а,
  порядок событий внутри пачки не перемешивается. Между вкладками
  порядок не гарантируется — это контракт потребителя.
- Drain Pattern: при остановке вход запирается, воркер вычитывает
  остатки канала и делает финальный flush. Потерь при рестарте нет.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xela07ax/embedrelay/internal/infra"
)

// Recorder определяет, куда физически уходят события.
type Recorder interface {
	// RecordBatch сохраняет пачку событий за один раз и возвращает число записанных
	RecordBatch(ctx context.Context, events []Event) (int, error)
}

// Bus принимает пачки наблюдений, помечает их идентичностью вкладки
// и асинхронно переправляет во внешнее хранилище активности.
type Bus struct {
	ch     chan []Event
	repo   Recorder
	logger *zap.Logger
	wg     sync.WaitGroup

	batchSize     int
	flushInterval time.Duration

	// Заполненность буфера для мониторинга (backpressure)
	fill prometheus.Gauge

	// Страховка от записи после остановки
	isClosed int32

	// Монотонность таймстемпов в рамках одной вкладки
	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func NewBus(cfg infra.BusConfig, repo Recorder, fill prometheus.Gauge, logger *zap.Logger) *Bus {
	return &Bus{
		ch:            make(chan []Event, cfg.BufferSize),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "activity-bus")),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		fill:          fill,
		lastSeen:      make(map[string]time.Time),
	}
}

func (b *Bus) Start() {
	b.wg.Add(1)
	go b.worker()
}

// Stop запирает вход и ждет, пока воркер допишет остатки буфера.
func (b *Bus) Stop() {
	atomic.StoreInt32(&b.isClosed, 1)

	// Крошечная пауза, чтобы текущие Publish успели проскочить
	time.Sleep(10 * time.Millisecond)

	b.logger.Info("stopping activity bus: closing channel and flushing buffer...")
	close(b.ch)
	b.wg.Wait()
	b.logger.Info("activity bus stopped gracefully")
}

// Publish принимает пачку событий от одной вкладки.
// Помечает события tabID, достраивает ID и таймстемпы, выравнивает
// таймстемпы до монотонно неубывающих в рамках вкладки.
// Никогда не блокируется: при переполнении буфера пачка сбрасывается в лог.
func (b *Bus) Publish(tabID string, events []Event) {
	if len(events) == 0 || tabID == "" {
		return
	}

	now := time.Now()
	b.mu.Lock()
	last := b.lastSeen[tabID]
	for i := range events {
		events[i].TabID = tabID
		if events[i].ID == "" {
			events[i].ID = uuid.New().String()
		}
		if events[i].Timestamp.IsZero() {
			events[i].Timestamp = now
		}
		// Часы внутри документа могут прыгать назад — выравниваем,
		// порядок внутри пачки при этом не меняется
		if events[i].Timestamp.Before(last) {
			events[i].Timestamp = last
		}
		last = events[i].Timestamp
		events[i].RecordedAt = now
	}
	b.lastSeen[tabID] = last
	b.mu.Unlock()

	if atomic.LoadInt32(&b.isClosed) == 1 {
		b.logger.Warn("activity batch dropped: bus is stopping", zap.String("tab_id", tabID))
		return
	}

	// Load Shedding: хранилище тормозит — жертвуем пачкой, но не горячим путем
	select {
	case b.ch <- events:
		if b.fill != nil {
			b.fill.Set(float64(len(b.ch)))
		}
	default:
		b.logger.Error("activity_buffer_overflow",
			zap.String("tab_id", tabID),
			zap.Int("batch_size", len(events)))
	}
}

func (b *Bus) worker() {
	defer b.wg.Done()

	pending := make([]Event, 0, b.batchSize)
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(pending) == 0 {
			return
		}
		// Background: основной контекст на shutdown уже может быть закрыт
		if err := b.writeWithRetry(context.Background(), pending); err != nil {
			b.logger.Error("activity flush failed", zap.Error(err), zap.Int("count", len(pending)))
		}
		pending = pending[:0]
	}

	for {
		select {
		case batch, ok := <-b.ch:
			if !ok {
				// Канал закрыт в Stop(). К этому моменту воркер уже вычитал
				// всё, что оставалось в очереди — финальный flush и выход.
				flush()
				b.logger.Info("activity worker finished")
				return
			}
			pending = append(pending, batch...)
			if b.fill != nil {
				b.fill.Set(float64(len(b.ch)))
			}
			if len(pending) >= b.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// writeWithRetry переживает кратковременные сбои хранилища.
// Ретраится только запись в БД — к сетевым вызовам релея это не относится.
func (b *Bus) writeWithRetry(ctx context.Context, events []Event) error {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(3),
	)
	return r.Do(func() error {
		_, err := b.repo.RecordBatch(ctx, events)
		return err
	})
}
