package negotiator

import (
	"sync"
	"time"
)

// taskSet — кооперативные отложенные задачи негоциатора (settle-задержка,
// опрос заголовка). Никаких блокирующих ожиданий: только запланированные
// колбэки. CancelAll отменяет все задачи атомарно через поколение,
// чтобы устаревший таймер прошлой загрузки не выстрелил по новому документу.
type taskSet struct {
	mu     sync.Mutex
	gen    uint64
	timers map[*time.Timer]struct{}
}

func newTaskSet() *taskSet {
	return &taskSet{timers: make(map[*time.Timer]struct{})}
}

// After планирует одноразовый колбэк. Колбэк не исполнится,
// если к моменту срабатывания задачи были отменены.
func (ts *taskSet) After(d time.Duration, fn func()) {
	ts.mu.Lock()
	gen := ts.gen
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		ts.mu.Lock()
		stale := ts.gen != gen
		delete(ts.timers, t)
		ts.mu.Unlock()
		if !stale {
			fn()
		}
	})
	ts.timers[t] = struct{}{}
	ts.mu.Unlock()
}

// Every планирует повторяющийся колбэк с периодом d.
// Перепланирование прекращается после CancelAll.
func (ts *taskSet) Every(d time.Duration, fn func()) {
	ts.mu.Lock()
	gen := ts.gen
	ts.mu.Unlock()
	ts.every(gen, d, fn)
}

func (ts *taskSet) every(gen uint64, d time.Duration, fn func()) {
	ts.After(d, func() {
		fn()

		// Проверяем поколение еще раз: CancelAll мог случиться во время fn
		ts.mu.Lock()
		alive := ts.gen == gen
		ts.mu.Unlock()
		if alive {
			ts.every(gen, d, fn)
		}
	})
}

// CancelAll отменяет все ожидающие задачи. Уже начавшие исполняться
// колбэки не прерываются, но перепланирований больше не будет.
func (ts *taskSet) CancelAll() {
	ts.mu.Lock()
	ts.gen++
	for t := range ts.timers {
		t.Stop()
		delete(ts.timers, t)
	}
	ts.mu.Unlock()
}
