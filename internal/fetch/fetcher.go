package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/xela07ax/embedrelay/internal/infra"
)

// forwardableHeaders — единственные заголовки входящего запроса, которые
// безопасно переносить в исходящий. Cookies и Authorization не форвардим никогда.
var forwardableHeaders = []string{"Referer", "Origin"}

// Result содержит финальный ответ источника (после всех редиректов).
type Result struct {
	Body        []byte
	Status      int
	ContentType string
}

// Fetcher выполняет исходящую загрузку контента.
// Stateless между вызовами: каждый запрос владеет своим таймаутом и контекстом.
type Fetcher struct {
	client  *resty.Client
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	logger  *zap.Logger

	// Гейдж состояния предохранителя (0 - ок, 1 - выбило), опционален
	breakerGauge prometheus.Gauge
}

func New(cfg infra.RelayConfig, logger *zap.Logger) *Fetcher {
	client := resty.New().
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8").
		SetHeader("Accept-Language", "en-US,en;q=0.9").
		SetHeader("Cache-Control", "no-cache").
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10)).
		SetDisableWarn(true)

	f := &Fetcher{
		client:  client,
		timeout: cfg.FetchTimeout,
		logger:  logger.With(zap.String("mod", "fetcher")),
	}

	// Предохранитель на внешние источники: если сайт стабильно падает,
	// перестаем жечь 10-секундные таймауты и отвечаем сразу
	f.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "relay-upstream",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			f.logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()), zap.String("to", to.String()))
			if f.breakerGauge != nil {
				if to == gobreaker.StateOpen {
					f.breakerGauge.Set(1)
				} else {
					f.breakerGauge.Set(0)
				}
			}
		},
	})

	return f
}

// SetBreakerGauge подключает метрику состояния предохранителя.
func (f *Fetcher) SetBreakerGauge(g prometheus.Gauge) {
	f.breakerGauge = g
}

// Fetch загружает целевой URL с форвардингом безопасного набора заголовков.
// Редиректы следуются прозрачно: наружу уходит только финальный ответ.
func (f *Fetcher) Fetch(ctx context.Context, target *url.URL, inbound http.Header) (*Result, error) {
	// Жесткий таймаут: по истечении контекст обрывает и соединение, и чтение тела
	tCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req := f.client.R().SetContext(tCtx)
	for _, h := range forwardableHeaders {
		if v := inbound.Get(h); v != "" {
			req.SetHeader(h, v)
		}
	}

	cbResult, err := f.cb.Execute(func() (interface{}, error) {
		resp, err := req.Get(target.String())
		if err != nil {
			return nil, err
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			return nil, &UpstreamError{Status: status, Message: resp.Status()}
		}

		return &Result{
			Body:        resp.Body(),
			Status:      status,
			ContentType: resp.Header().Get("Content-Type"),
		}, nil
	})

	if err != nil {
		return nil, f.classifyErr(err, target)
	}
	return cbResult.(*Result), nil
}

// classifyErr сводит сырые транспортные ошибки к таксономии релея.
func (f *Fetcher) classifyErr(err error, target *url.URL) error {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		f.logger.Warn("upstream error",
			zap.String("url", target.String()),
			zap.Int("status", upErr.Status))
		return upErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		f.logger.Warn("fetch timeout", zap.String("url", target.String()))
		return ErrTimeout
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		f.logger.Warn("circuit breaker rejected fetch", zap.String("url", target.String()))
		return ErrNetwork
	}

	f.logger.Warn("fetch failed", zap.String("url", target.String()), zap.Error(err))
	return ErrNetwork
}
