package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени занял проход (включая исходящую загрузку)
	RequestDuration *prometheus.HistogramVec

	// Traffic: общее кол-во запросов к релею
	TotalRequests *prometheus.CounterVec

	// Errors: классификация отказов
	ErrorTotal *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker исходящих загрузок (0 - ок, 1 - выбило)
	CircuitBreakerState prometheus.Gauge

	// Activity: заполненность буфера шины событий (backpressure)
	ActivityBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "embedrelay_request_duration_seconds",
			Help:    "Histogram of relay request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"outcome"}),

		TotalRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "embedrelay_requests_total",
			Help: "Total number of relay requests.",
		}, []string{"content_kind"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "embedrelay_errors_total",
			Help: "Total number of errors by type.",
		}, []string{"type"}), // типы: invalid_url, blocked, timeout, network, upstream

		CircuitBreakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "embedrelay_circuit_breaker_state",
			Help: "Current state of the upstream circuit breaker (0=closed, 1=open).",
		}),

		ActivityBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "embedrelay_activity_buffer_utilization",
			Help: "Current number of events in the activity bus buffer.",
		}),
	}
}
