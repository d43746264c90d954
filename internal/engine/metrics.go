package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: входящие сообщения живого канала по типу
	Messages *prometheus.CounterVec

	// Errors: отброшенные сообщения (malformed, unknown_type, closed)
	MessagesDropped *prometheus.CounterVec

	RecordsIngested prometheus.Counter
	RecordsEvicted  prometheus.Counter

	// Saturation: заполненность окна относительно CAP
	WindowSize prometheus.Gauge

	// 1 = живой канал подключён
	LiveConnected prometheus.Gauge

	BootstrapDuration prometheus.Histogram

	// Latency запросов к REST-апстриму (включая повторы)
	UpstreamDuration *prometheus.HistogramVec

	// Состояние Circuit Breaker (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState *prometheus.GaugeVec

	SelectionChanges *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		Messages: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "attackmap_messages_total",
			Help: "Total number of live channel messages received by type.",
		}, []string{"type"}),

		MessagesDropped: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "attackmap_messages_dropped_total",
			Help: "Total number of live channel messages dropped by reason.",
		}, []string{"reason"}),

		RecordsIngested: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "attackmap_records_ingested_total",
			Help: "Total number of records applied to the history window.",
		}),

		RecordsEvicted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "attackmap_records_evicted_total",
			Help: "Total number of records evicted from the history window tail.",
		}),

		WindowSize: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "attackmap_window_size",
			Help: "Current number of records in the history window.",
		}),

		LiveConnected: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "attackmap_live_connected",
			Help: "Whether the live channel is connected (1) or not (0).",
		}),

		BootstrapDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "attackmap_bootstrap_duration_seconds",
			Help:    "Time spent fetching the bootstrap snapshot.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),

		UpstreamDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "attackmap_upstream_request_duration_seconds",
			Help:    "Histogram of upstream REST request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"endpoint", "status"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "attackmap_circuit_breaker_state",
			Help: "Current state of the upstream circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"endpoint"}),

		SelectionChanges: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "attackmap_selection_changes_total",
			Help: "Total number of selection state changes by source.",
		}, []string{"source"}),
	}
}
