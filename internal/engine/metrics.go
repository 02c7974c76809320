package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени заняла обработка вызова инструмента
	RequestDuration *prometheus.HistogramVec

	// Traffic: общее кол-во вызовов
	TotalRequests *prometheus.CounterVec

	// Errors: отказы по коду каталога
	DenialTotal *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Количество активных рубильников по уровням
	KillSwitchActive *prometheus.GaugeVec

	// Audit: заполненность буфера AgentFS (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_tool_request_duration_seconds",
			Help:    "Histogram of tool call latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"tool", "status"}),

		TotalRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_tool_requests_total",
			Help: "Total number of tool calls.",
		}, []string{"tool", "tenant"}),

		DenialTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_denials_total",
			Help: "Total number of rejected tool calls by error code.",
		}, []string{"code"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "sentinel_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=open, 0.5=half-open).",
		}, []string{"tool"}),

		KillSwitchActive: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "sentinel_killswitch_active",
			Help: "Number of suspended kill switches by level.",
		}, []string{"level"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_audit_buffer_utilization",
			Help: "Current number of events in the audit buffer.",
		}),
	}
}
