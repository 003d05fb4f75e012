package engine

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

type Metrics struct {
	// Traffic: исходы заявок по конечному состоянию
	FulfillmentTotal *prometheus.CounterVec

	// Latency: длительность шагов автомата
	StepDuration *prometheus.HistogramVec

	// Errors: классификация отказов по шагу и виду
	ErrorTotal *prometheus.CounterVec

	// Вызовы инструментов агента
	ToolCalls *prometheus.CounterVec

	// Деградация: сколько раз сработал фолбэк вместо LLM
	AdvisorFallbacks *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker (0 - закрыт, 1 - полуоткрыт, 2 - открыт)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		FulfillmentTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "logistics_fulfillments_total",
			Help: "Fulfillment workflows by final state.",
		}, []string{"state"}),

		StepDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "logistics_step_duration_seconds",
			Help:    "Histogram of workflow step latencies.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15, 60},
		}, []string{"step", "status"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "logistics_errors_total",
			Help: "Workflow failures by step and kind.",
		}, []string{"step", "kind"}),

		ToolCalls: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "logistics_tool_calls_total",
			Help: "Agent tool invocations by tool and result.",
		}, []string{"tool", "result"}),

		AdvisorFallbacks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "logistics_advisor_fallbacks_total",
			Help: "Rule-based fallbacks used instead of the LLM.",
		}, []string{"topic"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "logistics_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"breaker"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "logistics_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),
	}
}

// BreakerHook - колбэк для gobreaker.Settings.OnStateChange.
func (m *Metrics) BreakerHook() func(name string, from, to gobreaker.State) {
	return func(name string, _, to gobreaker.State) {
		m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
	}
}

// RecordTool реализует счетчик для реестра инструментов.
func (m *Metrics) RecordTool(tool string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.ToolCalls.WithLabelValues(tool, result).Inc()
}

// Observer считает исходы по событиям.
func (m *Metrics) Observer() Observer {
	return ObserverFunc(func(_ context.Context, ev Event) {
		if ev.State.Terminal() {
			m.FulfillmentTotal.WithLabelValues(string(ev.State)).Inc()
		}
	})
}
