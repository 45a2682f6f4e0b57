package utils

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics содержит метрики приложения на собственном реестре
type Metrics struct {
	Registry *prometheus.Registry

	Verifications      *prometheus.CounterVec
	Orders             *prometheus.CounterVec
	SideEffectFailures *prometheus.CounterVec
	GatewayLatency     *prometheus.HistogramVec
	HTTPRequests       *prometheus.CounterVec
	HTTPLatency        *prometheus.HistogramVec
}

// NewMetrics создает и регистрирует все коллекторы
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_verifications_total",
			Help: "Payment verifications by outcome.",
		}, []string{"outcome"}),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_orders_total",
			Help: "Gateway order creation attempts by outcome.",
		}, []string{"outcome"}),
		SideEffectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "side_effect_failures_total",
			Help: "Post-commit tasks that failed, by task.",
		}, []string{"task"}),
		GatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Latency of payment gateway calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method and status.",
		}, []string{"method", "status"}),
		HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Verifications,
		m.Orders,
		m.SideEffectFailures,
		m.GatewayLatency,
		m.HTTPRequests,
		m.HTTPLatency,
	)
	return m
}

// Handler отдает метрики в формате Prometheus
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// RecordVerification учитывает результат проверки платежа
func (m *Metrics) RecordVerification(outcome string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(outcome).Inc()
}

// RecordOrder учитывает попытку открыть заказ в шлюзе
func (m *Metrics) RecordOrder(outcome string) {
	if m == nil {
		return
	}
	m.Orders.WithLabelValues(outcome).Inc()
}

// RecordSideEffectFailure учитывает сбой фоновой задачи
func (m *Metrics) RecordSideEffectFailure(task string) {
	if m == nil {
		return
	}
	m.SideEffectFailures.WithLabelValues(task).Inc()
}

// ObserveGateway записывает длительность вызова шлюза
func (m *Metrics) ObserveGateway(operation string, startTime time.Time) {
	if m == nil {
		return
	}
	m.GatewayLatency.WithLabelValues(operation).Observe(time.Since(startTime).Seconds())
}

// RecordRequest записывает метрики HTTP-запроса
func (m *Metrics) RecordRequest(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(method).Observe(duration.Seconds())
}
