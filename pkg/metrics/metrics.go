// Package metrics exposes the pipeline's Prometheus /metrics surface.
// Collectors hang off an instance-held prometheus.Registry rather than
// the default registry, so more than one Metrics can exist in a test
// process without a double-registration panic.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/histogram the pipeline exposes: events
// processed/mapped/failed, LLM invocations by kind, gate pass/block,
// cost today, map latency, gate latency.
type Metrics struct {
	registry *prometheus.Registry

	eventsProcessed *prometheus.CounterVec
	eventsMapped    *prometheus.CounterVec
	eventsFailed    *prometheus.CounterVec

	llmInvocations *prometheus.CounterVec
	llmCostToday   prometheus.Gauge

	gateDecisions *prometheus.CounterVec

	mapLatency  prometheus.Histogram
	gateLatency prometheus.Histogram

	webhookDeliveries *prometheus.CounterVec
}

// New constructs and registers every metric against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "langhookd_events_processed_total",
			Help: "Total raw events consumed by the map worker, by source.",
		}, []string{"source"}),
		eventsMapped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "langhookd_events_mapped_total",
			Help: "Total canonical events successfully emitted, by publisher.",
		}, []string{"publisher"}),
		eventsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "langhookd_events_failed_total",
			Help: "Total raw events that failed mapping and were dead-lettered, by reason.",
		}, []string{"source", "reason"}),
		llmInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "langhookd_llm_invocations_total",
			Help: "Total LLM Broker invocations, by prompt kind and outcome.",
		}, []string{"kind", "outcome"}),
		llmCostToday: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "langhookd_llm_cost_today_usd",
			Help: "Estimated USD spent on LLM calls since the last UTC rollover.",
		}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "langhookd_gate_decisions_total",
			Help: "Total subscription gate evaluations, by result.",
		}, []string{"result"}),
		mapLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "langhookd_map_latency_seconds",
			Help:    "Time to resolve and publish a canonical event from a raw event.",
			Buckets: prometheus.DefBuckets,
		}),
		gateLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "langhookd_gate_latency_seconds",
			Help:    "Time spent evaluating a subscription's LLM gate.",
			Buckets: prometheus.DefBuckets,
		}),
		webhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "langhookd_webhook_deliveries_total",
			Help: "Total subscription webhook delivery attempts, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.eventsProcessed, m.eventsMapped, m.eventsFailed,
		m.llmInvocations, m.llmCostToday, m.gateDecisions,
		m.mapLatency, m.gateLatency, m.webhookDeliveries,
	)
	return m
}

// Handler returns the Prometheus HTTP handler for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncEventsProcessed(source string)   { m.eventsProcessed.WithLabelValues(source).Inc() }
func (m *Metrics) IncEventsMapped(publisher string)   { m.eventsMapped.WithLabelValues(publisher).Inc() }
func (m *Metrics) IncEventsFailed(source, reason string) {
	m.eventsFailed.WithLabelValues(source, reason).Inc()
}

func (m *Metrics) IncLLMInvocation(kind, outcome string) {
	m.llmInvocations.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) SetLLMCostToday(usd float64) { m.llmCostToday.Set(usd) }

func (m *Metrics) IncGateDecision(result string) { m.gateDecisions.WithLabelValues(result).Inc() }

func (m *Metrics) ObserveMapLatency(d time.Duration)  { m.mapLatency.Observe(d.Seconds()) }
func (m *Metrics) ObserveGateLatency(d time.Duration) { m.gateLatency.Observe(d.Seconds()) }

func (m *Metrics) IncWebhookDelivery(outcome string) {
	m.webhookDeliveries.WithLabelValues(outcome).Inc()
}
