package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for EventsTotal.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// Metrics holds the indexer's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	EventsTotal      *prometheus.CounterVec
	EventDuration    *prometheus.HistogramVec
	LastBlock        prometheus.Gauge
	DedupeHits       *prometheus.CounterVec
	GatewayFailures  prometheus.Counter
	ChainHead        prometheus.Gauge
	AlertsDispatched *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mmledger_events_total",
			Help: "Events handled by the pipeline, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		EventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mmledger_event_duration_seconds",
			Help:    "Time to reconcile and commit one event.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"kind"}),
		LastBlock: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mmledger_last_block",
			Help: "Block number of the most recently committed event.",
		}),
		DedupeHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mmledger_dedupe_hits_total",
			Help: "Redelivered events skipped, by dedupe tier.",
		}, []string{"tier"}),
		GatewayFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "mmledger_gateway_failures_total",
			Help: "Events aborted because an on-chain read failed.",
		}),
		ChainHead: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mmledger_chain_head",
			Help: "Latest chain head observed by the log follower.",
		}),
		AlertsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mmledger_alerts_total",
			Help: "Liquidation alerts sent, by result.",
		}, []string{"result"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
