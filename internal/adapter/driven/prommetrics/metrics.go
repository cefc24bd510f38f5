// Package prommetrics records bridge activity as Prometheus metrics.
package prommetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ericfisherdev/mastobridge/internal/domain/port/driven"
)

const namespace = "mastobridge"

// Metrics implements driven.Metrics on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	cycleDuration  prometheus.Histogram
	cycleAccounts  prometheus.Gauge
	accountSyncs   *prometheus.CounterVec
	delivered      *prometheus.CounterVec
	postsPublished prometheus.Counter
}

var _ driven.Metrics = (*Metrics)(nil)

// New creates Metrics with Go runtime and process collectors registered.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_cycle_duration_seconds",
		Help:      "Duration in seconds of a pass over all accounts.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})
	m.cycleAccounts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sync_cycle_accounts",
		Help:      "Accounts visited by the last pass.",
	})
	m.accountSyncs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "account_syncs_total",
		Help:      "Account syncs by result.",
	}, []string{"result"})
	m.delivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_delivered_total",
		Help:      "Chat messages delivered by stream.",
	}, []string{"stream"})
	m.postsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "posts_published_total",
		Help:      "Posts published on behalf of local users.",
	})

	m.registry.MustRegister(
		m.cycleDuration,
		m.cycleAccounts,
		m.accountSyncs,
		m.delivered,
		m.postsPublished,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) CycleCompleted(duration time.Duration, accounts int) {
	m.cycleDuration.Observe(duration.Seconds())
	m.cycleAccounts.Set(float64(accounts))
}

func (m *Metrics) AccountSynced(result string) {
	m.accountSyncs.WithLabelValues(result).Inc()
}

func (m *Metrics) MessagesDelivered(kind string, n int) {
	if n <= 0 {
		return
	}
	m.delivered.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) PostPublished() {
	m.postsPublished.Inc()
}
