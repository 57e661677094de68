package attachments

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Fetch kinds used as metric labels and in failure events.
const (
	KindTrades    = "trades"
	KindOrders    = "orders"
	KindPositions = "positions"
)

// Metrics holds the Prometheus collectors of the attachment engine.
// A nil *Metrics records nothing.
type Metrics struct {
	CacheHits     *prometheus.CounterVec   // labels: kind
	CacheMisses   *prometheus.CounterVec   // labels: kind
	FetchFailures *prometheus.CounterVec   // labels: kind
	FetchDuration *prometheus.HistogramVec // labels: kind
	Refetches     *prometheus.CounterVec   // labels: relation, result
	Sessions      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attachments_cache_hits_total",
			Help: "Symbol-root and attached-position cache hits",
		}, []string{"kind"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attachments_cache_misses_total",
			Help: "Lookups that went to storage",
		}, []string{"kind"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attachments_fetch_failures_total",
			Help: "Storage fetches that failed and resolved to an empty list",
		}, []string{"kind"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "attachments_fetch_duration_seconds",
			Help:    "Storage fetch latency by kind",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		Refetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attachments_mapping_refetches_total",
			Help: "Mapping query refetches by relation and result",
		}, []string{"relation", "result"}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "attachments_sessions",
			Help: "Per-user engine instances alive",
		}),
	}

	reg.MustRegister(
		m.CacheHits,
		m.CacheMisses,
		m.FetchFailures,
		m.FetchDuration,
		m.Refetches,
		m.Sessions,
	)
	return m
}

func (m *Metrics) hit(kind string) {
	if m != nil {
		m.CacheHits.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) miss(kind string) {
	if m != nil {
		m.CacheMisses.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) failed(kind string) {
	if m != nil {
		m.FetchFailures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) observe(kind string, start time.Time) {
	if m != nil {
		m.FetchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) refetched(relation string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.Refetches.WithLabelValues(relation, result).Inc()
}

func (m *Metrics) sessionStarted() {
	if m != nil {
		m.Sessions.Inc()
	}
}

func (m *Metrics) sessionEnded() {
	if m != nil {
		m.Sessions.Dec()
	}
}
