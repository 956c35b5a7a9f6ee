package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics exposes counters/histograms for the resource cache.
type CacheMetrics struct {
	resolveTotal  *prometheus.CounterVec
	fetchTotal    *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec
	discardTotal  *prometheus.CounterVec
	subscriptions prometheus.Gauge
}

func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		resolveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dashsync",
			Subsystem: "cache",
			Name:      "resolve_total",
			Help:      "Resolve calls by resource and outcome (hit, stale, miss, coalesced)",
		}, []string{"resource", "outcome"}),
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dashsync",
			Subsystem: "cache",
			Name:      "fetch_total",
			Help:      "Upstream fetches issued by the cache",
		}, []string{"resource", "status"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dashsync",
			Subsystem: "cache",
			Name:      "fetch_latency_seconds",
			Help:      "Latency of upstream fetches",
			Buckets:   prometheus.DefBuckets,
		}, []string{"resource"}),
		discardTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dashsync",
			Subsystem: "cache",
			Name:      "discarded_results_total",
			Help:      "Fetch results dropped because a newer fetch had been issued",
		}, []string{"resource"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dashsync",
			Subsystem: "cache",
			Name:      "active_subscriptions",
			Help:      "Currently mounted cache subscriptions",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.resolveTotal, m.fetchTotal, m.fetchLatency, m.discardTotal, m.subscriptions)
	return m
}

func (m *CacheMetrics) ObserveResolve(resource, outcome string) {
	if m == nil {
		return
	}
	m.resolveTotal.WithLabelValues(resource, outcome).Inc()
}

func (m *CacheMetrics) ObserveFetch(resource string, err error, seconds float64) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.fetchTotal.WithLabelValues(resource, status).Inc()
	m.fetchLatency.WithLabelValues(resource).Observe(seconds)
}

func (m *CacheMetrics) ObserveDiscard(resource string) {
	if m == nil {
		return
	}
	m.discardTotal.WithLabelValues(resource).Inc()
}

func (m *CacheMetrics) SubscriptionMounted() {
	if m == nil {
		return
	}
	m.subscriptions.Inc()
}

func (m *CacheMetrics) SubscriptionReleased() {
	if m == nil {
		return
	}
	m.subscriptions.Dec()
}
