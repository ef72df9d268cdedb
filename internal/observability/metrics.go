package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nap_match"

// Metrics holds the Prometheus counters, histograms, and gauges for a matching run.
type Metrics struct {
	CustomersProcessed prometheus.Counter
	Outcomes           *prometheus.CounterVec // labels: outcome={MATCHED,GEOCODING_FAILED,NO_NAP_WITHIN_RADIUS,NO_COMPATIBLE_STREET}
	SuspiciousMatches  prometheus.Counter
	MatchDistance      prometheus.Histogram
	NapsExcluded       *prometheus.CounterVec // labels: reason={zero_capacity,over_threshold,geocode_failed}
	BatchRunning       prometheus.Gauge
	BatchDuration      prometheus.Histogram

	// Geocoding metrics.
	GeocodeRequests     *prometheus.CounterVec // labels: outcome={success,empty,error,retry}
	GeocodeCache        *prometheus.CounterVec // labels: result={hit,miss,stale}
	GeocodeAPIDuration  prometheus.Histogram
	GeocodeThrottleWait prometheus.Histogram
	CacheFlushes        *prometheus.CounterVec // labels: result={ok,error}

	// Result sinks.
	SinkWrites *prometheus.CounterVec // labels: sink, result={ok,error}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.CustomersProcessed,
		m.Outcomes,
		m.SuspiciousMatches,
		m.MatchDistance,
		m.NapsExcluded,
		m.BatchRunning,
		m.BatchDuration,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeThrottleWait,
		m.CacheFlushes,
		m.SinkWrites,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		CustomersProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "customers_processed_total",
			Help:      "Customers that produced an assignment result.",
		}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignment_outcomes_total",
			Help:      "Assignment results by outcome.",
		}, []string{"outcome"}),
		SuspiciousMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suspicious_matches_total",
			Help:      "Matches closer than the suspicious distance between different addresses.",
		}),
		MatchDistance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_distance_meters",
			Help:      "Distance from customer to assigned NAP.",
			Buckets:   []float64{5, 10, 25, 50, 75, 100, 125, 150, 200},
		}),
		NapsExcluded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "naps_excluded_total",
			Help:      "NAPs left out of candidacy by reason.",
		}, []string{"reason"}),
		BatchRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_running",
			Help:      "1 while a batch is running, 0 otherwise.",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of a complete batch run.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Gazetteer requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocode cache lookups by result.",
		}, []string{"result"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Gazetteer request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		GeocodeThrottleWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_throttle_wait_seconds",
			Help:      "Time spent waiting for the minimum request interval.",
			Buckets:   []float64{0, 0.1, 0.25, 0.5, 1, 1.5, 2},
		}),
		CacheFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_flushes_total",
			Help:      "Geocode cache flushes by result.",
		}, []string{"result"}),
		SinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_writes_total",
			Help:      "Result batches written to sinks.",
		}, []string{"sink", "result"}),
	}
}
