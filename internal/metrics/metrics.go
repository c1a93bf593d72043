package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counts coordinator operations by outcome kind.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "negotiation_operations_total",
			Help: "Total number of negotiation operations (by operation and result).",
		},
		[]string{"operation", "result"}, // result = "ok" | error kind
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "negotiation_operation_duration_seconds",
			Help:    "Duration of negotiation operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms → ~4s
		},
		[]string{"operation"},
	)

	// Tracks records moved to EXPIRED by the sweeper.
	ExpiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "negotiation_expired_total",
			Help: "Number of RFQs and bids expired by the sweeper.",
		},
		[]string{"entity"}, // rfq | bid
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "negotiation_sweep_duration_seconds",
			Help:    "Duration of one expiry sweep run.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Tracks NATS messages published by subject and result.
	NATSMessageCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_total",
			Help: "Total number of NATS messages processed.",
		},
		[]string{"subject", "result"}, // result = "ok" | "error"
	)

	NATSMessageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nats_message_latency_seconds",
			Help:    "Time taken to publish NATS messages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)

	// Outbound catalog calls.
	CatalogRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_requests_total",
			Help: "Total number of product catalog lookups (by result).",
		},
		[]string{"result"}, // ok | not_found | error | cached
	)

	// Tracks cache hits and misses for secrets and catalog entries.
	CacheAccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_access_total",
			Help: "Number of cache hits/misses by cache.",
		},
		[]string{"cache", "result"}, // hit | miss
	)

	// Tracks total errors (aggregated).
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "negotiation_errors_total",
			Help: "Count of service-level errors by component.",
		},
		[]string{"component", "reason"},
	)

	// Gauges the last completed sweep (seconds since epoch).
	LastSweepTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "negotiation_last_sweep_timestamp",
			Help: "Timestamp (unix seconds) of the last completed expiry sweep.",
		},
	)
)

// ObserveDuration records the time taken since start on the given histogram.
func ObserveDuration(v interface{}, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case prometheus.Histogram:
		metric.Observe(duration)
	default:
		// counters are not meant for duration tracking
	}
}

func IncOperation(operation, result string) {
	OperationsTotal.WithLabelValues(operation, result).Inc()
}

func IncExpired(entity string, n int) {
	ExpiredTotal.WithLabelValues(entity).Add(float64(n))
}

func IncNATSMessage(subject, result string) {
	NATSMessageCount.WithLabelValues(subject, result).Inc()
}

func IncCatalog(result string) {
	CatalogRequestsTotal.WithLabelValues(result).Inc()
}

func IncCache(cache, result string) {
	CacheAccess.WithLabelValues(cache, result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func SetLastSweep(t time.Time) {
	LastSweepTimestamp.Set(float64(t.Unix()))
}
