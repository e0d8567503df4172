package clientrt

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for operation invocations,
// their attempts and the retry subsystem. It is safe for concurrent use.
type MetricsCollector struct {
	attemptsTotal     *prometheus.CounterVec
	retriesTotal      *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	inFlight          *prometheus.GaugeVec

	tokenBucketAvailable *prometheus.GaugeVec
	rateLimitedTotal     *prometheus.CounterVec
	timeoutsTotal        *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using supplied registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	mc := &MetricsCollector{
		attemptsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "clientrt_attempts_total",
				Help: "Total number of attempts, by outcome",
			},
			[]string{"operation", "outcome"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "clientrt_retries_total",
				Help: "Total number of retries, by retry reason",
			},
			[]string{"operation", "reason"},
		),
		operationDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clientrt_operation_duration_seconds",
				Help:    "Duration of operation invocations in seconds, all attempts included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "outcome"},
		),
		inFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "clientrt_operations_in_flight",
				Help: "Number of operation invocations currently in flight",
			},
			[]string{"operation"},
		),
		tokenBucketAvailable: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "clientrt_token_bucket_available",
				Help: "Retry tokens available in a partition",
			},
			[]string{"partition"},
		),
		rateLimitedTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "clientrt_rate_limited_total",
				Help: "Total number of retries refused because the token bucket was empty",
			},
			[]string{"operation"},
		),
		timeoutsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "clientrt_timeouts_total",
				Help: "Total number of timeouts, by phase",
			},
			[]string{"phase"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "clientrt_errors_total",
				Help: "Total number of failed invocations, by error kind",
			},
			[]string{"kind", "operation"},
		),
	}
	if reg, ok := registry.(*prometheus.Registry); ok {
		mc.registry = reg
	}

	return mc
}

// RecordAttempt counts a finished attempt.
func (mc *MetricsCollector) RecordAttempt(operation, outcome string) {
	if mc == nil {
		return
	}
	mc.attemptsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordRetry counts a scheduled retry.
func (mc *MetricsCollector) RecordRetry(operation, reason string) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(operation, reason).Inc()
}

// RecordOperation records the duration of a finished invocation.
func (mc *MetricsCollector) RecordOperation(operation, outcome string, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.operationDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

// RecordOperationStart increments in-flight gauge.
func (mc *MetricsCollector) RecordOperationStart(operation string) {
	if mc == nil {
		return
	}
	mc.inFlight.WithLabelValues(operation).Inc()
}

// RecordOperationEnd decrements in-flight gauge.
func (mc *MetricsCollector) RecordOperationEnd(operation string) {
	if mc == nil {
		return
	}
	mc.inFlight.WithLabelValues(operation).Dec()
}

// RecordTokenBucket sets the available gauge of a partition.
func (mc *MetricsCollector) RecordTokenBucket(partition string, available int) {
	if mc == nil {
		return
	}
	mc.tokenBucketAvailable.WithLabelValues(partition).Set(float64(available))
}

// RecordRateLimited counts a retry refused for lack of tokens.
func (mc *MetricsCollector) RecordRateLimited(operation string) {
	if mc == nil {
		return
	}
	mc.rateLimitedTotal.WithLabelValues(operation).Inc()
}

// RecordTimeout counts a timeout of the given phase.
func (mc *MetricsCollector) RecordTimeout(phase string) {
	if mc == nil {
		return
	}
	mc.timeoutsTotal.WithLabelValues(phase).Inc()
}

// RecordError counts a failed invocation.
func (mc *MetricsCollector) RecordError(kind, operation string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(kind, operation).Inc()
}

// GetRegistry returns the registry the collector was created on, or nil if
// it was created on a plain Registerer.
func (mc *MetricsCollector) GetRegistry() *prometheus.Registry {
	if mc == nil {
		return nil
	}
	return mc.registry
}
