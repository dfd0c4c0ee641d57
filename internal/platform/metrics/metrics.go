package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the audit log.
type Metrics struct {
	EventsRecorded        *prometheus.CounterVec
	SuspiciousEvents      prometheus.Counter
	PersistFailures       prometheus.Counter
	CircuitBreakerDropped prometheus.Counter
	CircuitBreakerState   prometheus.Gauge
	AlertFailures         prometheus.Counter
	RateLimited           *prometheus.CounterVec
	ReadDuration          *prometheus.HistogramVec
	AlertsDropped         prometheus.CounterFunc
	AlertsPending         prometheus.GaugeFunc
	LimiterFallbacks      *prometheus.CounterVec

	factory promauto.Factory
}

// New creates the collectors and registers them with reg.
// Pass prometheus.NewRegistry() in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		factory: f,
		EventsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditlog_events_recorded_total",
			Help: "Total number of audit events committed, by event type and outcome",
		}, []string{"event_type", "outcome"}),
		SuspiciousEvents: f.NewCounter(prometheus.CounterOpts{
			Name: "auditlog_suspicious_events_total",
			Help: "Total number of committed events flagged as suspicious",
		}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "auditlog_persist_failures_total",
			Help: "Total number of audit events lost to storage failures",
		}),
		CircuitBreakerDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "auditlog_circuit_breaker_dropped_total",
			Help: "Total number of audit events dropped while the circuit breaker was open",
		}),
		CircuitBreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "auditlog_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed/healthy, 1=open/unhealthy)",
		}),
		AlertFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "auditlog_alert_publish_failures_total",
			Help: "Total number of suspicious-event alerts that could not be published",
		}),
		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditlog_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter, by limiter name",
		}, []string{"limiter"}),
		ReadDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auditlog_read_duration_seconds",
			Help:    "Latency of admin read operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		LimiterFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditlog_rate_limit_fallback_total",
			Help: "Total number of rate limit checks served by the in-memory fallback, by limiter name",
		}, []string{"limiter"}),
	}
}

// ObserveAlertQueue exports the alert buffer's eviction count and depth.
// Call it once per Metrics.
func (m *Metrics) ObserveAlertQueue(pending func() int, dropped func() int64) {
	m.AlertsDropped = m.factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "auditlog_alerts_dropped_total",
		Help: "Total number of suspicious-event alerts evicted because the alert queue was full",
	}, func() float64 { return float64(dropped()) })
	m.AlertsPending = m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "auditlog_alerts_pending",
		Help: "Number of suspicious-event alerts waiting for delivery",
	}, func() float64 { return float64(pending()) })
}

// IncLimiterFallback counts one check answered by the fallback store.
func (m *Metrics) IncLimiterFallback(limiter string) {
	m.LimiterFallbacks.WithLabelValues(limiter).Inc()
}

// IncRecorded counts one committed event.
func (m *Metrics) IncRecorded(eventType, outcome string, suspicious bool) {
	m.EventsRecorded.WithLabelValues(eventType, outcome).Inc()
	if suspicious {
		m.SuspiciousEvents.Inc()
	}
}

// IncPersistFailures increments the persist failures counter.
func (m *Metrics) IncPersistFailures() {
	m.PersistFailures.Inc()
}

// IncCircuitBreakerDropped increments the circuit breaker dropped counter.
func (m *Metrics) IncCircuitBreakerDropped() {
	m.CircuitBreakerDropped.Inc()
}

// SetCircuitBreakerState sets the circuit breaker state gauge.
func (m *Metrics) SetCircuitBreakerState(open bool) {
	if open {
		m.CircuitBreakerState.Set(1)
	} else {
		m.CircuitBreakerState.Set(0)
	}
}

// IncAlertFailures increments the alert failures counter.
func (m *Metrics) IncAlertFailures() {
	m.AlertFailures.Inc()
}

// IncRateLimited counts one rejected request for the named limiter.
func (m *Metrics) IncRateLimited(limiter string) {
	m.RateLimited.WithLabelValues(limiter).Inc()
}

// ObserveRead records the latency of a query or stats call.
func (m *Metrics) ObserveRead(operation string, d time.Duration) {
	m.ReadDuration.WithLabelValues(operation).Observe(d.Seconds())
}
