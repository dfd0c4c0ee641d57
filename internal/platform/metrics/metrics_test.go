package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncRecorded("LOGIN_FAILURE", "failure", true)
	m.IncRecorded("LOGIN_FAILURE", "failure", false)
	m.IncRecorded("LOGOUT", "success", false)
	m.IncPersistFailures()
	m.SetCircuitBreakerState(true)
	m.ObserveRead("query", 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsRecorded.WithLabelValues("LOGIN_FAILURE", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsRecorded.WithLabelValues("LOGOUT", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SuspiciousEvents))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitBreakerState))

	m.SetCircuitBreakerState(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CircuitBreakerState))
}

func TestObserveAlertQueue(t *testing.T) {
	m := New(prometheus.NewRegistry())
	var dropped int64 = 3
	m.ObserveAlertQueue(func() int { return 2 }, func() int64 { return dropped })

	assert.Equal(t, 3.0, testutil.ToFloat64(m.AlertsDropped))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AlertsPending))

	dropped = 5
	assert.Equal(t, 5.0, testutil.ToFloat64(m.AlertsDropped))
}

func TestNew_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
