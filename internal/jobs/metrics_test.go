package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	assert.NoError(t, m.Track("rbac:invalidate").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("rbac:invalidate").End(boom), boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("rbac:invalidate", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("rbac:invalidate", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("rbac:invalidate")))
}

func TestAddInvalidation(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddInvalidation("all")
	m.AddInvalidation("all")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.invalidations.WithLabelValues("all")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.AddInvalidation("principal")
	assert.NoError(t, m.Track("x").End(nil))
}

func TestNewMetricsWithoutRegisterer(t *testing.T) {
	m := NewMetrics(nil)
	m.AddInvalidation("principal")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.invalidations.WithLabelValues("principal")))
}
