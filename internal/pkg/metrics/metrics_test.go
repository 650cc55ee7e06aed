package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ActionFinished("CLUSTER_CREATE", "SUCCEEDED", 2*time.Second)
	m.ActionFinished("CLUSTER_CREATE", "SUCCEEDED", time.Second)
	m.LockContended()
	m.PolicyChecked("fake.policy", "vetoed")
	m.Dispatched("local")
	m.Redelivered("local")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.actionsTotal.WithLabelValues("CLUSTER_CREATE", "SUCCEEDED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lockContention))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.policyChecks.WithLabelValues("fake.policy", "vetoed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatchTotal.WithLabelValues("local")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.redeliveryTotal.WithLabelValues("local")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ActionFinished("NODE_CREATE", "FAILED", time.Second)
		m.LockContended()
		m.PolicyChecked("x", "ok")
		m.Dispatched("river")
		m.Redelivered("river")
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Dispatched("local")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `fleetd_dispatch_total{dispatcher="local"} 1`))
}
