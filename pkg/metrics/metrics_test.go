package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Updates(t *testing.T) {
	m := New()

	m.SetQueueDepth("buy", 3)
	m.ObserveTask("buy", true)
	m.ObserveTask("buy", false)
	m.ObserveTask("buy", false)
	m.SetTradingEnabled(true)
	m.SetLifecycleState("ACTIVE", []string{"ACTIVE", "MIDNIGHT_CLEANING"})

	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("buy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasks.WithLabelValues("buy", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.tasks.WithLabelValues("buy", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tradingEnabled))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lifecycleState.WithLabelValues("ACTIVE")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.lifecycleState.WithLabelValues("MIDNIGHT_CLEANING")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetQueueDepth("sell", 1)
		m.ObserveThrottleWait(0.5)
		m.ObserveFlightRun("order_monitor", true)
		m.SetRefreshVersions(1, 2)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveFlightRun("order_monitor", true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `engine_flight_runs_total{result="ok",worker="order_monitor"} 1`)
}
