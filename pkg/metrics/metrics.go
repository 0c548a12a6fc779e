// Package metrics holds the Prometheus collectors the engine updates.
//
//   - engine_queue_depth{queue}                 pending tasks per dedup queue
//   - engine_tasks_total{queue,result}          processed tasks (ok|failed)
//   - engine_throttle_wait_seconds              time spent inside RateLimiter.Throttle
//   - engine_flight_runs_total{worker,result}   single-flight runs (ok|failed)
//   - engine_lifecycle_state{state}             1 for the current lifecycle state
//   - engine_trading_enabled                    1 while order submission is allowed
//   - engine_refresh_versions{counter}          refresh gate current/stale versions
//
// All methods are nil-safe so components can run without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so independent engines (tests) never collide
type Metrics struct {
	registry *prometheus.Registry

	queueDepth     *prometheus.GaugeVec
	tasks          *prometheus.CounterVec
	throttleWait   prometheus.Histogram
	flightRuns     *prometheus.CounterVec
	lifecycleState *prometheus.GaugeVec
	tradingEnabled prometheus.Gauge
	refreshVersion *prometheus.GaugeVec
}

// New creates and registers every collector
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_queue_depth",
			Help: "Pending tasks per dedup queue",
		}, []string{"queue"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_tasks_total",
			Help: "Processed tasks by queue and result",
		}, []string{"queue", "result"}),
		throttleWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_throttle_wait_seconds",
			Help:    "Time spent waiting for API quota",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
		}),
		flightRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_flight_runs_total",
			Help: "Single-flight worker runs by worker and result",
		}, []string{"worker", "result"}),
		lifecycleState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_lifecycle_state",
			Help: "1 for the current day lifecycle state",
		}, []string{"state"}),
		tradingEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_trading_enabled",
			Help: "1 while order submission is allowed",
		}),
		refreshVersion: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_refresh_versions",
			Help: "Refresh gate version counters",
		}, []string{"counter"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.queueDepth,
		m.tasks,
		m.throttleWait,
		m.flightRuns,
		m.lifecycleState,
		m.tradingEnabled,
		m.refreshVersion,
	)
	return m
}

// Handler serves the registry in Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests)
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SetQueueDepth(queue string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

func (m *Metrics) ObserveTask(queue string, ok bool) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(queue, result(ok)).Inc()
}

func (m *Metrics) ObserveThrottleWait(seconds float64) {
	if m == nil {
		return
	}
	m.throttleWait.Observe(seconds)
}

func (m *Metrics) ObserveFlightRun(worker string, ok bool) {
	if m == nil {
		return
	}
	m.flightRuns.WithLabelValues(worker, result(ok)).Inc()
}

// SetLifecycleState flips the gauge of every known state so only current is 1
func (m *Metrics) SetLifecycleState(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.lifecycleState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) SetTradingEnabled(enabled bool) {
	if m == nil {
		return
	}
	if enabled {
		m.tradingEnabled.Set(1)
		return
	}
	m.tradingEnabled.Set(0)
}

func (m *Metrics) SetRefreshVersions(current, stale uint64) {
	if m == nil {
		return
	}
	m.refreshVersion.WithLabelValues("current").Set(float64(current))
	m.refreshVersion.WithLabelValues("stale").Set(float64(stale))
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
