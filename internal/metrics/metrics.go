// Package metrics holds the Prometheus collectors for the API and the
// server that exposes them.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "qbank"

type Metrics struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	upstreamCalls   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	reconcileSteps  *prometheus.CounterVec
	reconcileRuns   *prometheus.CounterVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "The total number of API requests",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		upstreamCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "calls_total",
			Help:      "The total number of data service calls",
		}, []string{"op", "outcome"}),
		upstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "call_duration_seconds",
			Help:      "Data service call latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		reconcileSteps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "access",
			Name:      "reconcile_steps_total",
			Help:      "Store calls made while reconciling template access",
		}, []string{"result"}),
		reconcileRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "access",
			Name:      "reconcile_runs_total",
			Help:      "Template access reconciliations by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveHTTP records one finished request. route is the matched pattern,
// never the raw path.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveUpstream implements upstream.Observer.
func (m *Metrics) ObserveUpstream(op, outcome string, elapsed time.Duration) {
	m.upstreamCalls.WithLabelValues(op, outcome).Inc()
	m.upstreamLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveReconcile records the steps applied by one reconciliation and
// whether it stopped early.
func (m *Metrics) ObserveReconcile(steps int, err error) {
	m.reconcileSteps.WithLabelValues("applied").Add(float64(steps))
	outcome := "ok"
	if err != nil {
		outcome = "partial"
		m.reconcileSteps.WithLabelValues("failed").Inc()
	}
	m.reconcileRuns.WithLabelValues(outcome).Inc()
}
