// Package metrics exposes Prometheus instrumentation for the service:
// HTTP traffic, agent loop behavior, provider failures, websocket
// connections, and task creation by source.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nugget/docket-ai-agent/internal/events"
)

// Metrics holds the service's collectors on a private registry so that
// multiple instances (tests especially) never collide. All record
// methods are nil-safe no-ops, matching the event bus contract.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	agentSteps     prometheus.Histogram
	providerErrors *prometheus.CounterVec
	tasksCreated   *prometheus.CounterVec
	wsConnections  prometheus.Gauge
}

// New creates and registers the service collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docket",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route pattern and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docket",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"method", "route"}),
		agentSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "docket",
			Name:      "agent_steps_per_message",
			Help:      "Model round trips used per chat message.",
			Buckets:   prometheus.LinearBuckets(1, 1, 5),
		}),
		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docket",
			Name:      "provider_errors_total",
			Help:      "Backboard API failures, by kind (connectivity or api).",
		}, []string{"kind"}),
		tasksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docket",
			Name:      "tasks_created_total",
			Help:      "Tasks created, by source (api, agent, github, mailbox).",
		}, []string{"source"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "docket",
			Name:      "websocket_connections",
			Help:      "Open websocket chat connections.",
		}),
	}
	m.registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.agentSteps,
		m.providerErrors,
		m.tasksCreated,
		m.wsConnections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest counts one served HTTP request. route should be the
// registered pattern, not the raw path, to keep label cardinality
// bounded.
func (m *Metrics) RecordRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// IncProviderError counts one Backboard failure by kind.
func (m *Metrics) IncProviderError(kind string) {
	if m == nil {
		return
	}
	m.providerErrors.WithLabelValues(kind).Inc()
}

// IncTaskCreated counts one created task by source.
func (m *Metrics) IncTaskCreated(source string) {
	if m == nil {
		return
	}
	m.tasksCreated.WithLabelValues(source).Inc()
}

// WSConnectionOpened records a websocket client attaching.
func (m *Metrics) WSConnectionOpened() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
}

// WSConnectionClosed records a websocket client detaching.
func (m *Metrics) WSConnectionClosed() {
	if m == nil {
		return
	}
	m.wsConnections.Dec()
}

// WatchBus consumes bus events until ctx ends, deriving counters that
// no single component owns: task creation from every source and agent
// step usage per completed request.
func (m *Metrics) WatchBus(ctx context.Context, bus *events.Bus) {
	if m == nil || bus == nil {
		return
	}
	ch := bus.Subscribe(64)
	defer bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			m.handleEvent(e)
		}
	}
}

func (m *Metrics) handleEvent(e events.Event) {
	switch e.Kind {
	case events.KindTaskCreated:
		m.IncTaskCreated(e.Source)
	case events.KindRequestComplete:
		if steps, ok := e.Data["steps"].(int); ok {
			m.agentSteps.Observe(float64(steps))
		}
	}
}
