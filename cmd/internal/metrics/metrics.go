// Package metrics exposes the server's Prometheus collectors.
//
// All recording methods are nil-safe so components can run without metrics
// (tests, tools) by passing a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "parley"

type Metrics struct {
	reg *prometheus.Registry

	messagesPersisted  prometheus.Counter
	persistFailures    prometheus.Counter
	messagesPurged     prometheus.Counter
	broadcastDelivered prometheus.Counter
	broadcastDropped   prometheus.Counter
	wsSessions         prometheus.Gauge
	friendsAdded       prometheus.Counter
	friendsRemoved     prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry, plus the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		reg: reg,
		messagesPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_persisted_total",
			Help: "Chat messages stored by the conversation service.",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "message_persist_failures_total",
			Help: "Chat messages that failed to persist.",
		}),
		messagesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_purged_total",
			Help: "Messages deleted by retention purges.",
		}),
		broadcastDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcast_delivered_total",
			Help: "Realtime frames queued to subscriber sessions.",
		}),
		broadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcast_dropped_total",
			Help: "Realtime frames dropped because a subscriber queue was full.",
		}),
		wsSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ws_sessions",
			Help: "Currently connected realtime sessions.",
		}),
		friendsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "friendships_added_total",
			Help: "Friendships created.",
		}),
		friendsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "friendships_removed_total",
			Help: "Friendships removed.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by method, route and status class.",
		}, []string{"method", "route", "status_class"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.messagesPersisted,
		m.persistFailures,
		m.messagesPurged,
		m.broadcastDelivered,
		m.broadcastDropped,
		m.wsSessions,
		m.friendsAdded,
		m.friendsRemoved,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry returns the underlying registry (tests).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) MessagePersisted() {
	if m != nil {
		m.messagesPersisted.Inc()
	}
}

func (m *Metrics) PersistFailed() {
	if m != nil {
		m.persistFailures.Inc()
	}
}

func (m *Metrics) MessagesPurged(n int) {
	if m != nil && n > 0 {
		m.messagesPurged.Add(float64(n))
	}
}

func (m *Metrics) BroadcastDelivered() {
	if m != nil {
		m.broadcastDelivered.Inc()
	}
}

func (m *Metrics) BroadcastDropped() {
	if m != nil {
		m.broadcastDropped.Inc()
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.wsSessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.wsSessions.Dec()
	}
}

func (m *Metrics) FriendshipAdded() {
	if m != nil {
		m.friendsAdded.Inc()
	}
}

func (m *Metrics) FriendshipRemoved() {
	if m != nil {
		m.friendsRemoved.Inc()
	}
}

// ObserveHTTP records one finished request. route should be the router
// pattern, not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, StatusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// StatusClass maps an HTTP status to "2xx", "4xx", ...
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
