// Package metrics holds the Prometheus collectors of the daemon.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "borrowd"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	portalRequests *prometheus.HistogramVec
	actions        *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	statuses       *prometheus.GaugeVec
	lastRefresh    prometheus.Gauge
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		portalRequests: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "portal",
			Name:      "request_duration_seconds",
			Help:      "Portal backend round trips by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Dispatched mutations by action and outcome.",
		}, []string{"action", "outcome"}),
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Local view refreshes by outcome.",
		}, []string{"outcome"}),
		statuses: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resources",
			Help:      "Resources in the local view by kind and resolved status.",
		}, []string{"kind", "status"}),
		lastRefresh: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_refresh_timestamp_seconds",
			Help:      "Unix time of the last successful refresh.",
		}),
	}
}

// ObservePortal records one backend round trip. status 0 means no response.
func (m *Metrics) ObservePortal(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := "none"
	if status != 0 {
		code = strconv.Itoa(status)
	}
	m.portalRequests.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
}

// Action counts a dispatched mutation. outcome is "ok", "deduplicated" or
// an error kind.
func (m *Metrics) Action(action, outcome string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(action, outcome).Inc()
}

// Refresh counts a refresh; err == nil marks it successful.
func (m *Metrics) Refresh(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.refreshes.WithLabelValues("failed").Inc()
		return
	}
	m.refreshes.WithLabelValues("ok").Inc()
	m.lastRefresh.SetToCurrentTime()
}

// StatusKey labels a resolved status count.
type StatusKey struct {
	Kind   string
	Status string
}

// SetStatuses replaces the resolved status gauge.
func (m *Metrics) SetStatuses(counts map[StatusKey]int) {
	if m == nil {
		return
	}
	m.statuses.Reset()
	for k, n := range counts {
		m.statuses.WithLabelValues(k.Kind, k.Status).Set(float64(n))
	}
}
