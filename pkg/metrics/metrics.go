// Package metrics exposes Prometheus collectors for the session lifecycle.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "doublelife"

// Recorder is what the lifecycle reports into. A nil *Collector is a valid
// no-op Recorder.
type Recorder interface {
	SessionStarted(mode string)
	SessionEnded(mode, reason string, seconds float64)
	StartRejected(reason string)
	Prolonged()
	PendingRestored(outcome string)
	BackendFailure(op string)
	NotificationDropped()
	ActivityRecorded(typ string)
}

// Collector owns its registry so tests and multiple instances never clash.
type Collector struct {
	registry *prometheus.Registry

	sessionsStarted  *prometheus.CounterVec
	sessionsEnded    *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	sessionDuration  prometheus.Histogram
	startRejections  *prometheus.CounterVec
	prolongs         prometheus.Counter
	pendingRestores  *prometheus.CounterVec
	backendFailures  *prometheus.CounterVec
	droppedNotifies  prometheus.Counter
	activitiesLogged *prometheus.CounterVec
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		sessionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Sessions started, by mode.",
		}, []string{"mode"}),
		sessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Sessions ended, by mode and reason.",
		}, []string{"mode", "reason"}),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Currently active sessions.",
		}),
		sessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall-clock length of ended sessions.",
			Buckets:   []float64{30, 60, 120, 300, 600, 900, 1200, 1800, 3600},
		}),
		startRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "start_rejections_total",
			Help:      "Start attempts refused by policy, by reason.",
		}, []string{"reason"}),
		prolongs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prolongs_total",
			Help:      "Successful session extensions.",
		}),
		pendingRestores: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pending_restores_total",
			Help:      "Pending sessions handled on reconnect, by outcome.",
		}, []string{"outcome"}),
		backendFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_failures_total",
			Help:      "Failed collaborator calls, by operation.",
		}, []string{"operation"}),
		droppedNotifies: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications dropped because the dispatch queue was full.",
		}),
		activitiesLogged: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activities_recorded_total",
			Help:      "Activities appended to session logs, by type.",
		}, []string{"type"}),
	}
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) SessionStarted(mode string) {
	if c == nil {
		return
	}
	c.sessionsStarted.WithLabelValues(mode).Inc()
	c.activeSessions.Inc()
}

func (c *Collector) SessionEnded(mode, reason string, seconds float64) {
	if c == nil {
		return
	}
	c.sessionsEnded.WithLabelValues(mode, reason).Inc()
	c.activeSessions.Dec()
	c.sessionDuration.Observe(seconds)
}

func (c *Collector) StartRejected(reason string) {
	if c == nil {
		return
	}
	c.startRejections.WithLabelValues(reason).Inc()
}

func (c *Collector) Prolonged() {
	if c == nil {
		return
	}
	c.prolongs.Inc()
}

// Outcome labels for PendingRestored.
const (
	OutcomeResumed = "resumed"
	OutcomeExpired = "expired"
)

// PendingRestored counts reconnects; resumed sessions also count as active.
func (c *Collector) PendingRestored(outcome string) {
	if c == nil {
		return
	}
	c.pendingRestores.WithLabelValues(outcome).Inc()
	if outcome == OutcomeResumed {
		c.activeSessions.Inc()
	}
}

func (c *Collector) BackendFailure(op string) {
	if c == nil {
		return
	}
	c.backendFailures.WithLabelValues(op).Inc()
}

func (c *Collector) NotificationDropped() {
	if c == nil {
		return
	}
	c.droppedNotifies.Inc()
}

func (c *Collector) ActivityRecorded(typ string) {
	if c == nil {
		return
	}
	c.activitiesLogged.WithLabelValues(typ).Inc()
}
