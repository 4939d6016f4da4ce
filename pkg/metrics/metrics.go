// Package metrics exposes run counters as Prometheus collectors.
//
// A Collector owns its own registry, so several runs in one process (batch
// mode, tests) never collide on registration.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "pagepilot"

// Collector records agent, action and browser events.
type Collector struct {
	registry *prometheus.Registry

	actionsTotal   *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec

	stepsTotal   *prometheus.CounterVec
	stepDuration prometheus.Histogram
	recoveries   prometheus.Counter
	runsTotal    *prometheus.CounterVec

	settleTimeouts   prometheus.Counter
	pageReplacements prometheus.Counter
}

// New creates a Collector with a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		actionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "actions_total",
			Help:      "Actions executed, by name and result code",
		}, []string{"action", "code"}),
		actionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "action_duration_seconds",
			Help:      "Action execution time in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"action"}),
		stepsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "steps_total",
			Help:      "Agent steps, by outcome",
		}, []string{"outcome"}),
		stepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of one agent step",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		recoveries: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "recoveries_total",
			Help:      "Recovery passes run after repeated failures",
		}),
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Finished runs, by final state",
		}, []string{"state"}),
		settleTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "settle_timeouts_total",
			Help:      "Settle waits that hit their maximum",
		}),
		pageReplacements: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "page_replacements_total",
			Help:      "Crashed or closed pages replaced by the session",
		}),
	}
}

// ActionExecuted records one registry execution. An empty code means success.
func (c *Collector) ActionExecuted(name, code string, elapsed time.Duration) {
	if code == "" {
		code = "ok"
	}
	c.actionsTotal.WithLabelValues(name, code).Inc()
	c.actionDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// StepFinished records one agent step.
func (c *Collector) StepFinished(failed bool, elapsed time.Duration) {
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	c.stepsTotal.WithLabelValues(outcome).Inc()
	c.stepDuration.Observe(elapsed.Seconds())
}

// RecoveryRun counts a recovery pass.
func (c *Collector) RecoveryRun() { c.recoveries.Inc() }

// RunFinished counts a run ending in state.
func (c *Collector) RunFinished(state string) { c.runsTotal.WithLabelValues(state).Inc() }

// SettleTimedOut counts a settle wait that reached its maximum.
func (c *Collector) SettleTimedOut() { c.settleTimeouts.Inc() }

// PageReplaced counts a page replacement.
func (c *Collector) PageReplaced() { c.pageReplacements.Inc() }

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the collector in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
