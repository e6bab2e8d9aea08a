// Package metrics exposes bridge lifecycle telemetry as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wippyai/wtd-bridge/bridge"
	"github.com/wippyai/wtd-bridge/errors"
)

// Collector records bridge transitions. It implements bridge.Observer.
type Collector struct {
	registry     *prometheus.Registry
	transitions  *prometheus.CounterVec
	failures     *prometheus.CounterVec
	mounts       *prometheus.CounterVec
	state        prometheus.Gauge
	loadDuration prometheus.Histogram
}

var _ bridge.Observer = (*Collector)(nil)

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "wtd"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "transitions_total",
			Help:      "State transitions by target state",
		},
		[]string{"to"},
	)

	c.failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "failures_total",
			Help:      "Engine failures by kind (load, start)",
		},
		[]string{"kind"},
	)

	c.mounts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "mount_calls_total",
			Help:      "Mount hook calls, split by whether they began a load",
		},
		[]string{"accepted"},
	)

	c.state = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "state",
			Help:      "Current state (0=unloaded, 1=loading, 2=running, 3=failed, 4=detached)",
		},
	)

	c.loadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "load_duration_seconds",
			Help:      "Time from mount to running or failed",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	c.registry.MustRegister(c.transitions, c.failures, c.mounts, c.state, c.loadDuration)
	return c
}

// Transition implements bridge.Observer.
func (c *Collector) Transition(ev bridge.Event) {
	c.transitions.WithLabelValues(ev.To.String()).Inc()
	c.state.Set(float64(ev.To))

	switch ev.To {
	case bridge.StateRunning:
		c.loadDuration.Observe(ev.Elapsed.Seconds())
	case bridge.StateFailed:
		c.loadDuration.Observe(ev.Elapsed.Seconds())
		kind := string(errors.KindOf(ev.Err))
		if kind == "" {
			kind = "unknown"
		}
		c.failures.WithLabelValues(kind).Inc()
	}
}

// Mounted implements bridge.Observer.
func (c *Collector) Mounted(accepted bool) {
	if accepted {
		c.mounts.WithLabelValues("true").Inc()
	} else {
		c.mounts.WithLabelValues("false").Inc()
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
