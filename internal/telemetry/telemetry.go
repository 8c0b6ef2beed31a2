// Package telemetry implements the optional Telemetry external
// interface (spec §6: "a counter/gauge registry with inc, inc_by, set.
// Absence of telemetry must not change behaviour"). Grounded on the
// teranode teacher's own metrics.go files (package-scoped
// prometheus.Gauge/Counter vars, a namespaced promauto constructor, an
// initialised-once guard), generalized from a fixed set of
// compile-time metric variables to a name-keyed registry, so a caller can
// increment or set a metric under any name without this package knowing
// every name in advance. No other package in this module records metrics
// through it.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Telemetry is the counter/gauge interface. Counters only ever increase;
// gauges may move in either direction. NoOp() returns an implementation
// that discards every call (spec §6 "absence of telemetry must not change
// behaviour").
type Telemetry interface {
	IncCounter(name string)
	IncCounterBy(name string, delta float64)
	SetGauge(name string, value float64)
}

// noop discards every call; used when a caller has not configured a
// real telemetry backend.
type noop struct{}

func (noop) IncCounter(string)            {}
func (noop) IncCounterBy(string, float64) {}
func (noop) SetGauge(string, float64)     {}

// NoOp returns the shared no-op Telemetry implementation.
func NoOp() Telemetry { return noop{} }

// Registry is a Prometheus-backed Telemetry that lazily registers a
// Counter or Gauge the first time a given name is used, namespaced
// under "consensuscore", mirroring the teacher's promauto.NewGauge/
// NewCounter calls but keyed dynamically instead of one package-level
// var per metric.
type Registry struct {
	reg *prometheus.Registry

	mu       sync.Mutex
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
}

// NewRegistry builds a Registry backed by a fresh prometheus.Registry
// (not the global DefaultRegisterer), so multiple Registry instances
// can coexist in the same process, e.g. one per node in a test or
// simulation.
func NewRegistry() *Registry {
	return &Registry{
		reg:      prometheus.NewRegistry(),
		counters: make(map[string]prometheus.Counter),
		gauges:   make(map[string]prometheus.Gauge),
	}
}

// Gatherer exposes the underlying prometheus.Registry for an HTTP
// /metrics handler to scrape; telemetry wiring beyond this interface is
// a composition-root concern, not the core's.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func (r *Registry) counter(name string) prometheus.Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[name]
	if !ok {
		c = prometheus.NewCounter(prometheus.CounterOpts{Namespace: "consensuscore", Name: name})
		r.reg.MustRegister(c)
		r.counters[name] = c
	}
	return c
}

func (r *Registry) gauge(name string) prometheus.Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gauges[name]
	if !ok {
		g = prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "consensuscore", Name: name})
		r.reg.MustRegister(g)
		r.gauges[name] = g
	}
	return g
}

// IncCounter increments name by 1, registering it on first use.
func (r *Registry) IncCounter(name string) {
	r.counter(name).Inc()
}

// IncCounterBy increments name by delta, registering it on first use.
func (r *Registry) IncCounterBy(name string, delta float64) {
	r.counter(name).Add(delta)
}

// SetGauge sets name to value, registering it on first use.
func (r *Registry) SetGauge(name string, value float64) {
	r.gauge(name).Set(value)
}

var (
	_ Telemetry = noop{}
	_ Telemetry = (*Registry)(nil)
)
