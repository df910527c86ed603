// Package prom provides a Prometheus-backed observer for ki scopes.
package prom

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the Prometheus observer.
type Config struct {
	// Namespace is the metrics namespace (default: "ki").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for child duration and join wait.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the Prometheus observer.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) { c.Namespace = namespace }
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) { c.Subsystem = subsystem }
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) { c.ConstLabels = labels }
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) { c.Buckets = buckets }
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) { c.Registry = registry }
}

func defaultConfig() Config {
	return Config{
		Namespace: "ki",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Observer implements ki.Observer on top of Prometheus metrics. Construct at
// most one per registry; promauto panics on duplicate registration.
type Observer struct {
	scopesOpened    prometheus.Counter
	scopesCancelled prometheus.Counter
	joins           prometheus.Counter
	joinWait        prometheus.Histogram
	childrenStarted prometheus.Counter
	childrenActive  prometheus.Gauge
	childDuration   prometheus.Histogram
	childErrors     prometheus.Counter
	childPanics     prometheus.Counter
}

// New returns an Observer with its metrics registered in the configured
// registry.
func New(opts ...Option) *Observer {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(cfg.Registry)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.ConstLabels,
		})
	}
	histogram := func(name, help string) prometheus.Histogram {
		return factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.ConstLabels,
			Buckets:     cfg.Buckets,
		})
	}

	return &Observer{
		scopesOpened:    counter("scopes_opened_total", "Total number of scopes opened."),
		scopesCancelled: counter("scopes_cancelled_total", "Total number of scopes cancelled by a failure or explicit Cancel."),
		joins:           counter("joins_total", "Total number of scope joins."),
		joinWait:        histogram("join_wait_seconds", "Time spent closing a scope: freeze, signal, drain."),
		childrenStarted: counter("children_started_total", "Total number of children started."),
		childrenActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "children_active",
			Help:        "Number of children currently running.",
			ConstLabels: cfg.ConstLabels,
		}),
		childDuration: histogram("child_duration_seconds", "Child execution duration in seconds."),
		childErrors:   counter("child_errors_total", "Total number of children that finished with an error."),
		childPanics:   counter("child_panics_total", "Total number of children that panicked."),
	}
}

// ScopeOpened records scope creation.
func (o *Observer) ScopeOpened(_ context.Context) { o.scopesOpened.Inc() }

// ScopeCancelled records scope cancellation.
func (o *Observer) ScopeCancelled(_ context.Context, _ error) { o.scopesCancelled.Inc() }

// ScopeJoined records a join and the time spent closing.
func (o *Observer) ScopeJoined(_ context.Context, wait time.Duration) {
	o.joins.Inc()
	o.joinWait.Observe(wait.Seconds())
}

// ChildStarted increments the active and started counters.
func (o *Observer) ChildStarted(_ context.Context) {
	o.childrenStarted.Inc()
	o.childrenActive.Inc()
}

// ChildFinished decrements the active gauge and tracks duration, errors, and
// panics.
func (o *Observer) ChildFinished(_ context.Context, dur time.Duration, err error, panicked bool) {
	o.childrenActive.Dec()
	o.childDuration.Observe(dur.Seconds())
	if err != nil {
		o.childErrors.Inc()
	}
	if panicked {
		o.childPanics.Inc()
	}
}
