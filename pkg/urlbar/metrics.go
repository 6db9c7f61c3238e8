package urlbar

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the watcher metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "urlbar").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the watcher metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "urlbar",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the Prometheus collectors shared by a set of watchers.
// A nil *Metrics records nothing.
type Metrics struct {
	polls            prometheus.Counter
	changes          prometheus.Counter
	subscriberPanics prometheus.Counter
	activeWatchers   prometheus.Gauge
}

// NewMetrics registers the watcher collectors.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		polls: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "polls_total",
			Help:        "Total number of hash comparisons performed",
			ConstLabels: config.ConstLabels,
		}),
		changes: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "changes_total",
			Help:        "Total number of url:changed events published",
			ConstLabels: config.ConstLabels,
		}),
		subscriberPanics: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "subscriber_panics_total",
			Help:        "Total number of recovered panics in change subscribers",
			ConstLabels: config.ConstLabels,
		}),
		activeWatchers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_watchers",
			Help:        "Number of running hash watchers",
			ConstLabels: config.ConstLabels,
		}),
	}
}

func (m *Metrics) recordPoll() {
	if m != nil {
		m.polls.Inc()
	}
}

func (m *Metrics) recordChange() {
	if m != nil {
		m.changes.Inc()
	}
}

func (m *Metrics) recordPanic() {
	if m != nil {
		m.subscriberPanics.Inc()
	}
}

func (m *Metrics) watcherStarted() {
	if m != nil {
		m.activeWatchers.Inc()
	}
}

func (m *Metrics) watcherStopped() {
	if m != nil {
		m.activeWatchers.Dec()
	}
}
