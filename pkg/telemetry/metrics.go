package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vango-dev/herald/pkg/notify"
)

// MetricsConfig configures the Prometheus observer.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "herald").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for dispatch duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus observer.
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

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
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
		Namespace: "herald",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics is a notify.Observer that exports dispatch activity to Prometheus.
//
// Metrics collected:
//   - herald_notifications_total: passes by controller and scope (global, keyed)
//   - herald_listener_invocations_total: listeners invoked by controller
//   - herald_listener_skips_total: listeners skipped by a predicate or removal
//   - herald_listener_errors_total: recovered listener panics by controller and kind
//   - herald_dispatch_duration_seconds: pass duration by controller
//   - herald_listeners: registered listeners by controller
type Metrics struct {
	notifications *prometheus.CounterVec
	invocations   *prometheus.CounterVec
	skips         *prometheus.CounterVec
	errors        *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	listeners     *prometheus.GaugeVec
}

// NewMetrics registers the herald metrics and returns the observer.
// Like promauto, it panics if the metrics are already registered on the
// chosen registry; use Prometheus for the process-wide instance.
//
// Example:
//
//	reg := prometheus.NewRegistry()
//	m := telemetry.NewMetrics(telemetry.WithRegistry(reg))
//	cart := notify.New(notify.WithName("cart"), notify.WithObserver(m))
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "notifications_total",
			Help:        "Total number of dispatch passes",
			ConstLabels: config.ConstLabels,
		}, []string{"controller", "scope"}),

		invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "listener_invocations_total",
			Help:        "Total number of listener invocations",
			ConstLabels: config.ConstLabels,
		}, []string{"controller"}),

		skips: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "listener_skips_total",
			Help:        "Total number of listeners skipped by a predicate or a removal",
			ConstLabels: config.ConstLabels,
		}, []string{"controller"}),

		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "listener_errors_total",
			Help:        "Total number of recovered listener panics",
			ConstLabels: config.ConstLabels,
		}, []string{"controller", "kind"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dispatch_duration_seconds",
			Help:        "Dispatch pass duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"controller"}),

		listeners: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "listeners",
			Help:        "Number of registered listeners",
			ConstLabels: config.ConstLabels,
		}, []string{"controller"}),
	}
}

var (
	globalMetrics   *Metrics
	globalMetricsMu sync.Mutex
)

// Prometheus returns the process-wide observer registered on the default
// registerer. The options are only applied on the first call.
func Prometheus(opts ...MetricsOption) *Metrics {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	if globalMetrics == nil {
		globalMetrics = NewMetrics(opts...)
	}
	return globalMetrics
}

// BeginDispatch implements notify.Observer.
func (m *Metrics) BeginDispatch(d notify.Dispatch) func(notify.DispatchStats) {
	scope := "global"
	if d.HasKey {
		scope = "keyed"
	}
	m.notifications.WithLabelValues(d.Controller, scope).Inc()

	return func(s notify.DispatchStats) {
		if s.Invoked > 0 {
			m.invocations.WithLabelValues(d.Controller).Add(float64(s.Invoked))
		}
		if s.Skipped > 0 {
			m.skips.WithLabelValues(d.Controller).Add(float64(s.Skipped))
		}
		m.duration.WithLabelValues(d.Controller).Observe(s.Duration.Seconds())
	}
}

// ListenerFailed implements notify.Observer.
func (m *Metrics) ListenerFailed(err *notify.ListenerError) {
	m.errors.WithLabelValues(err.Controller, err.Kind.String()).Inc()
}

// ListenersChanged implements notify.Observer.
func (m *Metrics) ListenersChanged(controller string, delta int) {
	m.listeners.WithLabelValues(controller).Add(float64(delta))
}

var _ notify.Observer = (*Metrics)(nil)
