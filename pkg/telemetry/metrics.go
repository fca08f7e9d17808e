package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/loomengine/loom/pkg/engine"
)

// Metrics provides Prometheus metrics for the load pipeline. It implements
// engine.StatsRecorder; a zero-value (disabled) Metrics is a no-op.
type Metrics struct {
	config MetricsConfig
	logger zerolog.Logger

	// Load pipeline metrics
	unitsDiscovered   prometheus.Counter
	unitsTransformed  prometheus.Counter
	unitsIgnored      *prometheus.CounterVec
	unitsErrored      prometheus.Counter
	rulesApplied      prometheus.Counter
	transformDuration prometheus.Histogram

	// Registration metrics
	contextsRegistered prometheus.Counter

	// Attach metrics
	pluginsComposed prometheus.Gauge
	rulesComposed   prometheus.Gauge
	pluginsDropped  prometheus.Counter

	registry *prometheus.Registry
}

var _ engine.StatsRecorder = (*Metrics)(nil)

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig, logger zerolog.Logger) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		logger:   logger.With().Str("component", "metrics").Logger(),
		registry: registry,

		unitsDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_discovered_total",
			Help:      "Total number of executable units that entered the pipeline",
		}),
		unitsTransformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_transformed_total",
			Help:      "Total number of units rewritten by at least one rule",
		}),
		unitsIgnored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_ignored_total",
			Help:      "Total number of units skipped before transformation",
		}, []string{"reason"}),
		unitsErrored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_errored_total",
			Help:      "Total number of units whose transformation failed entirely",
		}),
		rulesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rules_applied_total",
			Help:      "Total number of rule applications across all transformed units",
		}),
		transformDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transform_duration_seconds",
			Help:      "Duration of pipeline transformation per unit in seconds",
			Buckets:   buckets,
		}),

		contextsRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contexts_registered_total",
			Help:      "Total number of loading contexts registered with the collaborator",
		}),

		pluginsComposed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plugins_composed",
			Help:      "Number of plugins in the composed pipeline",
		}),
		rulesComposed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules_composed",
			Help:      "Number of rules in the composed pipeline",
		}),
		pluginsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugins_dropped_total",
			Help:      "Total number of plugins dropped during composition",
		}),
	}

	registry.MustRegister(
		m.unitsDiscovered,
		m.unitsTransformed,
		m.unitsIgnored,
		m.unitsErrored,
		m.rulesApplied,
		m.transformDuration,
		m.contextsRegistered,
		m.pluginsComposed,
		m.rulesComposed,
		m.pluginsDropped,
	)

	return m, nil
}

// UnitDiscovered counts a unit entering the pipeline.
func (m *Metrics) UnitDiscovered() {
	if m.unitsDiscovered == nil {
		return
	}
	m.unitsDiscovered.Inc()
}

// UnitTransformed counts a rewritten unit and the rules that applied to it.
func (m *Metrics) UnitTransformed(rules int) {
	if m.unitsTransformed == nil {
		return
	}
	m.unitsTransformed.Inc()
	m.rulesApplied.Add(float64(rules))
}

// UnitIgnored counts a skipped unit by reason ("excluded", "unmatched").
func (m *Metrics) UnitIgnored(reason string) {
	if m.unitsIgnored == nil {
		return
	}
	m.unitsIgnored.WithLabelValues(reason).Inc()
}

// UnitErrored counts a unit whose transformation failed entirely.
func (m *Metrics) UnitErrored() {
	if m.unitsErrored == nil {
		return
	}
	m.unitsErrored.Inc()
}

// ContextRegistered counts a first-time context registration.
func (m *Metrics) ContextRegistered() {
	if m.contextsRegistered == nil {
		return
	}
	m.contextsRegistered.Inc()
}

// ObserveTransform records the time one unit spent in the pipeline.
func (m *Metrics) ObserveTransform(d time.Duration) {
	if m.transformDuration == nil {
		return
	}
	m.transformDuration.Observe(d.Seconds())
}

// RecordComposition records the shape of the pipeline produced at attach.
func (m *Metrics) RecordComposition(plugins, rules, dropped int) {
	if m.pluginsComposed == nil {
		return
	}
	m.pluginsComposed.Set(float64(plugins))
	m.rulesComposed.Set(float64(rules))
	m.pluginsDropped.Add(float64(dropped))
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server exposing the metrics endpoint.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	return nil
}
