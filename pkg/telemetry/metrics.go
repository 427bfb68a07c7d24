package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for manifold runs.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	activeRuns    prometheus.Gauge

	// Action metrics
	actionsPlanned  *prometheus.CounterVec
	conditionErrors prometheus.Counter

	// Atom metrics
	atoms        *prometheus.CounterVec
	atomDuration *prometheus.HistogramVec

	// Policy and error metrics
	policyViolations *prometheus.CounterVec
	errorsByCode     *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of runs started",
			},
			[]string{"mode"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Number of runs currently in progress",
			},
		),

		actionsPlanned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_planned_total",
				Help:      "Total number of actions resolved into steps",
			},
			[]string{"action", "result"},
		),
		conditionErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "condition_errors_total",
				Help:      "Total number of where-expressions that failed to evaluate",
			},
		),

		atoms: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "atoms_total",
				Help:      "Total number of atoms processed by result",
			},
			[]string{"phase", "result"},
		),
		atomDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "atom_duration_seconds",
				Help:      "Duration of atom execution in seconds",
				Buckets:   buckets,
			},
			[]string{"result"},
		),

		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of policy violations by severity",
			},
			[]string{"severity"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of run errors by class and code",
			},
			[]string{"class", "code"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.activeRuns,
		m.actionsPlanned,
		m.conditionErrors,
		m.atoms,
		m.atomDuration,
		m.policyViolations,
		m.errorsByCode,
	)

	return m, nil
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(mode string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(mode).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// RecordActionPlanned records the resolution of one action. Result is
// "steps" when it produced steps, "empty" when it resolved to nothing and
// "failed" on error.
func (m *Metrics) RecordActionPlanned(action, result string) {
	if m.actionsPlanned == nil {
		return
	}
	m.actionsPlanned.WithLabelValues(action, result).Inc()
}

// RecordConditionError counts a where-expression that failed to evaluate.
func (m *Metrics) RecordConditionError() {
	if m.conditionErrors == nil {
		return
	}
	m.conditionErrors.Inc()
}

// RecordAtom records one atom passing through a phase.
func (m *Metrics) RecordAtom(phase, result string, duration time.Duration) {
	if m.atoms == nil {
		return
	}
	m.atoms.WithLabelValues(phase, result).Inc()
	if phase == "execute" {
		m.atomDuration.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// RecordPolicyViolation counts a policy violation.
func (m *Metrics) RecordPolicyViolation(severity string) {
	if m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(severity).Inc()
}

// RecordError records a run error by class and code.
func (m *Metrics) RecordError(class, code string) {
	if m.errorsByCode == nil {
		return
	}
	m.errorsByCode.WithLabelValues(class, code).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
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

// StartMetricsServer serves metrics until ctx is cancelled. It does nothing
// when metrics are disabled or no listen address is configured.
func (m *Metrics) StartMetricsServer(ctx context.Context) error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("address", m.config.ListenAddress).Msg("metrics server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return nil
}
