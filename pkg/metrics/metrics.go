// Package metrics provides Prometheus metrics for recomputation runs and
// validation sweeps. A nil *Manager is valid and records nothing.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ScoreBuckets are the upper bounds of the match score histogram. They
// follow the distribution report edges.
var ScoreBuckets = []float64{20, 35, 50, 65, 80, 90, 100}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithRegistry registers metrics on r instead of a fresh private registry.
func WithRegistry(r *prometheus.Registry) Option {
	return func(m *Manager) {
		if r != nil {
			m.registry = r
		}
	}
}

// Manager owns the registry and every metric of the engine.
type Manager struct {
	namespace string
	registry  *prometheus.Registry

	runs              *prometheus.CounterVec
	runDuration       prometheus.Histogram
	lastSuccess       prometheus.Gauge
	subjectsProcessed prometheus.Counter
	subjectsFailed    prometheus.Counter
	pagesFailed       prometheus.Counter
	matchesWritten    prometheus.Counter
	matchesPruned     prometheus.Counter
	invariantBroken   prometheus.Counter
	matchScore        prometheus.Histogram
	assessments       *prometheus.CounterVec
}

// NewManager creates a manager with its metrics registered.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "dealmatch",
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}

	auto := promauto.With(m.registry)
	m.runs = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Recomputation runs by result (ok, partial, failed).",
	}, []string{"result"})
	m.runDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "pipeline",
		Name:      "run_duration_seconds",
		Help:      "Wall time of recomputation runs.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	})
	m.lastSuccess = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "pipeline",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last run that completed without failures.",
	})
	m.subjectsProcessed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "pipeline",
		Name:      "subjects_processed_total",
		Help:      "Subjects scored and persisted.",
	})
	m.subjectsFailed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "pipeline",
		Name:      "subjects_failed_total",
		Help:      "Subjects whose matches could not be persisted.",
	})
	m.pagesFailed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "pipeline",
		Name:      "pages_failed_total",
		Help:      "Pages that could not be read after retries.",
	})
	m.matchesWritten = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "pipeline",
		Name:      "matches_written_total",
		Help:      "Match rows inserted or changed.",
	})
	m.matchesPruned = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "pipeline",
		Name:      "matches_pruned_total",
		Help:      "Match rows removed because they left a subject's top list.",
	})
	m.invariantBroken = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "pipeline",
		Name:      "invariant_violations_total",
		Help:      "Duplicate subject/sponsor pairs seen within one batch.",
	})
	m.matchScore = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "pipeline",
		Name:      "match_score",
		Help:      "Scores of persisted matches.",
		Buckets:   ScoreBuckets,
	})
	m.assessments = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "validation",
		Name:      "assessments_total",
		Help:      "Validation outcomes (approved, rejected, deferred, error).",
	}, []string{"outcome"})

	return m
}

// Registry returns the registry the metrics live on.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RunFinished records the outcome of one recomputation run.
func (m *Manager) RunFinished(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
	m.runDuration.Observe(took.Seconds())
	if result == "ok" {
		m.lastSuccess.SetToCurrentTime()
	}
}

// SubjectDone records one persisted subject and its matches.
func (m *Manager) SubjectDone(written, pruned int, scores []float64) {
	if m == nil {
		return
	}
	m.subjectsProcessed.Inc()
	m.matchesWritten.Add(float64(written))
	m.matchesPruned.Add(float64(pruned))
	for _, s := range scores {
		m.matchScore.Observe(s)
	}
}

// MatchesRetired records matches removed for ineligible subjects or
// deleted sponsors.
func (m *Manager) MatchesRetired(n int) {
	if m != nil {
		m.matchesPruned.Add(float64(n))
	}
}

func (m *Manager) SubjectFailed() {
	if m != nil {
		m.subjectsFailed.Inc()
	}
}

func (m *Manager) PageFailed() {
	if m != nil {
		m.pagesFailed.Inc()
	}
}

func (m *Manager) InvariantViolated() {
	if m != nil {
		m.invariantBroken.Inc()
	}
}

// Assessed records one validation outcome.
func (m *Manager) Assessed(outcome string) {
	if m != nil {
		m.assessments.WithLabelValues(outcome).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry to path for the node exporter's
// textfile collector. Batch runs use this instead of a scrape endpoint.
func (m *Manager) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
