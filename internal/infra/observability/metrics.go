package observability

import (
	"errors"
	"time"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the BFA. It implements
// onboarding.Recorder.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration     *prometheus.HistogramVec
	externalErrors      *prometheus.CounterVec
	saves               *prometheus.CounterVec
	saveDuration        prometheus.Histogram
	autosavesTriggered  prometheus.Counter
	autosavesSuperseded prometheus.Counter
	validations         *prometheus.CounterVec
	completions         prometheus.Counter
	draftLookups        *prometheus.CounterVec
	activeSessions      prometheus.Gauge
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. A private registry lets tests build as many
// instances as they need.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bfa_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		saves: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_onboarding_saves_total",
				Help: "Onboarding saves by result.",
			},
			[]string{"result"},
		),
		saveDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bfa_onboarding_save_duration_seconds",
				Help:    "Latency of onboarding saves.",
				Buckets: prometheus.DefBuckets,
			},
		),
		autosavesTriggered: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bfa_onboarding_autosaves_triggered_total",
				Help: "Autosave triggers after a valid field change.",
			},
		),
		autosavesSuperseded: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bfa_onboarding_autosaves_superseded_total",
				Help: "Pending or in-flight autosaves cancelled by a newer change.",
			},
		),
		validations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_onboarding_validations_total",
				Help: "Step validations by step and result.",
			},
			[]string{"step", "result"},
		),
		completions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bfa_onboarding_completions_total",
				Help: "Onboarding flows completed.",
			},
		),
		draftLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_onboarding_draft_lookups_total",
				Help: "Draft cache lookups by result.",
			},
			[]string{"result"},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bfa_onboarding_active_sessions",
				Help: "Onboarding sessions held in memory.",
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// ============================================================
// onboarding.Recorder
// ============================================================

func (m *Metrics) StepValidated(step domain.StepID, valid bool) {
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.validations.WithLabelValues(step.String(), result).Inc()
}

func (m *Metrics) SaveCompleted(elapsed time.Duration, err error) {
	m.saveDuration.Observe(elapsed.Seconds())
	if err == nil {
		m.saves.WithLabelValues("success").Inc()
		return
	}
	m.saves.WithLabelValues("error").Inc()

	var ext *domain.ErrExternalService
	var open *domain.ErrCircuitOpen
	switch {
	case errors.As(err, &open):
		m.IncrExternalError(open.Service)
	case errors.As(err, &ext):
		m.IncrExternalError(ext.Service)
	}
}

func (m *Metrics) AutosaveTriggered()  { m.autosavesTriggered.Inc() }
func (m *Metrics) AutosaveSuperseded() { m.autosavesSuperseded.Inc() }

func (m *Metrics) DraftLookup(hit bool) {
	if hit {
		m.draftLookups.WithLabelValues("hit").Inc()
		return
	}
	m.draftLookups.WithLabelValues("miss").Inc()
}

// IncrCompletion counts a finished onboarding flow.
func (m *Metrics) IncrCompletion() { m.completions.Inc() }

// SetActiveSessions reports the size of the session registry.
func (m *Metrics) SetActiveSessions(n int) { m.activeSessions.Set(float64(n)) }

// ============================================================
// Snapshot
// ============================================================

// OnboardingSnapshot returns the cumulative counters for the
// GET /v1/metrics/onboarding endpoint.
func (m *Metrics) OnboardingSnapshot() *domain.OnboardingMetrics {
	ok := counterValue(m.saves.WithLabelValues("success"))
	failed := counterValue(m.saves.WithLabelValues("error"))
	hits := counterValue(m.draftLookups.WithLabelValues("hit"))
	misses := counterValue(m.draftLookups.WithLabelValues("miss"))

	errorRate := float64(0)
	if ok+failed > 0 {
		errorRate = failed / (ok + failed)
	}
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	return &domain.OnboardingMetrics{
		SavesSucceeded:      int64(ok),
		SavesFailed:         int64(failed),
		SaveErrorRate:       errorRate,
		AutosavesTriggered:  int64(counterValue(m.autosavesTriggered)),
		AutosavesSuperseded: int64(counterValue(m.autosavesSuperseded)),
		Completions:         int64(counterValue(m.completions)),
		DraftHitRate:        hitRate,
		Period:              "all_time",
	}
}

// counterValue extracts the current value of a counter.
func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
