package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	KnownUsers         prometheus.Gauge
	Turns              *prometheus.CounterVec
	Validations        *prometheus.CounterVec
	ClassifierFailures *prometheus.CounterVec
	ClassifierLatency  prometheus.Histogram
	ProfileLookups     *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec

	stages *stageWindow
}

// NewMetrics registers instruments on the default Prometheus registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		KnownUsers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "known_users",
			Help:      "Number of users with onboarding memory in this process.",
		}),
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_turns_total",
			Help:      "Agent turns by classified intent and decided action.",
		}, []string{"intent", "action"}),
		Validations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "csv_validations_total",
			Help:      "Tenant file validations by outcome.",
		}, []string{"outcome"}),
		ClassifierFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intent_classifier_failures_total",
			Help:      "Intent classifier failures folded into the unknown intent, by reason.",
		}, []string{"reason"}),
		ClassifierLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "intent_classifier_latency_ms",
			Help:      "Latency of intent classification in milliseconds.",
			Buckets:   []float64{1, 5, 25, 100, 250, 500, 1000, 2500, 5000},
		}),
		ProfileLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_lookups_total",
			Help:      "User directory lookups by result.",
		}, []string{"result"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) ObserveClassifierLatency(d time.Duration) {
	m.ClassifierLatency.Observe(float64(d.Milliseconds()))
	m.stages.observe(StageClassify, d)
}

// ObserveStage records a pipeline stage duration in the rolling latency window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stages.observe(stage, d)
}

// CountOutcome tallies a turn outcome in the rolling window snapshot.
func (m *Metrics) CountOutcome(name string) {
	m.stages.countOutcome(name)
}

func (m *Metrics) SnapshotStages() StageSnapshot {
	return m.stages.snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
