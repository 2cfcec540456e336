// Package observability provides metrics and tracing for media resolution.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/otherjamesbrown/mediaref/pkg/resolver"
)

// Status label values.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusConflict = "conflict"
)

// ResolverMetrics holds all Prometheus metrics for media resolution.
// It implements resolver.Observer.
type ResolverMetrics struct {
	// Resolution metrics
	ResolutionsTotal     *prometheus.CounterVec
	ResolutionSeconds    *prometheus.HistogramVec
	ResolutionConfidence *prometheus.HistogramVec

	// Phase metrics
	PhaseEvaluationsTotal *prometheus.CounterVec
	PhaseSeconds          *prometheus.HistogramVec

	// Turn pipeline metrics
	StoreOperationsTotal *prometheus.CounterVec
	EventsPublishedTotal *prometheus.CounterVec
	RegistrySize         prometheus.Histogram
}

var _ resolver.Observer = (*ResolverMetrics)(nil)

// DefaultResolverMetrics registers metrics with the default registerer.
func DefaultResolverMetrics() *ResolverMetrics {
	return NewResolverMetrics(prometheus.DefaultRegisterer)
}

// NewResolverMetrics creates a new set of resolver metrics on reg.
func NewResolverMetrics(reg prometheus.Registerer) *ResolverMetrics {
	factory := promauto.With(reg)

	return &ResolverMetrics{
		ResolutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediaref_resolutions_total",
				Help: "Total resolutions by method and whether the user must disambiguate",
			},
			[]string{"method", "disambiguation"},
		),
		ResolutionSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mediaref_resolution_seconds",
				Help:    "Resolution latency",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"method"},
		),
		ResolutionConfidence: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mediaref_resolution_confidence",
				Help:    "Confidence of resolution outcomes",
				Buckets: []float64{0, 0.5, 0.8, 0.85, 0.9, 0.95, 1.0},
			},
			[]string{"method"},
		),

		PhaseEvaluationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediaref_phase_evaluations_total",
				Help: "Phase evaluations and whether the phase produced the outcome",
			},
			[]string{"phase", "matched"},
		),
		PhaseSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mediaref_phase_seconds",
				Help:    "Time spent in each resolution phase",
				Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
			},
			[]string{"phase"},
		),

		StoreOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediaref_store_operations_total",
				Help: "Registry store operations by backend and outcome",
			},
			[]string{"backend", "operation", "status"},
		),
		EventsPublishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediaref_events_published_total",
				Help: "Resolution events published",
			},
			[]string{"event_type", "status"},
		),
		RegistrySize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mediaref_registry_size",
				Help:    "Number of media items in the conversation registry at resolution time",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
			},
		),
	}
}

// ObservePhase records one phase evaluation.
func (m *ResolverMetrics) ObservePhase(phase string, matched bool, elapsed time.Duration) {
	m.PhaseEvaluationsTotal.WithLabelValues(phase, strconv.FormatBool(matched)).Inc()
	m.PhaseSeconds.WithLabelValues(phase).Observe(elapsed.Seconds())
}

// ObserveResolution records a finished resolution.
func (m *ResolverMetrics) ObserveResolution(method resolver.Method, confidence float64, disambiguation bool, elapsed time.Duration) {
	m.ResolutionsTotal.WithLabelValues(string(method), strconv.FormatBool(disambiguation)).Inc()
	m.ResolutionSeconds.WithLabelValues(string(method)).Observe(elapsed.Seconds())
	m.ResolutionConfidence.WithLabelValues(string(method)).Observe(confidence)
}

// RecordStoreOperation records a store call.
func (m *ResolverMetrics) RecordStoreOperation(backend, operation, status string) {
	m.StoreOperationsTotal.WithLabelValues(backend, operation, status).Inc()
}

// RecordEventPublished records a publish attempt.
func (m *ResolverMetrics) RecordEventPublished(eventType, status string) {
	m.EventsPublishedTotal.WithLabelValues(eventType, status).Inc()
}

// RecordRegistrySize records the registry size seen by a resolution.
func (m *ResolverMetrics) RecordRegistrySize(n int) {
	m.RegistrySize.Observe(float64(n))
}
