// Package metrics provides Prometheus metrics for the churn service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "churn"

// Metrics holds all Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge

	predictionsTotal   *prometheus.CounterVec
	predictionDuration prometheus.Histogram
	churnProbability   prometheus.Histogram

	trainingRunsTotal *prometheus.CounterVec
	trainingDuration  prometheus.Histogram
	modelAUC          *prometheus.GaugeVec
	modelLoaded       prometheus.Gauge
	modelReloads      *prometheus.CounterVec
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry creates the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	durations := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	return &Metrics{
		registry: reg,
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   durations,
			},
			[]string{"method", "path"},
		),
		requestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),
		predictionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "predictions_total",
				Help:      "Leases scored, by risk tier",
			},
			[]string{"tier"},
		),
		predictionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "prediction_batch_duration_seconds",
				Help:      "Time to join, transform and score one prediction batch",
				Buckets:   durations,
			},
		),
		churnProbability: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "churn_probability",
				Help:      "Distribution of predicted churn probabilities",
				Buckets:   prometheus.LinearBuckets(0.1, 0.1, 9),
			},
		),
		trainingRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "training_runs_total",
				Help:      "Training runs, by outcome",
			},
			[]string{"outcome"},
		),
		trainingDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "training_duration_seconds",
				Help:      "Wall-clock duration of successful training runs",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
		modelAUC: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "model_auc",
				Help:      "ROC-AUC of the most recently trained model",
			},
			[]string{"split"},
		),
		modelLoaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "model_loaded",
				Help:      "Whether a model is loaded for serving (1 = loaded, 0 = not loaded)",
			},
		),
		modelReloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_reloads_total",
				Help:      "Model reload attempts, by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Registry returns the registry backing these metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncRequestsInFlight increments the in-flight requests gauge.
func (m *Metrics) IncRequestsInFlight() { m.requestsInFlight.Inc() }

// DecRequestsInFlight decrements the in-flight requests gauge.
func (m *Metrics) DecRequestsInFlight() { m.requestsInFlight.Dec() }

// RecordPrediction records one scored lease.
func (m *Metrics) RecordPrediction(tier string, probability float64) {
	m.predictionsTotal.WithLabelValues(tier).Inc()
	m.churnProbability.Observe(probability)
}

// RecordPredictionBatch records the duration of a prediction batch.
func (m *Metrics) RecordPredictionBatch(duration time.Duration) {
	m.predictionDuration.Observe(duration.Seconds())
}

// RecordTraining records a training run. AUCs are only set on success.
func (m *Metrics) RecordTraining(err error, duration time.Duration, cvAUC, testAUC float64) {
	if err != nil {
		m.trainingRunsTotal.WithLabelValues("failure").Inc()
		return
	}
	m.trainingRunsTotal.WithLabelValues("success").Inc()
	m.trainingDuration.Observe(duration.Seconds())
	m.modelAUC.WithLabelValues("cv").Set(cvAUC)
	m.modelAUC.WithLabelValues("test").Set(testAUC)
}

// RecordReload records a model reload attempt.
func (m *Metrics) RecordReload(err error) {
	if err != nil {
		m.modelReloads.WithLabelValues("failure").Inc()
		return
	}
	m.modelReloads.WithLabelValues("success").Inc()
}

// SetModelLoaded sets the model-loaded gauge.
func (m *Metrics) SetModelLoaded(loaded bool) {
	if loaded {
		m.modelLoaded.Set(1)
	} else {
		m.modelLoaded.Set(0)
	}
}
