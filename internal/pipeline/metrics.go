package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var stageBuckets = []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600}

// Metrics instruments stage and run outcomes.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	runTotal      *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
}

// NewMetrics registers pipeline collectors on the given registerer. Repeated
// registration reuses the existing collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "deployer",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages by terminal status",
			Buckets:   stageBuckets,
		}, []string{"stage", "status"}),
		runTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deployer",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Number of pipeline runs by terminal status",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "deployer",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "End-to-end duration of pipeline runs",
			Buckets:   stageBuckets,
		}, []string{"status"}),
	}

	m.stageDuration = registerHistogram(reg, m.stageDuration)
	m.runTotal = registerCounter(reg, m.runTotal)
	m.runDuration = registerHistogram(reg, m.runDuration)
	return m
}

// ObserveStage records one stage attempt chain's terminal duration.
func (m *Metrics) ObserveStage(stage string, status Status, duration time.Duration) {
	m.stageDuration.With(prometheus.Labels{
		"stage":  stage,
		"status": string(status),
	}).Observe(duration.Seconds())
}

// ObserveRun records one run's terminal status and duration.
func (m *Metrics) ObserveRun(status Status, duration time.Duration) {
	labels := prometheus.Labels{"status": string(status)}
	m.runTotal.With(labels).Inc()
	m.runDuration.With(labels).Observe(duration.Seconds())
}

func registerCounter(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}

func registerHistogram(reg prometheus.Registerer, h *prometheus.HistogramVec) *prometheus.HistogramVec {
	if err := reg.Register(h); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing
			}
		}
	}
	return h
}
