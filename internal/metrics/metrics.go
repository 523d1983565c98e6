// Package metrics exposes Prometheus collectors for credential operations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder counts credential operations by outcome and times them.
type Recorder struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	swept      *prometheus.CounterVec
}

// NewRecorder creates a private registry with Go/process collectors and the
// credential metrics.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Recorder{
		registry: registry,
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credential_operations_total",
				Help: "Total number of credential operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credential_operation_duration_seconds",
				Help:    "Credential operation latency, dominated by hashing cost",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"operation"},
		),
		swept: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credential_challenges_swept_total",
				Help: "Expired challenges cleared by the sweeper by slot",
			},
			[]string{"slot"},
		),
	}
	registry.MustRegister(r.operations, r.duration, r.swept)
	return r
}

// Observe records one completed operation.
func (r *Recorder) Observe(operation, outcome string, elapsed time.Duration) {
	r.operations.WithLabelValues(operation, outcome).Inc()
	r.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// Swept adds n cleared challenges for slot.
func (r *Recorder) Swept(slot string, n int64) {
	if n > 0 {
		r.swept.WithLabelValues(slot).Add(float64(n))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Operations exposes the operation counter for tests.
func (r *Recorder) Operations() *prometheus.CounterVec {
	return r.operations
}
