package jobs

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"clearskin/internal/records"
)

// Metrics contains the Prometheus instruments for detection jobs. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Submitted prometheus.Counter
	Settled   *prometheus.CounterVec
	InFlight  prometheus.Gauge
	Duration  prometheus.Histogram
}

// NewMetrics creates the job metrics and registers them with registry.
func NewMetrics(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clearskin_detection_jobs_submitted_total",
			Help: "Total number of detection jobs submitted.",
		}),
		Settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clearskin_detection_jobs_settled_total",
			Help: "Total number of detection jobs settled, by final status.",
		}, []string{"status"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clearskin_detection_jobs_in_flight",
			Help: "Number of detection jobs currently pending.",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clearskin_detection_job_duration_seconds",
			Help:    "Duration of detection jobs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register detection job metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) jobSubmitted() {
	if m == nil {
		return
	}
	m.Submitted.Inc()
	m.InFlight.Inc()
}

func (m *Metrics) jobSettled(status records.JobStatus, duration time.Duration) {
	if m == nil {
		return
	}
	m.InFlight.Dec()
	m.Settled.WithLabelValues(string(status)).Inc()
	m.Duration.Observe(duration.Seconds())
}

// Collect implements the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.Submitted.Collect(ch)
	m.Settled.Collect(ch)
	m.InFlight.Collect(ch)
	m.Duration.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.Submitted.Describe(ch)
	m.Settled.Describe(ch)
	m.InFlight.Describe(ch)
	m.Duration.Describe(ch)
}
