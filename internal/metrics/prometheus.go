package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the service reports to.
type Recorder interface {
	RecordTiming(op string, duration time.Duration, err error)
	RecordTransition(status string)
	SetInProgress(n int)
	RecordCoolOff()
}

// Metrics exposes service statistics in memory and to Prometheus.
type Metrics struct {
	*Collector

	Transitions       *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	OperationErrors   *prometheus.CounterVec
	InProgress        prometheus.Gauge
	CoolOffs          prometheus.Counter

	registry *prometheus.Registry
}

// New creates metrics registered with registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{Collector: NewCollector(), registry: registry}

	m.Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "classification_status_transitions_total",
		Help: "Classification jobs entering each status",
	}, []string{"status"})

	m.OperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "classification_operation_duration_seconds",
		Help:    "Duration of classification operations in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"operation"})

	m.OperationErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "classification_operation_errors_total",
		Help: "Failed classification operations",
	}, []string{"operation"})

	m.InProgress = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "classification_jobs_in_progress",
		Help: "Jobs currently tracked by the status poller",
	})

	m.CoolOffs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "classification_poller_cool_offs_total",
		Help: "Times the status poller paused after a communication failure",
	})

	for _, c := range []prometheus.Collector{m.Transitions, m.OperationDuration, m.OperationErrors, m.InProgress, m.CoolOffs} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register classification metrics: %w", err)
		}
	}
	return m, nil
}

// RecordTiming records an operation in memory and in the duration histogram.
func (m *Metrics) RecordTiming(op string, duration time.Duration, err error) {
	m.Collector.RecordTiming(op, duration, err)
	m.OperationDuration.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		m.OperationErrors.WithLabelValues(op).Inc()
	}
}

// RecordTransition counts a job entering status.
func (m *Metrics) RecordTransition(status string) {
	m.Transitions.WithLabelValues(status).Inc()
}

// SetInProgress sets the number of polled jobs.
func (m *Metrics) SetInProgress(n int) {
	m.InProgress.Set(float64(n))
}

// RecordCoolOff counts one poller pause.
func (m *Metrics) RecordCoolOff() {
	m.CoolOffs.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type discard struct{}

func (discard) RecordTiming(string, time.Duration, error) {}
func (discard) RecordTransition(string)                   {}
func (discard) SetInProgress(int)                         {}
func (discard) RecordCoolOff()                            {}

// Discard is a Recorder that drops everything.
var Discard Recorder = discard{}
