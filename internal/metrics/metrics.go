// Package metrics counts uploads and password validations with Prometheus
// collectors on a private registry.
package metrics

import (
	"github.com/loopkit/nightscoutservice/internal/models"
	"github.com/loopkit/nightscoutservice/internal/services"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nightscout"

// Metrics implements services.Recorder and otp.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	uploaded *prometheus.CounterVec
	failures *prometheus.CounterVec
	otp      *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		uploaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_records_total",
			Help:      "Records sent to Nightscout, by category and step.",
		}, []string{"category", "step"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_failures_total",
			Help:      "Failed upload steps, by category and step.",
		}, []string{"category", "step"}),
		otp: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_validations_total",
			Help:      "One-time password validations, by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(m.uploaded, m.failures, m.otp)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveUpload(category models.Category, step services.Step, count int) {
	m.uploaded.WithLabelValues(string(category), string(step)).Add(float64(count))
}

func (m *Metrics) ObserveFailure(category models.Category, step services.Step) {
	m.failures.WithLabelValues(string(category), string(step)).Inc()
}

func (m *Metrics) ObserveOTPValidation(outcome string) {
	m.otp.WithLabelValues(outcome).Inc()
}

// WriteToTextfile writes every metric in the text exposition format, for
// collection by node_exporter's textfile collector.
func (m *Metrics) WriteToTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
