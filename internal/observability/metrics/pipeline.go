package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineMetrics owns the process registry and the coordinator-level series.
type PipelineMetrics struct {
	registry *prometheus.Registry
	service  string

	messagesTotal *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	indexVectors  prometheus.Gauge
	answersTotal  *prometheus.CounterVec
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()

	messagesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "pipeline",
			Name:      "messages_total",
			Help:      "Routed pipeline messages by type, receiver and outcome.",
		},
		[]string{"service", "type", "receiver", "outcome"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Agent handling duration in seconds by stage and status.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"service", "stage", "status"},
	)
	indexVectors := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docqa",
			Subsystem: "index",
			Name:      "vectors",
			Help:      "Number of vectors in the index.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	answersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "chat",
			Name:      "answers_total",
			Help:      "Answers returned to the user by kind.",
		},
		[]string{"service", "kind"},
	)

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		messagesTotal,
		stageDuration,
		indexVectors,
		answersTotal,
	)

	return &PipelineMetrics{
		registry:      registry,
		service:       service,
		messagesTotal: messagesTotal,
		stageDuration: stageDuration,
		indexVectors:  indexVectors,
		answersTotal:  answersTotal,
	}
}

func (m *PipelineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) ObserveMessage(messageType, receiver, outcome string) {
	m.messagesTotal.WithLabelValues(m.service, messageType, receiver, outcome).Inc()
}

func (m *PipelineMetrics) ObserveStage(stage string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.stageDuration.WithLabelValues(m.service, stage, status).Observe(duration.Seconds())
}

func (m *PipelineMetrics) SetIndexSize(vectors int) {
	m.indexVectors.Set(float64(vectors))
}

// RecordAnswer counts answers by kind: answered, no_context or error.
func (m *PipelineMetrics) RecordAnswer(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	m.answersTotal.WithLabelValues(m.service, kind).Inc()
}
