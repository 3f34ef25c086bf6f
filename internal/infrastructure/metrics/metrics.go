package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"geodatenbezug/internal/domain"
	"geodatenbezug/internal/ports"
)

const namespace = "geodatenbezug"

// Prometheus collects pipeline metrics on its own registry.
type Prometheus struct {
	registry    *prometheus.Registry
	outcomes    *prometheus.CounterVec
	polls       *prometheus.CounterVec
	dueTopics   prometheus.Gauge
	runDuration prometheus.Histogram
}

var _ ports.Metrics = (*Prometheus)(nil)

// NewPrometheus registers all collectors plus the Go runtime collectors.
func NewPrometheus() *Prometheus {
	m := &Prometheus{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_outcomes_total",
			Help:      "Processed topic/canton exports by HTTP code.",
		}, []string{"code", "canton"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_polls_total",
			Help:      "Requests sent to the export and status endpoints.",
		}, []string{"operation"}),
		dueTopics: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "due_topics",
			Help:      "Topics selected for processing in the last run.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a complete run.",
			Buckets:   []float64{1, 10, 60, 300, 600, 1200, 1800, 3600},
		}),
	}
	m.registry.MustRegister(
		m.outcomes,
		m.polls,
		m.dueTopics,
		m.runDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveOutcome counts a finished topic.
func (m *Prometheus) ObserveOutcome(outcome domain.ExportOutcome) {
	m.outcomes.WithLabelValues(strconv.Itoa(outcome.Code), outcome.Canton).Inc()
}

// ObservePoll counts one request against export.json or status.json.
func (m *Prometheus) ObservePoll(operation string) {
	m.polls.WithLabelValues(operation).Inc()
}

// ObserveRun records the size and duration of a run.
func (m *Prometheus) ObserveRun(due int, duration time.Duration) {
	m.dueTopics.Set(float64(due))
	m.runDuration.Observe(duration.Seconds())
}

// Handler exposes the registry in the Prometheus text format.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
