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
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	Turns            *prometheus.CounterVec
	PhaseTransitions *prometheus.CounterVec
	ExecutorErrors   *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	ResponderLatency prometheus.Histogram
	ExecutionLatency prometheus.Histogram

	stageWindow *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active chat sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed conversation turns by outcome.",
		}, []string{"outcome"}),
		PhaseTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Conversation phase transitions by target phase.",
		}, []string{"phase"}),
		ExecutorErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executor_errors_total",
			Help:      "Warehouse execution errors by classified kind.",
		}, []string{"kind"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ResponderLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "responder_latency_ms",
			Help:      "Latency of the answering collaborator in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000},
		}),
		ExecutionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_latency_ms",
			Help:      "Warehouse query execution latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2500, 5000, 15000, 30000},
		}),
		stageWindow: newStageWindow(256),
	}
}

func (m *Metrics) ObserveResponderLatency(d time.Duration) {
	m.ResponderLatency.Observe(float64(d.Milliseconds()))
	m.stageWindow.Observe(StageRespond, float64(d.Milliseconds()))
}

func (m *Metrics) ObserveExecutionLatency(d time.Duration) {
	m.ExecutionLatency.Observe(float64(d.Milliseconds()))
	m.stageWindow.Observe(StageExecute, float64(d.Milliseconds()))
}

func (m *Metrics) ObserveTurnTotal(d time.Duration) {
	m.stageWindow.Observe(StageTurnTotal, float64(d.Milliseconds()))
}

// SnapshotStages reports rolling turn-stage latency percentiles for the
// perf endpoint.
func (m *Metrics) SnapshotStages() StageSnapshot {
	return m.stageWindow.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
