package tree

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for coordinator activity.
// A nil *Metrics records nothing.
type Metrics struct {
	spawns              *prometheus.CounterVec
	completions         *prometheus.CounterVec
	merges              *prometheus.CounterVec
	branchFailures      prometheus.Counter
	persistenceFailures *prometheus.CounterVec
	running             prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// Labels: specialization
		spawns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "keen",
				Subsystem: "tree",
				Name:      "spawns_total",
				Help:      "Total number of agents registered in the tree",
			},
			[]string{"specialization"},
		),
		// Labels: status (completed, failed, cancelled)
		completions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "keen",
				Subsystem: "tree",
				Name:      "completions_total",
				Help:      "Total number of agents that reached a terminal status",
			},
			[]string{"status"},
		),
		// Labels: result (success, conflict, error)
		merges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "keen",
				Subsystem: "tree",
				Name:      "merges_total",
				Help:      "Total number of child branch merges into parent branches",
			},
			[]string{"result"},
		),
		branchFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "keen",
				Subsystem: "tree",
				Name:      "branch_failures_total",
				Help:      "Total number of child branch creations that failed",
			},
		),
		// Labels: op (create, update)
		persistenceFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "keen",
				Subsystem: "tree",
				Name:      "persistence_failures_total",
				Help:      "Total number of session mirror writes that failed and were skipped",
			},
			[]string{"op"},
		),
		running: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "keen",
				Subsystem: "tree",
				Name:      "running_agents",
				Help:      "Number of agents currently running",
			},
		),
	}
}

func (m *Metrics) spawned(specialization string) {
	if m == nil {
		return
	}
	m.spawns.WithLabelValues(specialization).Inc()
	m.running.Inc()
}

func (m *Metrics) finished(status string) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(status).Inc()
	m.running.Dec()
}

func (m *Metrics) merged(result string) {
	if m == nil {
		return
	}
	m.merges.WithLabelValues(result).Inc()
}

func (m *Metrics) branchFailed() {
	if m == nil {
		return
	}
	m.branchFailures.Inc()
}

func (m *Metrics) persistenceFailed(op string) {
	if m == nil {
		return
	}
	m.persistenceFailures.WithLabelValues(op).Inc()
}
