// Package monitor counts turns, node executions, workflow errors and stream
// events, and derives the service health from the turn success rate.
package monitor

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/randalmurphal/convograph/pkg/convo/state"
	"github.com/randalmurphal/convograph/pkg/convo/stream"
	"github.com/randalmurphal/convograph/pkg/flowgraph"
)

// HealthyRate is the turn success rate above which the service is healthy.
const HealthyRate = 0.95

// Health statuses.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Monitor records metrics on its own Prometheus registry. It is a
// flowgraph.Observer; register it on the turn context to count nodes.
type Monitor struct {
	registry *prometheus.Registry

	turns          *prometheus.CounterVec
	turnDuration   *prometheus.HistogramVec
	nodes          *prometheus.CounterVec
	workflowErrors *prometheus.CounterVec
	events         *prometheus.CounterVec

	total  atomic.Int64
	failed atomic.Int64
	now    func() time.Time
}

var _ flowgraph.Observer = (*Monitor)(nil)

// New creates a Monitor with its collectors registered.
func New() *Monitor {
	m := &Monitor{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convograph_turns_total",
			Help: "Conversation turns by outcome.",
		}, []string{"outcome"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "convograph_turn_duration_seconds",
			Help:    "Turn duration by workflow.",
			Buckets: prometheus.DefBuckets,
		}, []string{"workflow"}),
		nodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convograph_node_executions_total",
			Help: "Node executions by node and outcome, nested nodes included.",
		}, []string{"node", "outcome"}),
		workflowErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convograph_workflow_errors_total",
			Help: "Workflow errors handed to the error router.",
		}, []string{"workflow", "kind"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convograph_stream_events_total",
			Help: "Stream events written to clients.",
		}, []string{"event"}),
		now: time.Now,
	}
	m.registry.MustRegister(m.turns, m.turnDuration, m.nodes, m.workflowErrors, m.events)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TurnFinished records one turn. A turn fails when the graph run returned
// an error; errors the error router handled count as success.
func (m *Monitor) TurnFinished(workflow state.WorkflowName, d time.Duration, err error) {
	outcome := "success"
	m.total.Add(1)
	if err != nil {
		outcome = "failure"
		m.failed.Add(1)
	}
	m.turns.WithLabelValues(outcome).Inc()
	m.turnDuration.WithLabelValues(string(workflow)).Observe(d.Seconds())
}

// EventSent counts one stream event. It fits stream.WithEventHook.
func (m *Monitor) EventSent(k stream.Kind) {
	m.events.WithLabelValues(string(k)).Inc()
}

// NodeStarted implements flowgraph.Observer.
func (m *Monitor) NodeStarted(flowgraph.Context, flowgraph.NodeID) {}

// NodeFinished implements flowgraph.Observer.
func (m *Monitor) NodeFinished(ctx flowgraph.Context, id flowgraph.NodeID, st any, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.nodes.WithLabelValues(string(id), outcome).Inc()

	if len(ctx.Path()) > 0 {
		return
	}
	if s, ok := st.(state.State); ok && s.Error != nil {
		m.workflowErrors.WithLabelValues(string(s.Error.Workflow), string(s.Error.Kind)).Inc()
	}
}

// Health is the health-check report.
type Health struct {
	Status      string    `json:"status"`
	SuccessRate float64   `json:"success_rate"`
	TotalTurns  int64     `json:"total_turns"`
	FailedTurns int64     `json:"failed_turns"`
	Timestamp   time.Time `json:"timestamp"`
}

// Healthy reports whether Status is StatusHealthy.
func (h Health) Healthy() bool {
	return h.Status == StatusHealthy
}

// Health reports the success rate over every turn recorded so far. With no
// turns the rate is 1.
func (m *Monitor) Health() Health {
	total, failed := m.total.Load(), m.failed.Load()
	rate := 1.0
	if total > 0 {
		rate = float64(total-failed) / float64(total)
	}
	status := StatusDegraded
	if rate > HealthyRate {
		status = StatusHealthy
	}
	return Health{
		Status:      status,
		SuccessRate: rate,
		TotalTurns:  total,
		FailedTurns: failed,
		Timestamp:   m.now().UTC(),
	}
}
