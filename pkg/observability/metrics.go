// Package observability holds the prometheus instrumentation shared by the
// fabric components. All methods are safe on a nil *Metrics so components
// can run uninstrumented in tests.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the collector set for one fabric instance.
type Metrics struct {
	AgentsOnline   prometheus.Gauge
	MessagesRouted *prometheus.CounterVec
	RetriesTotal   prometheus.Counter
	QueueDepth     *prometheus.GaugeVec
	CircuitsOpen   prometheus.Gauge
	TasksTotal     *prometheus.CounterVec
	TaskDuration   prometheus.Histogram
}

// New creates and registers the fabric collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AgentsOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fabric",
			Name:      "agents_online",
			Help:      "Number of agents currently online in the registry.",
		}),
		MessagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fabric",
			Name:      "messages_routed_total",
			Help:      "Messages processed by the router, by outcome.",
		}, []string{"outcome"}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fabric",
			Name:      "message_retries_total",
			Help:      "Delivery retries performed by the router.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fabric",
			Name:      "queue_depth",
			Help:      "Queued messages per priority.",
		}, []string{"priority"}),
		CircuitsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fabric",
			Name:      "circuits_open",
			Help:      "Circuit breakers currently open.",
		}),
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fabric",
			Name:      "tasks_total",
			Help:      "Tasks finished, by terminal state.",
		}, []string{"state"}),
		TaskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fabric",
			Name:      "task_duration_seconds",
			Help:      "Task execution duration.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.AgentsOnline, m.MessagesRouted, m.RetriesTotal,
			m.QueueDepth, m.CircuitsOpen, m.TasksTotal, m.TaskDuration,
		)
	}
	return m
}

// SetAgentsOnline records the registry's online agent count.
func (m *Metrics) SetAgentsOnline(n int) {
	if m == nil {
		return
	}
	m.AgentsOnline.Set(float64(n))
}

// ObserveRouted counts one routed message by outcome ("sent" or "failed").
func (m *Metrics) ObserveRouted(outcome string) {
	if m == nil {
		return
	}
	m.MessagesRouted.WithLabelValues(outcome).Inc()
}

// ObserveRetry counts one delivery retry.
func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// SetQueueDepth records the queue depth for one priority.
func (m *Metrics) SetQueueDepth(priority string, depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(priority).Set(float64(depth))
}

// SetCircuitsOpen records the number of open breakers.
func (m *Metrics) SetCircuitsOpen(n int) {
	if m == nil {
		return
	}
	m.CircuitsOpen.Set(float64(n))
}

// ObserveTask records a finished task and its duration in seconds.
func (m *Metrics) ObserveTask(state string, seconds float64) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(state).Inc()
	m.TaskDuration.Observe(seconds)
}
