// Package metrics exposes the task engine's per-task counters and gauges
// (spec.md §3) as Prometheus series, pulled over HTTP by an embedding
// application the same way the teacher exposes its own /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the registered Prometheus series for every running task.
// One Collector is shared by all the tasks that report into it, each
// through its own TaskRecorder.
type Collector struct {
	sent              *prometheus.CounterVec
	recv              *prometheus.CounterVec
	failed            *prometheus.CounterVec
	outstandingTotal  *prometheus.GaugeVec
	outstandingActive *prometheus.GaugeVec
	todoCount         *prometheus.GaugeVec
}

// NewCollector registers the task engine's series against reg. Pass
// prometheus.DefaultRegisterer to publish on the process-wide default
// registry, or a fresh *prometheus.Registry in tests to avoid collisions.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	labels := []string{"task_id", "kind"}
	return &Collector{
		sent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dht",
			Subsystem: "task",
			Name:      "rpc_sent_total",
			Help:      "RPC calls issued by a task.",
		}, labels),
		recv: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dht",
			Subsystem: "task",
			Name:      "rpc_recv_total",
			Help:      "RPC responses received by a task.",
		}, labels),
		failed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dht",
			Subsystem: "task",
			Name:      "rpc_failed_total",
			Help:      "RPC calls that timed out.",
		}, labels),
		outstandingTotal: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dht",
			Subsystem: "task",
			Name:      "outstanding_total",
			Help:      "In-flight + stalled calls for a task.",
		}, labels),
		outstandingActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dht",
			Subsystem: "task",
			Name:      "outstanding_active",
			Help:      "In-flight (non-stalled) calls for a task.",
		}, labels),
		todoCount: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dht",
			Subsystem: "task",
			Name:      "todo_count",
			Help:      "Unprobed candidates remaining for a task.",
		}, labels),
	}
}

// Handler returns the standard Prometheus scrape handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.Handler()
}

// ForTask returns a narrow recorder bound to one task's labels. Call Forget
// when the task finishes so its series don't linger forever in the registry.
func (c *Collector) ForTask(taskID, kind string) *TaskRecorder {
	labels := prometheus.Labels{"task_id": taskID, "kind": kind}
	return &TaskRecorder{c: c, labels: labels}
}

// TaskRecorder mirrors the counters and gauges of spec.md §3 for one task.
type TaskRecorder struct {
	c      *Collector
	labels prometheus.Labels
}

func (t *TaskRecorder) IncSent()   { t.c.sent.With(t.labels).Inc() }
func (t *TaskRecorder) IncRecv()   { t.c.recv.With(t.labels).Inc() }
func (t *TaskRecorder) IncFailed() { t.c.failed.With(t.labels).Inc() }

func (t *TaskRecorder) SetOutstandingTotal(n int64) {
	t.c.outstandingTotal.With(t.labels).Set(float64(n))
}

func (t *TaskRecorder) SetOutstandingActive(n int64) {
	t.c.outstandingActive.With(t.labels).Set(float64(n))
}

func (t *TaskRecorder) SetTodoCount(n int64) {
	t.c.todoCount.With(t.labels).Set(float64(n))
}

// Forget removes this task's label set from every series it touched, so a
// long-running manager doesn't accumulate unbounded cardinality.
func (t *TaskRecorder) Forget() {
	t.c.sent.Delete(t.labels)
	t.c.recv.Delete(t.labels)
	t.c.failed.Delete(t.labels)
	t.c.outstandingTotal.Delete(t.labels)
	t.c.outstandingActive.Delete(t.labels)
	t.c.todoCount.Delete(t.labels)
}
