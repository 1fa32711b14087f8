// Package metrics exports scheduler activity to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aristath/taskengine/internal/events"
	"github.com/aristath/taskengine/internal/recovery"
	"github.com/aristath/taskengine/internal/scheduler"
)

// StatusSource reports current task counts.
type StatusSource interface {
	GetStatus() scheduler.StatusCounts
}

// Collector records lifecycle events as Prometheus metrics.
type Collector struct {
	// EventsTotal counts lifecycle events by type
	EventsTotal *prometheus.CounterVec
	// TaskDuration observes attempt durations of completed and failed tasks
	TaskDuration prometheus.Histogram
	// FailuresTotal counts recovery decisions by error kind and action
	FailuresTotal *prometheus.CounterVec
	// RollbacksTotal counts tasks blocked by a successful rollback
	RollbacksTotal prometheus.Counter
}

// New registers the collector's metrics on reg. When source is non-nil a
// taskengine_tasks{status} gauge is read from it at scrape time.
func New(reg prometheus.Registerer, source StatusSource) *Collector {
	f := promauto.With(reg)
	c := &Collector{
		EventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskengine_events_total",
				Help: "Total number of task lifecycle events",
			},
			[]string{"type"},
		),
		TaskDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskengine_task_duration_seconds",
				Help:    "Task attempt duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
		),
		FailuresTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskengine_failures_total",
				Help: "Total number of classified task failures",
			},
			[]string{"kind", "action"},
		),
		RollbacksTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "taskengine_rollbacks_total",
				Help: "Total number of tasks rolled back",
			},
		),
	}
	if source != nil {
		reg.MustRegister(&statusCollector{source: source, desc: taskGaugeDesc})
	}
	return c
}

// Attach records every event published on bus.
func (c *Collector) Attach(bus *events.Bus) (detach func()) {
	return bus.OnEvent(c.Observe)
}

// Observe records a single event.
func (c *Collector) Observe(ev events.Event) {
	c.EventsTotal.WithLabelValues(string(ev.Type)).Inc()

	switch p := ev.Payload.(type) {
	case events.CompletedPayload:
		c.TaskDuration.Observe(p.Duration.Seconds())
	case events.FailedPayload:
		c.TaskDuration.Observe(p.Duration.Seconds())
		c.FailuresTotal.WithLabelValues(p.Error.Kind.String(), string(p.Action)).Inc()
	case events.RetriedPayload:
		c.FailuresTotal.WithLabelValues(p.Error.Kind.String(), string(recovery.ActionRetry)).Inc()
	case events.BlockedPayload:
		if p.RolledBack && p.BlockedBy == "" {
			c.RollbacksTotal.Inc()
		}
	}
}

var taskGaugeDesc = prometheus.NewDesc(
	"taskengine_tasks",
	"Current number of tasks by status",
	[]string{"status"}, nil,
)

// statusCollector reads task counts on every scrape.
type statusCollector struct {
	source StatusSource
	desc   *prometheus.Desc
}

func (s *statusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.desc
}

func (s *statusCollector) Collect(ch chan<- prometheus.Metric) {
	counts := s.source.GetStatus()
	for _, v := range []struct {
		status string
		n      int
	}{
		{"pending", counts.Pending},
		{"running", counts.Running},
		{"completed", counts.Completed},
		{"failed", counts.Failed},
		{"retry_pending", counts.RetryPending},
		{"blocked", counts.Blocked},
	} {
		ch <- prometheus.MustNewConstMetric(s.desc, prometheus.GaugeValue, float64(v.n), v.status)
	}
}
