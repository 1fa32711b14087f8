package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aristath/taskengine/internal/classifier"
	"github.com/aristath/taskengine/internal/events"
	"github.com/aristath/taskengine/internal/recovery"
	"github.com/aristath/taskengine/internal/scheduler"
)

type fixedStatus scheduler.StatusCounts

func (f fixedStatus) GetStatus() scheduler.StatusCounts { return scheduler.StatusCounts(f) }

func netErr() classifier.ClassifiedError {
	return classifier.Classify("Error: connect ECONNREFUSED")
}

// TestCollector_Observe verifies each payload feeds the right series.
func TestCollector_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg, nil)

	now := time.Now()
	for _, ev := range []events.Event{
		{Type: events.TaskStarted, TaskID: "a", Timestamp: now, Payload: events.StartedPayload{Attempt: 1}},
		{Type: events.TaskCompleted, TaskID: "a", Timestamp: now, Payload: events.CompletedPayload{Duration: 50 * time.Millisecond}},
		{Type: events.TaskRetried, TaskID: "b", Timestamp: now, Payload: events.RetriedPayload{Error: netErr(), RetryCount: 1}},
		{Type: events.TaskFailed, TaskID: "b", Timestamp: now, Payload: events.FailedPayload{Error: netErr(), Action: recovery.ActionAlert, Duration: time.Second}},
		{Type: events.TaskBlocked, TaskID: "c", Timestamp: now, Payload: events.BlockedPayload{Reason: "rolled back", RolledBack: true}},
		{Type: events.TaskBlocked, TaskID: "d", Timestamp: now, Payload: events.BlockedPayload{Reason: "dependency failed", BlockedBy: "c"}},
	} {
		c.Observe(ev)
	}

	if got := testutil.ToFloat64(c.EventsTotal.WithLabelValues("task_blocked")); got != 2 {
		t.Errorf("task_blocked events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.FailuresTotal.WithLabelValues("NETWORK", "retry")); got != 1 {
		t.Errorf("NETWORK/retry failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.FailuresTotal.WithLabelValues("NETWORK", "alert")); got != 1 {
		t.Errorf("NETWORK/alert failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.RollbacksTotal); got != 1 {
		t.Errorf("rollbacks = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(c.TaskDuration); got != 1 {
		t.Errorf("expected one histogram series, got %d", got)
	}

	expected := `
# HELP taskengine_events_total Total number of task lifecycle events
# TYPE taskengine_events_total counter
taskengine_events_total{type="task_blocked"} 2
taskengine_events_total{type="task_completed"} 1
taskengine_events_total{type="task_failed"} 1
taskengine_events_total{type="task_retried"} 1
taskengine_events_total{type="task_started"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "taskengine_events_total"); err != nil {
		t.Error(err)
	}
}

// TestStatusGauge verifies task counts are read at scrape time.
func TestStatusGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg, fixedStatus{Total: 6, Pending: 1, Running: 2, Completed: 3})

	expected := `
# HELP taskengine_tasks Current number of tasks by status
# TYPE taskengine_tasks gauge
taskengine_tasks{status="blocked"} 0
taskengine_tasks{status="completed"} 3
taskengine_tasks{status="failed"} 0
taskengine_tasks{status="pending"} 1
taskengine_tasks{status="retry_pending"} 0
taskengine_tasks{status="running"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "taskengine_tasks"); err != nil {
		t.Error(err)
	}
}

// TestCollector_AttachToScheduler verifies a real run is counted.
func TestCollector_AttachToScheduler(t *testing.T) {
	s := scheduler.New(scheduler.Config{})
	t.Cleanup(s.Close)
	reg := prometheus.NewRegistry()
	c := New(reg, s)
	detach := c.Attach(s.Bus())
	defer detach()

	s.RegisterExecutor("ok", func(ctx context.Context, task scheduler.Task) (scheduler.ExecutionResult, error) {
		return scheduler.ExecutionResult{Success: true}, nil
	})
	for _, id := range []string{"a", "b"} {
		if _, err := s.AddTask(scheduler.TaskSpec{ID: id, ExecutorType: "ok"}); err != nil {
			t.Fatalf("AddTask: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Handlers run asynchronously
	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(c.EventsTotal.WithLabelValues("task_completed")) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for completed events")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestHandler verifies /metrics and /health.
func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	src := fixedStatus{Total: 1, Pending: 1}
	New(reg, src)

	srv := httptest.NewServer(Handler(reg, src))
	defer srv.Close()

	body := get(t, srv.URL+"/metrics")
	if !strings.Contains(body, `taskengine_tasks{status="pending"} 1`) {
		t.Errorf("metrics output missing task gauge:\n%s", body)
	}
	body = get(t, srv.URL+"/health")
	if !strings.Contains(body, `"status":"ok"`) || !strings.Contains(body, `"pending":1`) {
		t.Errorf("unexpected health body: %s", body)
	}
}

// TestServer_ShutsDownOnCancel verifies Serve returns nil after ctx is cancelled.
func TestServer_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := NewServer(ln.Addr().String(), Handler(prometheus.NewRegistry(), nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	get(t, "http://"+ln.Addr().String()+"/health")
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return string(data)
}
