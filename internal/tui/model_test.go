package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/taskengine/internal/classifier"
	"github.com/aristath/taskengine/internal/events"
	"github.com/aristath/taskengine/internal/recovery"
	"github.com/aristath/taskengine/internal/scheduler"
)

type fakeSource struct {
	counts scheduler.StatusCounts
	tasks  []scheduler.Task
}

func (f *fakeSource) GetStatus() scheduler.StatusCounts { return f.counts }
func (f *fakeSource) Tasks() []scheduler.Task          { return f.tasks }

func newTestModel(t *testing.T) (Model, *fakeSource) {
	t.Helper()
	bus := events.NewBus(16)
	t.Cleanup(bus.Close)

	src := &fakeSource{
		counts: scheduler.StatusCounts{Total: 2, Pending: 2},
		tasks: []scheduler.Task{
			{ID: "a", Name: "Build", ExecutorType: "shell", Status: scheduler.TaskPending},
			{ID: "b", Name: "Test", ExecutorType: "shell", Status: scheduler.TaskFailed, RetryPending: true, LastError: "timeout"},
		},
	}
	return New(bus, src), src
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func key(s string) tea.KeyMsg {
	switch s {
	case KeyTab:
		return tea.KeyMsg{Type: tea.KeyTab}
	case KeyShiftTab:
		return tea.KeyMsg{Type: tea.KeyShiftTab}
	case KeyCtrlC:
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// TestNewSeedsTasks verifies the task list starts from the source's tasks.
func TestNewSeedsTasks(t *testing.T) {
	m, _ := newTestModel(t)

	a, ok := m.taskPane.Task("a")
	if !ok || a.Name != "Build" || a.Status != statusPending {
		t.Errorf("unexpected state for a: %+v (found %v)", a, ok)
	}
	b, _ := m.taskPane.Task("b")
	if b.Status != statusRetrying {
		t.Errorf("expected retrying for a requeue-pending task, got %s", b.Status)
	}
	if len(b.Log) != 1 || !strings.Contains(b.Log[0], "timeout") {
		t.Errorf("expected last error in log, got %v", b.Log)
	}
	if m.progressPane.Counts().Total != 2 {
		t.Errorf("expected total 2, got %d", m.progressPane.Counts().Total)
	}
	if m.taskPane.SelectedTaskID() != "a" {
		t.Errorf("expected first task selected, got %q", m.taskPane.SelectedTaskID())
	}
}

// TestEventsUpdateTaskState verifies each lifecycle event moves the task
// to the matching display status and logs a line.
func TestEventsUpdateTaskState(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	classified := classifier.Classify("connection refused")

	tests := []struct {
		name       string
		event      events.Event
		wantStatus string
		wantLog    string
	}{
		{
			name:       "started",
			event:      events.Event{Type: events.TaskStarted, TaskID: "a", Timestamp: now, Payload: events.StartedPayload{Name: "Build", ExecutorType: "shell", Attempt: 1}},
			wantStatus: statusRunning,
			wantLog:    "started attempt 1 on shell",
		},
		{
			name:       "completed",
			event:      events.Event{Type: events.TaskCompleted, TaskID: "a", Timestamp: now, Payload: events.CompletedPayload{Output: "ok\n", Duration: 1500 * time.Millisecond}},
			wantStatus: statusCompleted,
			wantLog:    "completed in 1.5s",
		},
		{
			name:       "retried",
			event:      events.Event{Type: events.TaskRetried, TaskID: "a", Timestamp: now, Payload: events.RetriedPayload{Error: classified, RetryCount: 1, MaxRetries: 3, Delay: time.Second}},
			wantStatus: statusRetrying,
			wantLog:    "retry 1/3 in 1s",
		},
		{
			name:       "failed",
			event:      events.Event{Type: events.TaskFailed, TaskID: "a", Timestamp: now, Payload: events.FailedPayload{Error: classified, Action: recovery.ActionAlert}},
			wantStatus: statusFailed,
			wantLog:    "action: alert",
		},
		{
			name:       "cascade blocked",
			event:      events.Event{Type: events.TaskBlocked, TaskID: "a", Timestamp: now, Payload: events.BlockedPayload{Reason: "dependency failed", BlockedBy: "z"}},
			wantStatus: statusBlocked,
			wantLog:    "blocked: dependency failed (by z)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestModel(t)
			m, cmd := update(t, m, tt.event)
			if cmd == nil {
				t.Fatal("expected a command to wait for the next event")
			}

			st, _ := m.taskPane.Task("a")
			if st.Status != tt.wantStatus {
				t.Errorf("expected status %s, got %s", tt.wantStatus, st.Status)
			}
			last := st.Log[len(st.Log)-1]
			if tt.name == "completed" {
				last = strings.Join(st.Log, "\n")
			}
			if !strings.Contains(last, tt.wantLog) {
				t.Errorf("expected log to contain %q, got %q", tt.wantLog, last)
			}
			if !strings.Contains(last, "03:04:05") {
				t.Errorf("expected timestamp in log, got %q", last)
			}
		})
	}
}

// TestEventForUnknownTask verifies a task first seen through an event is
// added to the list.
func TestEventForUnknownTask(t *testing.T) {
	m, _ := newTestModel(t)
	m, _ = update(t, m, events.Event{Type: events.TaskStarted, TaskID: "late", Timestamp: time.Now(),
		Payload: events.StartedPayload{Name: "Late", ExecutorType: "shell", Attempt: 1}})

	st, ok := m.taskPane.Task("late")
	if !ok || st.Name != "Late" {
		t.Fatalf("expected late task to be tracked, got %+v", st)
	}
	if len(m.taskPane.order) != 3 {
		t.Errorf("expected 3 tasks, got %d", len(m.taskPane.order))
	}
}

// TestEventRefreshesCounts verifies counts are re-read from the source on
// every event.
func TestEventRefreshesCounts(t *testing.T) {
	m, src := newTestModel(t)
	src.counts = scheduler.StatusCounts{Total: 2, Completed: 2}

	m, _ = update(t, m, events.Event{Type: events.TaskCompleted, TaskID: "b", Timestamp: time.Now(),
		Payload: events.CompletedPayload{}})

	if got := m.progressPane.Counts(); got.Completed != 2 {
		t.Errorf("expected 2 completed, got %+v", got)
	}
	if !m.progressPane.Done() {
		t.Error("expected progress to be done")
	}
	if m.progressPane.events != 1 {
		t.Errorf("expected 1 event counted, got %d", m.progressPane.events)
	}
}

// TestFocusCycling verifies tab and shift+tab cycle panes and number keys
// jump directly.
func TestFocusCycling(t *testing.T) {
	m, _ := newTestModel(t)

	steps := []struct {
		key  string
		want PaneID
	}{
		{KeyTab, PaneProgress},
		{KeyTab, PaneTasks},
		{KeyShiftTab, PaneProgress},
		{KeyPane1, PaneTasks},
		{KeyPane2, PaneProgress},
	}
	for _, step := range steps {
		m, _ = update(t, m, key(step.key))
		if m.FocusedPane() != step.want {
			t.Fatalf("after %q expected pane %d, got %d", step.key, step.want, m.FocusedPane())
		}
	}
	if !m.progressPane.focused || m.taskPane.focused {
		t.Error("focus flags out of sync with focused pane")
	}
}

// TestTaskSelection verifies j/k move the selection within bounds and only
// while the task pane is focused.
func TestTaskSelection(t *testing.T) {
	m, _ := newTestModel(t)

	m, _ = update(t, m, key(KeyK))
	if m.taskPane.SelectedTaskID() != "a" {
		t.Errorf("k at top should stay on a, got %s", m.taskPane.SelectedTaskID())
	}
	m, _ = update(t, m, key(KeyJ))
	if m.taskPane.SelectedTaskID() != "b" {
		t.Errorf("expected b after j, got %s", m.taskPane.SelectedTaskID())
	}
	m, _ = update(t, m, key(KeyJ))
	if m.taskPane.SelectedTaskID() != "b" {
		t.Errorf("j at bottom should stay on b, got %s", m.taskPane.SelectedTaskID())
	}

	m, _ = update(t, m, key(KeyTab))
	m, _ = update(t, m, key(KeyK))
	if m.taskPane.SelectedTaskID() != "b" {
		t.Errorf("selection moved while progress pane focused")
	}
}

// TestQuit verifies q and ctrl+c quit the program.
func TestQuit(t *testing.T) {
	for _, k := range []string{KeyQuit, KeyCtrlC} {
		m, _ := newTestModel(t)
		m, cmd := update(t, m, key(k))
		if cmd == nil {
			t.Fatalf("%s: expected quit command", k)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%s: expected tea.QuitMsg", k)
		}
		if m.View() != "Goodbye!\n" {
			t.Errorf("%s: unexpected view %q", k, m.View())
		}
	}
}

// TestWaitForEvent verifies the subscription command yields events and
// reports a closed bus.
func TestWaitForEvent(t *testing.T) {
	bus := events.NewBus(4)
	sub := bus.Subscribe(4)

	bus.Publish(events.Event{Type: events.TaskStarted, TaskID: "x"})
	msg := waitForEvent(sub)()
	if ev, ok := msg.(events.Event); !ok || ev.TaskID != "x" {
		t.Fatalf("expected event for x, got %#v", msg)
	}

	bus.Close()
	if _, ok := waitForEvent(sub)().(busClosedMsg); !ok {
		t.Fatal("expected busClosedMsg after close")
	}
}

// TestView verifies both panes render once the window size is known.
func TestView(t *testing.T) {
	m, _ := newTestModel(t)
	if m.View() != "Initializing..." {
		t.Errorf("expected placeholder before sizing, got %q", m.View())
	}

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 30})
	m, _ = update(t, m, busClosedMsg{})
	view := m.View()
	for _, want := range []string{"Tasks", "Progress", "Build", "Total:", "event stream closed"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q", want)
		}
	}
}

// TestTailLines verifies long output is truncated to its last lines.
func TestTailLines(t *testing.T) {
	if got := tailLines("\n", 5); got != nil {
		t.Errorf("expected nil for empty output, got %v", got)
	}

	out := tailLines("1\n2\n3\n4\n", 2)
	want := []string{"  ... 2 lines omitted", "  3", "  4"}
	if strings.Join(out, "|") != strings.Join(want, "|") {
		t.Errorf("expected %v, got %v", want, out)
	}
}
