package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskengine/internal/events"
	"github.com/aristath/taskengine/internal/scheduler"
)

const (
	listWidth = 28
	// maxOutputLines caps how much of a completed task's output is logged.
	maxOutputLines = 20
)

// Display statuses. "retrying" is a failed task waiting to be requeued.
const (
	statusPending   = "pending"
	statusRunning   = "running"
	statusCompleted = "completed"
	statusFailed    = "failed"
	statusRetrying  = "retrying"
	statusBlocked   = "blocked"
)

// TaskState is what the monitor knows about a single task.
type TaskState struct {
	TaskID   string
	Name     string
	Executor string
	Status   string
	Attempt  int
	Log      []string
	Duration time.Duration
}

// TaskPaneModel lists tasks and shows the selected task's event log.
type TaskPaneModel struct {
	tasks       map[string]*TaskState
	order       []string // Creation order, then first-seen order
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

// NewTaskPaneModel creates a task pane seeded with known tasks.
func NewTaskPaneModel(seed []scheduler.Task) TaskPaneModel {
	m := TaskPaneModel{
		tasks:    make(map[string]*TaskState),
		viewport: viewport.New(0, 0),
	}
	for _, t := range seed {
		st := m.ensure(t.ID)
		st.Name = t.Name
		st.Executor = t.ExecutorType
		st.Status = displayStatus(t)
		st.Attempt = t.RetryCount
		if t.LastError != "" {
			st.Log = append(st.Log, "last error: "+t.LastError)
		}
	}
	m.updateViewportContent()
	return m
}

func displayStatus(t scheduler.Task) string {
	if t.Status == scheduler.TaskFailed && t.RetryPending {
		return statusRetrying
	}
	return t.Status.String()
}

func (m *TaskPaneModel) ensure(taskID string) *TaskState {
	st, ok := m.tasks[taskID]
	if !ok {
		st = &TaskState{TaskID: taskID, Name: taskID, Status: statusPending}
		m.tasks[taskID] = st
		m.order = append(m.order, taskID)
	}
	return st
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}

		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		case KeyG:
			m.viewport.GotoTop()
		case KeyShiftG:
			m.viewport.GotoBottom()
		default:
			// Delegate other keys to viewport for scrolling
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.Event:
		m.apply(msg)
		if m.SelectedTaskID() == msg.TaskID {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

// apply records ev against its task.
func (m *TaskPaneModel) apply(ev events.Event) {
	st := m.ensure(ev.TaskID)
	stamp := ev.Timestamp.Format("15:04:05")

	switch p := ev.Payload.(type) {
	case events.StartedPayload:
		st.Status = statusRunning
		st.Attempt = p.Attempt
		if p.Name != "" {
			st.Name = p.Name
		}
		st.Executor = p.ExecutorType
		st.Log = append(st.Log, fmt.Sprintf("[%s] started attempt %d on %s", stamp, p.Attempt, p.ExecutorType))

	case events.CompletedPayload:
		st.Status = statusCompleted
		st.Duration = p.Duration
		st.Log = append(st.Log, fmt.Sprintf("[%s] completed in %v", stamp, p.Duration.Round(time.Millisecond)))
		st.Log = append(st.Log, tailLines(p.Output, maxOutputLines)...)

	case events.RetriedPayload:
		st.Status = statusRetrying
		st.Log = append(st.Log, fmt.Sprintf("[%s] %s: %s, retry %d/%d in %v",
			stamp, p.Error.Kind, p.Error.Message, p.RetryCount, p.MaxRetries, p.Delay))

	case events.FailedPayload:
		st.Status = statusFailed
		st.Duration = p.Duration
		st.Log = append(st.Log, fmt.Sprintf("[%s] failed %s: %s (action: %s)",
			stamp, p.Error.Kind, p.Error.Message, p.Action))

	case events.BlockedPayload:
		st.Status = statusBlocked
		line := fmt.Sprintf("[%s] blocked: %s", stamp, p.Reason)
		if p.BlockedBy != "" {
			line += " (by " + p.BlockedBy + ")"
		}
		st.Log = append(st.Log, line)

	default:
		st.Log = append(st.Log, fmt.Sprintf("[%s] %s", stamp, ev.Type))
	}
}

func tailLines(output string, n int) []string {
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return nil
	}
	lines := strings.Split(output, "\n")
	if len(lines) > n {
		lines = append([]string{fmt.Sprintf("  ... %d lines omitted", len(lines)-n)}, lines[len(lines)-n:]...)
	}
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return lines
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	viewportWidth := m.width - listWidth - 4 // account for borders and padding

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderTaskList(),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TaskPaneModel) renderTaskList() string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(listWidth, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}
	for i, taskID := range m.order {
		st := m.tasks[taskID]
		name := st.Name
		if len(name) > listWidth-4 {
			name = name[:listWidth-7] + "..."
		}

		line := fmt.Sprintf("%s %s", StatusIcon(st.Status), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(listWidth).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case statusRunning:
		return StyleStatusRunning.Render("●")
	case statusCompleted:
		return StyleStatusComplete.Render("✓")
	case statusFailed:
		return StyleStatusFailed.Render("✗")
	case statusRetrying:
		return StyleStatusRetrying.Render("↻")
	case statusBlocked:
		return StyleStatusBlocked.Render("⊘")
	default:
		return StyleStatusPending.Render("○")
	}
}

// SelectedTaskID returns the ID of the selected task, or "".
func (m TaskPaneModel) SelectedTaskID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return ""
}

// Task returns the monitor's view of a task.
func (m TaskPaneModel) Task(taskID string) (TaskState, bool) {
	st, ok := m.tasks[taskID]
	if !ok {
		return TaskState{}, false
	}
	return *st, true
}

func (m *TaskPaneModel) updateViewportContent() {
	st, ok := m.tasks[m.SelectedTaskID()]
	if !ok {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}

	header := fmt.Sprintf("%s (%s) %s", st.Name, st.TaskID, st.Status)
	m.viewport.SetContent(header + "\n\n" + strings.Join(st.Log, "\n"))
	m.viewport.GotoBottom()
}

func (m *TaskPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-listWidth-4, 10)
	m.viewport.Height = max(m.height-4, 5) // account for borders
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
	m.updateViewportContent()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
