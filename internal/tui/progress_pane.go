package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskengine/internal/scheduler"
)

// ProgressPaneModel shows aggregate task counts and a progress bar.
type ProgressPaneModel struct {
	counts  scheduler.StatusCounts
	events  int
	width   int
	height  int
	focused bool
}

// NewProgressPaneModel creates a new progress pane model.
func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{}
}

// SetCounts replaces the displayed counts.
func (m *ProgressPaneModel) SetCounts(c scheduler.StatusCounts) {
	m.counts = c
}

// Counts returns the displayed counts.
func (m ProgressPaneModel) Counts() scheduler.StatusCounts {
	return m.counts
}

// Done reports whether every task has reached a terminal status.
func (m ProgressPaneModel) Done() bool {
	c := m.counts
	return c.Total > 0 && c.Pending == 0 && c.Running == 0 && c.RetryPending == 0
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	c := m.counts
	var b strings.Builder

	title := StyleTitle.Render("Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Total:     %d\n", c.Total)
	fmt.Fprintf(&b, "Completed: %s\n", StyleStatusComplete.Render(fmt.Sprint(c.Completed)))
	fmt.Fprintf(&b, "Running:   %s\n", StyleStatusRunning.Render(fmt.Sprint(c.Running)))
	fmt.Fprintf(&b, "Retrying:  %s\n", StyleStatusRetrying.Render(fmt.Sprint(c.RetryPending)))
	fmt.Fprintf(&b, "Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprint(c.Failed)))
	fmt.Fprintf(&b, "Blocked:   %s\n", StyleStatusBlocked.Render(fmt.Sprint(c.Blocked)))
	fmt.Fprintf(&b, "Pending:   %s\n", StyleStatusPending.Render(fmt.Sprint(c.Pending)))
	fmt.Fprintf(&b, "\nEvents:    %d\n\n", m.events)

	if c.Total > 0 {
		b.WriteString(m.renderBar(min(m.width-12, 40)))
		if m.Done() {
			b.WriteString("\n\n")
			b.WriteString(StyleStatusComplete.Render("All tasks settled"))
		}
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

func (m ProgressPaneModel) renderBar(barWidth int) string {
	c := m.counts
	barWidth = max(barWidth, 10)

	completedWidth := c.Completed * barWidth / c.Total
	failedWidth := (c.Failed + c.Blocked) * barWidth / c.Total
	runningWidth := (c.Running + c.RetryPending) * barWidth / c.Total
	pendingWidth := barWidth - completedWidth - failedWidth - runningWidth

	bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, completedWidth)))
	bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
	bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
	bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

	return fmt.Sprintf("[%s] %d/%d", bar, c.Completed, c.Total)
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
