// Package tui is a terminal monitor for a running scheduler, fed by its
// event bus.
package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskengine/internal/events"
	"github.com/aristath/taskengine/internal/scheduler"
)

// Source is the scheduler state the monitor reads.
type Source interface {
	GetStatus() scheduler.StatusCounts
	Tasks() []scheduler.Task
}

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PaneProgress
	paneCount
)

// busClosedMsg is delivered once the event subscription is closed.
type busClosedMsg struct{}

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	taskPane     TaskPaneModel
	progressPane ProgressPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	source       Source
	busClosed    bool
	width        int
	height       int
	quitting     bool
}

// New creates a new TUI model subscribed to bus. source may be nil, in
// which case counts are not shown.
func New(bus *events.Bus, source Source) Model {
	var seed []scheduler.Task
	if source != nil {
		seed = source.Tasks()
	}
	m := Model{
		taskPane:     NewTaskPaneModel(seed),
		progressPane: NewProgressPaneModel(),
		focusedPane:  PaneTasks,
		eventSub:     bus.Subscribe(events.DefaultBufferSize),
		source:       source,
	}
	m.refreshCounts()
	m.updateFocusStates()
	return m
}

// Run shows the monitor until the user quits or ctx is done.
func Run(ctx context.Context, bus *events.Bus, source Source) error {
	p := tea.NewProgram(New(bus, source), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next event from the bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return busClosedMsg{}
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneProgress
			m.updateFocusStates()

		default:
			if m.focusedPane == PaneTasks {
				var cmd tea.Cmd
				m.taskPane, cmd = m.taskPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case events.Event:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)
		m.progressPane.events++
		m.refreshCounts()
		cmds = append(cmds, waitForEvent(m.eventSub))

	case busClosedMsg:
		m.busClosed = true
		m.refreshCounts()
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) refreshCounts() {
	if m.source != nil {
		m.progressPane.SetCounts(m.source.GetStatus())
	}
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, m.taskPane.View(), m.progressPane.View())

	help := HelpView()
	if m.busClosed {
		help += StyleHelp.Render(" | event stream closed")
	}
	return lipgloss.JoinVertical(lipgloss.Left, mainContent, help)
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 65) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1 // reserve 1 line for help bar

	m.taskPane.SetSize(leftWidth, availableHeight)
	m.progressPane.SetSize(rightWidth, availableHeight)
	m.updateFocusStates()
}

func (m *Model) updateFocusStates() {
	m.taskPane.SetFocused(m.focusedPane == PaneTasks)
	m.progressPane.SetFocused(m.focusedPane == PaneProgress)
}

// FocusedPane returns the focused pane.
func (m Model) FocusedPane() PaneID { return m.focusedPane }
