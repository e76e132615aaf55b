package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sokinpui/streamedit/internal/coordinator"
	"github.com/sokinpui/streamedit/model"
)

// --- Styles ---
var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("197"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	pathStyle    = lipgloss.NewStyle()
	faintStyle   = lipgloss.NewStyle().Faint(true)
)

// tailLines is how much of the streamed text stays visible.
const tailLines = 6

// Source is the live state the view follows.
type Source interface {
	Snapshot() coordinator.Snapshot
	Subscribe() (<-chan coordinator.Event, func())
	Cancel() error
}

// --- Messages ---
type eventMsg coordinator.Event

type closedMsg struct{}

// --- Model ---
type Model struct {
	source      Source
	events      <-chan coordinator.Event
	unsubscribe func()
	spinner     spinner.Model

	state     model.AgentState
	files     []model.FileEdit
	commands  []model.CommandEdit
	displayed string
	width     int
	cancelled bool
	cancelErr error
	done      bool
}

func New(source Source) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	events, unsubscribe := source.Subscribe()
	snap := source.Snapshot()
	return Model{
		source:      source,
		events:      events,
		unsubscribe: unsubscribe,
		spinner:     s,
		state:       snap.State,
		files:       snap.Files,
		commands:    snap.Commands,
		displayed:   snap.Displayed,
		done:        snap.State.Kind.Terminal(),
	}
}

func (m Model) Init() tea.Cmd {
	if m.done {
		return tea.Quit
	}
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

func waitForEvent(events <-chan coordinator.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return closedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			// The turn ends through the state machine; quit once it is
			// terminal.
			if !m.cancelled {
				m.cancelled = true
				m.cancelErr = m.source.Cancel()
				// Allow another attempt.
				if m.cancelErr != nil {
					m.cancelled = false
				}
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case eventMsg:
		m.apply(coordinator.Event(msg))
		if m.state.Kind.Terminal() {
			m.done = true
			m.unsubscribe()
			return m, tea.Quit
		}
		return m, waitForEvent(m.events)

	case closedMsg:
		m.done = true
		return m, tea.Quit

	default:
		var cmd tea.Cmd
		if !m.done {
			m.spinner, cmd = m.spinner.Update(msg)
		}
		return m, cmd
	}
}

func (m *Model) apply(ev coordinator.Event) {
	m.state = ev.State
	m.files = ev.Files
	m.commands = ev.Commands
	m.displayed = ev.Displayed
}

// State is the last state the view saw.
func (m Model) State() model.AgentState {
	return m.state
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	if m.cancelErr != nil {
		b.WriteString(errorStyle.Render("Cancel failed: " + m.cancelErr.Error()))
		b.WriteString("\n")
	}

	if len(m.files) > 0 {
		b.WriteString("\n")
		for _, f := range m.files {
			lines := strings.Count(f.Content, "\n")
			if f.IsStreaming {
				b.WriteString(fmt.Sprintf("  %s %s %s\n", warningStyle.Render("…"), pathStyle.Render(f.Path), faintStyle.Render(fmt.Sprintf("(%d lines)", lines))))
				continue
			}
			b.WriteString(fmt.Sprintf("  %s %s %s\n", successStyle.Render("✓"), pathStyle.Render(f.Path), faintStyle.Render(fmt.Sprintf("(%d lines)", lines))))
		}
	}
	if n := len(m.commands); n > 0 {
		b.WriteString(faintStyle.Render(fmt.Sprintf("  %d suggested command(s)", n)))
		b.WriteString("\n")
	}

	if !m.done {
		if tail := tail(m.displayed, tailLines, m.width); tail != "" {
			b.WriteString("\n")
			b.WriteString(faintStyle.Render(tail))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m Model) renderStatus() string {
	text := m.state.Presentation()
	switch m.state.Kind {
	case model.StateBlocked:
		return errorStyle.Render(text)
	case model.StateEmpty:
		return headerStyle.Render(text)
	case model.StateReady:
		return successStyle.Render(text)
	}
	if m.cancelled {
		text = "Cancelling..."
	}
	return fmt.Sprintf("%s %s", m.spinner.View(), headerStyle.Render(text))
}

// tail returns the last n lines of text, each cut to width runes when width
// is known.
func tail(text string, n, width int) string {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	if width > 4 {
		for i, line := range lines {
			if r := []rune(line); len(r) > width-2 {
				lines[i] = string(r[:width-2])
			}
		}
	}
	return strings.Join(lines, "\n")
}

// Run shows the live view until the turn reaches a terminal state and
// returns that state.
func Run(source Source, opts ...tea.ProgramOption) (model.AgentState, error) {
	final, err := tea.NewProgram(New(source), opts...).Run()
	if err != nil {
		return model.AgentState{}, fmt.Errorf("live view failed: %w", err)
	}
	m := final.(Model)
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	return m.State(), nil
}
