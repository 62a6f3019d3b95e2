package output

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/tkjaer/livetrace/internal/trace"
)

const refreshInterval = 200 * time.Millisecond

// TUI renders the hop table live with Bubble Tea. The program runs inline so
// the last frame stays on the terminal after the trace ends.
type TUI struct {
	*HopTable

	program *tea.Program
	doneCh  chan struct{}
	once    sync.Once
}

// finishedMsg tells the model the trace has ended.
type finishedMsg struct {
	outcome trace.Outcome
	err     error
}

// tickMsg is sent periodically to refresh the display
type tickMsg time.Time

type keyMap struct {
	Quit key.Binding
	Help key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Quit, k.Help}
}

// FullHelp returns keybindings for the expanded help view
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Quit, k.Help}}
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q", "stop tracing"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "toggle help"),
	),
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))
)

type tuiModel struct {
	table    *HopTable
	title    string
	start    time.Time
	width    int
	help     help.Model
	keys     keyMap
	stop     func()
	finished bool
	outcome  trace.Outcome
	err      error
}

// NewTUI creates a TUI for table. stop is called when the user asks to quit.
func NewTUI(table *HopTable, title string, stop func(), opts ...tea.ProgramOption) *TUI {
	model := &tuiModel{
		table: table,
		title: title,
		start: time.Now(),
		help:  help.New(),
		keys:  keys,
		stop:  stop,
	}
	return &TUI{
		HopTable: table,
		program:  tea.NewProgram(model, opts...),
		doneCh:   make(chan struct{}),
	}
}

// Run blocks until the program exits, either because the user quit or
// because Finish was called.
func (t *TUI) Run() error {
	defer close(t.doneCh)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("TUI panic", "panic", r)
			t.program.Kill()
		}
	}()
	if _, err := t.program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run TUI: %w", err)
	}
	return nil
}

// Finish renders the final frame and ends the program.
func (t *TUI) Finish(outcome trace.Outcome, err error) {
	t.once.Do(func() {
		t.program.Send(finishedMsg{outcome: outcome, err: err})
	})
}

// Close waits briefly for the program to exit and returns the table's error.
func (t *TUI) Close() error {
	t.program.Quit()
	select {
	case <-t.doneCh:
	case <-time.After(500 * time.Millisecond):
		t.program.Kill()
	}
	return t.HopTable.Close()
}

func (m *tuiModel) Init() tea.Cmd {
	return tickCmd()
}

func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			if m.stop != nil {
				m.stop()
			}
			return m, nil
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width

	case finishedMsg:
		m.finished = true
		m.outcome = msg.outcome
		m.err = msg.err
		return m, tea.Quit

	case tickMsg:
		return m, tickCmd()
	}

	return m, nil
}

func (m *tuiModel) View() string {
	var b strings.Builder

	elapsed := time.Since(m.start).Round(time.Second)
	state := "tracing"
	if m.finished {
		state = m.outcome.String()
		if m.err != nil {
			state = "failed"
		}
	}
	b.WriteString(titleStyle.Render(fmt.Sprintf(" %s | %s | %s ", m.title, state, elapsed)))
	b.WriteString("\n")

	for _, line := range m.table.Lines(m.width) {
		b.WriteString(line)
		b.WriteString("\n")
	}

	if !m.finished {
		b.WriteString(helpStyle.Render(m.help.View(m.keys)))
		b.WriteString("\n")
	}
	return b.String()
}

// tickCmd returns a command that sends a tick message periodically
func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
