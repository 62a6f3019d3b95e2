package output

import (
	"errors"
	"io"
	"net/netip"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/tkjaer/livetrace/internal/trace"
)

func TestFormatCell(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		width     int
		alignment cellAlignment
		want      string
	}{
		{
			name:      "left align short",
			value:     "hello",
			width:     10,
			alignment: alignLeft,
			want:      "hello     ",
		},
		{
			name:      "right align short",
			value:     "world",
			width:     10,
			alignment: alignRight,
			want:      "     world",
		},
		{
			name:      "left align exact",
			value:     "exact",
			width:     5,
			alignment: alignLeft,
			want:      "exact",
		},
		{
			name:      "right align exact",
			value:     "exact",
			width:     5,
			alignment: alignRight,
			want:      "exact",
		},
		{
			name:      "left align wide",
			value:     "toolong",
			width:     3,
			alignment: alignLeft,
			want:      "toolong",
		},
		{
			name:      "right align wide",
			value:     "toolong",
			width:     3,
			alignment: alignRight,
			want:      "toolong",
		},
		{
			name:      "braille counts one column per glyph",
			value:     "⣀⣤",
			width:     4,
			alignment: alignLeft,
			want:      "⣀⣤  ",
		},
		{
			name:      "escape sequences are not counted",
			value:     "\x1b[31m7ms\x1b[0m",
			width:     5,
			alignment: alignRight,
			want:      "  \x1b[31m7ms\x1b[0m",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatCell(tt.value, tt.width, tt.alignment)
			if got != tt.want {
				t.Errorf("formatCell(%q, %d, %v) = %q, want %q", tt.value, tt.width, tt.alignment, got, tt.want)
			}
		})
	}
}

func TestTruncateToWidth(t *testing.T) {
	tests := []struct {
		name  string
		value string
		width int
		want  string
	}{
		{
			name:  "shorter than width",
			value: "short",
			width: 10,
			want:  "short",
		},
		{
			name:  "exact width",
			value: "exact",
			width: 5,
			want:  "exact",
		},
		{
			name:  "longer than width",
			value: "truncated",
			width: 5,
			want:  "trunc",
		},
		{
			name:  "zero width",
			value: "anything",
			width: 0,
			want:  "",
		},
		{
			name:  "negative width",
			value: "test",
			width: -1,
			want:  "",
		},
		{
			name:  "empty string",
			value: "",
			width: 5,
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateToWidth(tt.value, tt.width)
			if got != tt.want {
				t.Errorf("truncateToWidth(%q, %d) = %q, want %q", tt.value, tt.width, got, tt.want)
			}
		})
	}
}

func newTestModel(stop func()) *tuiModel {
	return &tuiModel{
		table: NewHopTable(lipgloss.NewRenderer(io.Discard)),
		title: "livetrace to 198.51.100.1",
		start: time.Now(),
		keys:  keys,
		stop:  stop,
	}
}

func TestTUIModel_QuitKeyStopsTrace(t *testing.T) {
	stopped := 0
	m := newTestModel(func() { stopped++ })

	for _, k := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
		{Type: tea.KeyCtrlC},
	} {
		_, cmd := m.Update(k)
		if cmd != nil {
			t.Errorf("Update(%v) returned a command, want none until the trace ends", k)
		}
	}
	if stopped != 2 {
		t.Errorf("stop calls = %d, want 2", stopped)
	}
}

func TestTUIModel_FinishedQuits(t *testing.T) {
	m := newTestModel(nil)
	m.table.OnResult(1, trace.InProgress, netip.Addr{})

	if view := m.View(); !strings.Contains(view, "tracing") || !strings.Contains(view, "Hop") {
		t.Errorf("View() = %q, want title with state and table header", view)
	}

	_, cmd := m.Update(finishedMsg{outcome: trace.Completed})
	if cmd == nil {
		t.Fatal("Update(finishedMsg) returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("Update(finishedMsg) should quit the program")
	}

	view := m.View()
	if !strings.Contains(view, "completed") {
		t.Errorf("View() = %q, want completed state", view)
	}
	if strings.Contains(view, "stop tracing") {
		t.Errorf("View() = %q, help should be hidden after the trace ends", view)
	}

	m.Update(finishedMsg{outcome: trace.Cancelled, err: errors.New("boom")})
	if view := m.View(); !strings.Contains(view, "failed") {
		t.Errorf("View() = %q, want failed state", view)
	}
}

func TestTUIModel_WindowSize(t *testing.T) {
	m := newTestModel(nil)
	m.Update(tea.WindowSizeMsg{Width: 20, Height: 10})

	if m.width != 20 {
		t.Errorf("width = %d, want 20", m.width)
	}
	for _, line := range m.table.Lines(m.width) {
		if w := lipgloss.Width(line); w > 20 {
			t.Errorf("line %q is %d wide, want at most 20", line, w)
		}
	}
}

func TestTUI_RunUntilFinished(t *testing.T) {
	table := NewHopTable(lipgloss.NewRenderer(io.Discard))
	tui := NewTUI(table, "test", nil, tea.WithInput(nil), tea.WithOutput(io.Discard))

	errCh := make(chan error, 1)
	go func() { errCh <- tui.Run() }()

	tui.Finish(trace.Completed, nil)
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after Finish")
	}

	if err := tui.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
