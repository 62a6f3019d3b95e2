package output

import (
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/tkjaer/livetrace/internal/sparkline"
	"github.com/tkjaer/livetrace/internal/trace"
	"github.com/tkjaer/livetrace/internal/view"
	"github.com/tkjaer/livetrace/pkg/dns"
)

const (
	// Placeholder is shown while a hop's first probe is outstanding.
	Placeholder = "…"
	// Failed is shown for a hop without address or a failed lookup.
	Failed = "ˣ"

	maxHostnameWidth = 48
	// historyScale is the round-trip time in milliseconds drawn as a full bar
	// until a larger sample raises the scale.
	historyScale = 100
)

const (
	colHop = iota
	colIP
	colMin
	colAvg
	colMax
	colFail
	colHistory
	colHostname
)

var columnHeaders = []string{"Hop", "IP", "Min", "Avg", "Max", "Fail", "History", "Hostname"}

var columnAlignments = []cellAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft, alignLeft}

var columnMinWidths = []int{3, 15, 7, 7, 7, 10, 0, 0}

// level grades a measurement from good to bad.
type level int

const (
	levelGood level = iota
	levelFair
	levelPoor
	levelBad
)

func rttLevel(d time.Duration) level {
	switch {
	case d >= 2*time.Second:
		return levelBad
	case d >= time.Second:
		return levelPoor
	case d >= 200*time.Millisecond:
		return levelFair
	default:
		return levelGood
	}
}

// glyphLevel grades a sparkline glyph by its taller column.
func glyphLevel(left, right int) level {
	switch max(left, right, 1) {
	case 1:
		return levelGood
	case 2:
		return levelFair
	case 3:
		return levelPoor
	default:
		return levelBad
	}
}

func failLevel(fail int) level {
	switch {
	case fail == 0:
		return levelGood
	case fail < 3:
		return levelPoor
	default:
		return levelBad
	}
}

type styles struct {
	header  lipgloss.Style
	muted   lipgloss.Style
	hop     lipgloss.Style
	final   lipgloss.Style
	percent lipgloss.Style
	levels  [4]lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		header:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("#FBBF24")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		hop:     r.NewStyle().Foreground(lipgloss.Color("#0E7490")),
		final:   r.NewStyle().Foreground(lipgloss.Color("#22D3EE")),
		percent: r.NewStyle().Foreground(lipgloss.Color("#9CA3AF")),
		levels: [4]lipgloss.Style{
			levelGood: r.NewStyle().Foreground(lipgloss.Color("#34D399")),
			levelFair: r.NewStyle().Foreground(lipgloss.Color("#059669")),
			levelPoor: r.NewStyle().Foreground(lipgloss.Color("#B91C1C")),
			levelBad:  r.NewStyle().Foreground(lipgloss.Color("#F87171")),
		},
	}
}

// HopTable projects trace events into an ordered table with one row per hop.
// The first error reported by the view is kept and returned by Close.
type HopTable struct {
	table  *view.Table
	view   *view.OrderedView
	styles styles

	mu  sync.Mutex
	err error
}

// NewHopTable returns an empty table whose cells are styled for r. A nil
// renderer uses lipgloss's default renderer for stdout.
func NewHopTable(r *lipgloss.Renderer) *HopTable {
	if r == nil {
		r = lipgloss.DefaultRenderer()
	}
	t := view.NewTable(columnHeaders...)
	return &HopTable{
		table:  t,
		view:   view.New(t),
		styles: newStyles(r),
	}
}

func (h *HopTable) OnResult(hop int, status trace.Status, addr netip.Addr) {
	if status == trace.Obsolete {
		h.record(h.view.Remove(hop))
		return
	}
	h.record(h.view.AddOrUpdate(hop,
		view.Cell{Column: colHop, Value: strconv.Itoa(hop)},
		view.Cell{Column: colIP, Value: h.ipCell(status, addr)},
	))
}

func (h *HopTable) OnPing(hop int, stats trace.PingStats) {
	h.record(h.view.UpdateOnly(hop,
		view.Cell{Column: colMin, Value: h.rttCell(stats.Min)},
		view.Cell{Column: colAvg, Value: h.rttCell(stats.Mean)},
		view.Cell{Column: colMax, Value: h.rttCell(stats.Max)},
		view.Cell{Column: colFail, Value: h.failCell(stats.Fail, stats.Sent)},
		view.Cell{Column: colHistory, Value: h.historyCell(stats.History)},
	))
}

func (h *HopTable) OnResolved(hop int, entry *dns.HostEntry) {
	value := h.styles.muted.Render(Failed)
	if entry != nil && entry.Name != "" {
		value = runewidth.Truncate(entry.Name, maxHostnameWidth, "…")
	}
	h.record(h.view.UpdateOnly(hop, view.Cell{Column: colHostname, Value: value}))
}

// Err returns the first error reported by the view.
func (h *HopTable) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *HopTable) Close() error {
	return h.Err()
}

// Headers returns the column titles.
func (h *HopTable) Headers() []string {
	return h.table.Headers()
}

// Rows returns a snapshot of the rendered cells in hop order.
func (h *HopTable) Rows() [][]string {
	return h.table.Rows()
}

// Lines renders the table with a styled header, truncating every line to
// width when width is positive.
func (h *HopTable) Lines(width int) []string {
	return renderTable(h.Headers(), h.Rows(), width, h.styles.header)
}

func (h *HopTable) record(err error) {
	if err == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err == nil {
		slog.Error("Failed to update hop table", "err", err)
		h.err = err
	}
}

func (h *HopTable) ipCell(status trace.Status, addr netip.Addr) string {
	switch {
	case status == trace.InProgress:
		return h.styles.muted.Render(Placeholder)
	case !addr.IsValid() || addr.IsUnspecified():
		return h.styles.muted.Render(Failed)
	case status == trace.FinalResult:
		return h.styles.final.Render(addr.String())
	default:
		return h.styles.hop.Render(addr.String())
	}
}

func (h *HopTable) rttCell(d time.Duration) string {
	return h.styles.levels[rttLevel(d)].Render(formatMillis(d))
}

func (h *HopTable) failCell(fail, sent int) string {
	pct := 0.0
	if sent > 0 {
		pct = float64(fail) / float64(sent) * 100
	}
	return h.styles.levels[failLevel(fail)].Render(strconv.Itoa(fail)) + " " +
		h.styles.percent.Render(fmt.Sprintf("%3.0f%%", pct))
}

func (h *HopTable) historyCell(history []int) string {
	return sparkline.EncodeFunc(history, historyScale, true, func(b *strings.Builder, left, right int, glyph rune) {
		b.WriteString(h.styles.levels[glyphLevel(left, right)].Render(string(glyph)))
	})
}

func formatMillis(d time.Duration) string {
	return strconv.FormatInt(d.Round(time.Millisecond).Milliseconds(), 10) + "ms"
}
