package output

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type cellAlignment int

const (
	alignLeft cellAlignment = iota
	alignRight
)

// formatCell pads value to width display columns. Styled values are measured
// without their escape sequences.
func formatCell(value string, width int, alignment cellAlignment) string {
	pad := width - lipgloss.Width(value)
	if pad <= 0 {
		return value
	}
	if alignment == alignRight {
		return strings.Repeat(" ", pad) + value
	}
	return value + strings.Repeat(" ", pad)
}

func truncateToWidth(value string, width int) string {
	if width <= 0 {
		return ""
	}
	if lipgloss.Width(value) <= width {
		return value
	}
	return lipgloss.NewStyle().MaxWidth(width).Render(value)
}

// renderTable lays out rows under headers with one space between columns.
// Trailing blanks are trimmed and lines are cut at width when width > 0.
func renderTable(headers []string, rows [][]string, width int, headerStyle lipgloss.Style) []string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = max(lipgloss.Width(h), columnMinWidth(i))
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	lines := make([]string, 0, len(rows)+1)
	header := make([]string, len(headers))
	for i, h := range headers {
		header[i] = formatCell(h, widths[i], columnAlignment(i))
	}
	lines = append(lines, headerStyle.Render(fitLine(strings.Join(header, " "), width)))

	for _, row := range rows {
		cells := make([]string, 0, len(widths))
		for i, cell := range row[:min(len(row), len(widths))] {
			cells = append(cells, formatCell(cell, widths[i], columnAlignment(i)))
		}
		lines = append(lines, fitLine(strings.Join(cells, " "), width))
	}
	return lines
}

func fitLine(line string, width int) string {
	line = strings.TrimRight(line, " ")
	if width > 0 {
		line = truncateToWidth(line, width)
	}
	return line
}

func columnAlignment(i int) cellAlignment {
	if i < len(columnAlignments) {
		return columnAlignments[i]
	}
	return alignLeft
}

func columnMinWidth(i int) int {
	if i < len(columnMinWidths) {
		return columnMinWidths[i]
	}
	return 0
}
