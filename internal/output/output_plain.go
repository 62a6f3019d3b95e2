package output

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// PlainOutput collects the hop table silently and prints it once on Close.
// It is used when stdout is not a terminal.
type PlainOutput struct {
	*HopTable
	w io.Writer
}

func NewPlainOutput(table *HopTable, w io.Writer) *PlainOutput {
	return &PlainOutput{HopTable: table, w: w}
}

func (p *PlainOutput) Close() error {
	for _, line := range p.Lines(0) {
		if _, err := fmt.Fprintln(p.w, line); err != nil {
			return fmt.Errorf("write table: %w", err)
		}
	}
	return p.HopTable.Close()
}

// IsTerminal reports whether f is connected to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
