package view

import (
	"slices"
	"sync"
)

// Grid is a passive table: rows are addressed by their physical index and
// cells by (row, column). Grid implementations are not required to be safe
// for concurrent use; OrderedView serializes its own access.
type Grid interface {
	RowCount() int
	ColumnCount() int
	AppendRow(cells []string)
	InsertRow(index int, cells []string)
	RemoveRow(index int)
	SetCell(row, column int, value string)
}

var _ Grid = (*Table)(nil)

// Table is an in-memory Grid of string cells. Renderers read it through
// Rows, which may be called concurrently with mutations.
type Table struct {
	mu      sync.RWMutex
	headers []string
	rows    [][]string
}

// NewTable creates an empty table with one column per header.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// Headers returns the column headers.
func (t *Table) Headers() []string {
	return slices.Clone(t.headers)
}

func (t *Table) ColumnCount() int {
	return len(t.headers)
}

func (t *Table) RowCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

func (t *Table) AppendRow(cells []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = append(t.rows, t.fit(cells))
}

func (t *Table) InsertRow(index int, cells []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = slices.Insert(t.rows, index, t.fit(cells))
}

func (t *Table) RemoveRow(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = slices.Delete(t.rows, index, index+1)
}

// SetCell panics when row or column is out of range.
func (t *Table) SetCell(row, column int, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[row][column] = value
}

// Rows returns a copy of all rows in display order.
func (t *Table) Rows() [][]string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([][]string, len(t.rows))
	for i, r := range t.rows {
		out[i] = slices.Clone(r)
	}
	return out
}

// fit copies cells into a row of exactly ColumnCount entries.
func (t *Table) fit(cells []string) []string {
	row := make([]string, len(t.headers))
	copy(row, cells)
	return row
}
