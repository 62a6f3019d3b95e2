// Package view keeps the rows of a Grid sorted by an external integer
// weight while many goroutines add, refresh and retract rows.
package view

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
)

// LastWeight sorts after every other weight. It is for callers that pin a
// row to the bottom of the grid, such as a summary row, whatever the other
// rows' weights are; hop rows are weighted by their hop number.
const LastWeight = math.MaxInt

var (
	// ErrUnknownWeight is returned when removing a weight that was never added.
	ErrUnknownWeight = errors.New("weight not found")
	// ErrInconsistent means the weight index and the grid disagree on the row
	// count, i.e. the grid was modified behind the view's back.
	ErrInconsistent = errors.New("weight index out of sync with grid")
)

// OrderedView maps weights to grid rows. weights[i] is the weight of grid
// row i and is kept sorted ascending. All rows of the grid must be added and
// removed through the view.
type OrderedView struct {
	mu      sync.Mutex
	grid    Grid
	weights []int
}

// New creates a view over grid. The grid is expected to be empty.
func New(grid Grid) *OrderedView {
	return &OrderedView{grid: grid}
}

// AddOrUpdate sets the given cells on the row with this weight. If no such
// row exists, a new one is inserted at its sorted position with every other
// column left blank.
func (v *OrderedView) AddOrUpdate(weight int, cells ...Cell) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	idx, found := slices.BinarySearch(v.weights, weight)
	switch {
	case found:
		v.setCells(idx, cells)
	case idx == len(v.weights):
		v.weights = append(v.weights, weight)
		v.grid.AppendRow(FillBlankColumns(cells, v.grid.ColumnCount()))
	default:
		v.weights = slices.Insert(v.weights, idx, weight)
		v.grid.InsertRow(idx, FillBlankColumns(cells, v.grid.ColumnCount()))
	}
	return v.check()
}

// UpdateOnly sets the given cells on the row with this weight. A missing
// weight is silently ignored.
func (v *OrderedView) UpdateOnly(weight int, cells ...Cell) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if idx, found := slices.BinarySearch(v.weights, weight); found {
		v.setCells(idx, cells)
	}
	return v.check()
}

// Remove deletes the row with this weight.
func (v *OrderedView) Remove(weight int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	idx, found := slices.BinarySearch(v.weights, weight)
	if !found {
		return fmt.Errorf("remove %d: %w", weight, ErrUnknownWeight)
	}
	v.weights = slices.Delete(v.weights, idx, idx+1)
	v.grid.RemoveRow(idx)
	return v.check()
}

// Weights returns the current weights in row order.
func (v *OrderedView) Weights() []int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.weights)
}

// Len returns the number of rows tracked.
func (v *OrderedView) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.weights)
}

func (v *OrderedView) setCells(row int, cells []Cell) {
	columns := v.grid.ColumnCount()
	for _, c := range cells {
		if c.Column < 0 || c.Column >= columns {
			continue
		}
		v.grid.SetCell(row, c.Column, c.Value)
	}
}

// check must be called with mu held.
func (v *OrderedView) check() error {
	if rows := v.grid.RowCount(); rows != len(v.weights) {
		return fmt.Errorf("%w: %d weights, %d rows", ErrInconsistent, len(v.weights), rows)
	}
	return nil
}
