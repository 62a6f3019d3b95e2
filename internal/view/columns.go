package view

// Blank is the placeholder for a cell nobody has set.
const Blank = ""

// Cell is a value destined for one column of a row.
type Cell struct {
	Column int
	Value  string
}

// FillBlankColumns returns exactly columnCount values ordered by column,
// taking each value from cells and using Blank for columns not given.
// Cells with a negative column or one at or beyond columnCount are ignored.
func FillBlankColumns(cells []Cell, columnCount int) []string {
	if columnCount <= 0 {
		return []string{}
	}

	row := make([]string, columnCount)
	for i := range row {
		row[i] = Blank
	}
	for _, c := range cells {
		if c.Column < 0 || c.Column >= columnCount {
			continue
		}
		row[c.Column] = c.Value
	}
	return row
}
