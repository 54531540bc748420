// Package dataset provides the in-memory tabular dataset the pipeline stages
// operate on: ordered named columns with positional rows, CSV load/save, and
// the transformation helpers exposed to sandboxed generated code.
//
// Cells are stored as raw strings; numeric interpretation is always explicit
// (FloatColumn) so generated code cannot accidentally assume clean input.
package dataset

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Table is an ordered collection of named columns with positional rows.
// Transformation helpers return new tables; a Table already handed to a
// pipeline stage is treated as read-only.
type Table struct {
	Columns []string
	Rows    [][]string
}

// New creates an empty table with the given column names.
func New(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int { return len(t.Rows) }

// NumColumns returns the number of columns.
func (t *Table) NumColumns() int { return len(t.Columns) }

// ColumnIndex returns the index of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Cell returns the cell at (row, column name). Empty string for unknown
// columns or short rows.
func (t *Table) Cell(row int, column string) string {
	idx := t.ColumnIndex(column)
	if idx < 0 || row < 0 || row >= len(t.Rows) || idx >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][idx]
}

// Column returns a copy of the named column's values.
func (t *Table) Column(name string) []string {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		if idx < len(row) {
			out[i] = row[idx]
		}
	}
	return out
}

// AppendRow appends a row, padding or truncating to the column count.
func (t *Table) AppendRow(values ...string) {
	row := make([]string, len(t.Columns))
	copy(row, values)
	t.Rows = append(t.Rows, row)
}

// Clone returns a deep copy. Sandboxed code always receives a clone so the
// caller's table is never mutated.
func (t *Table) Clone() *Table {
	out := &Table{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([][]string, len(t.Rows)),
	}
	for i, row := range t.Rows {
		out.Rows[i] = append([]string(nil), row...)
	}
	return out
}

// =============================================================================
// TRANSFORMATION HELPERS - the allow-listed surface for generated code
// =============================================================================

// Filter returns a new table keeping rows for which keep returns true.
func (t *Table) Filter(keep func(t *Table, row int) bool) *Table {
	out := &Table{Columns: append([]string(nil), t.Columns...)}
	for i := range t.Rows {
		if keep(t, i) {
			out.Rows = append(out.Rows, append([]string(nil), t.Rows[i]...))
		}
	}
	return out
}

// DropDuplicateRows returns a new table with exact duplicate rows removed,
// keeping first occurrences in order.
func (t *Table) DropDuplicateRows() *Table {
	out := &Table{Columns: append([]string(nil), t.Columns...)}
	seen := make(map[string]bool, len(t.Rows))
	for _, row := range t.Rows {
		key := strings.Join(row, "\x1f")
		if seen[key] {
			continue
		}
		seen[key] = true
		out.Rows = append(out.Rows, append([]string(nil), row...))
	}
	return out
}

// DropColumn returns a new table without the named column. Unknown columns
// are a no-op.
func (t *Table) DropColumn(name string) *Table {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return t.Clone()
	}
	out := &Table{Columns: make([]string, 0, len(t.Columns)-1)}
	for i, c := range t.Columns {
		if i != idx {
			out.Columns = append(out.Columns, c)
		}
	}
	for _, row := range t.Rows {
		nr := make([]string, 0, len(row)-1)
		for i, v := range row {
			if i != idx {
				nr = append(nr, v)
			}
		}
		out.Rows = append(out.Rows, nr)
	}
	return out
}

// RenameColumn returns a new table with the column renamed.
func (t *Table) RenameColumn(old, new string) *Table {
	out := t.Clone()
	if idx := out.ColumnIndex(old); idx >= 0 {
		out.Columns[idx] = new
	}
	return out
}

// FillMissing returns a new table with empty cells in the named column
// replaced by value.
func (t *Table) FillMissing(column, value string) *Table {
	out := t.Clone()
	idx := out.ColumnIndex(column)
	if idx < 0 {
		return out
	}
	for _, row := range out.Rows {
		if idx < len(row) && strings.TrimSpace(row[idx]) == "" {
			row[idx] = value
		}
	}
	return out
}

// MapColumn returns a new table with fn applied to every cell of the named
// column.
func (t *Table) MapColumn(column string, fn func(string) string) *Table {
	out := t.Clone()
	idx := out.ColumnIndex(column)
	if idx < 0 {
		return out
	}
	for _, row := range out.Rows {
		if idx < len(row) {
			row[idx] = fn(row[idx])
		}
	}
	return out
}

// SortBy returns a new table sorted by the named column. Numeric columns
// sort numerically, everything else lexically. Stable.
func (t *Table) SortBy(column string, ascending bool) *Table {
	out := t.Clone()
	idx := out.ColumnIndex(column)
	if idx < 0 {
		return out
	}
	numeric := true
	for _, row := range out.Rows {
		if idx >= len(row) || strings.TrimSpace(row[idx]) == "" {
			continue
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(row[idx]), 64); err != nil {
			numeric = false
			break
		}
	}
	less := func(a, b string) bool {
		if numeric {
			fa, _ := strconv.ParseFloat(strings.TrimSpace(a), 64)
			fb, _ := strconv.ParseFloat(strings.TrimSpace(b), 64)
			return fa < fb
		}
		return a < b
	}
	sort.SliceStable(out.Rows, func(i, j int) bool {
		var a, b string
		if idx < len(out.Rows[i]) {
			a = out.Rows[i][idx]
		}
		if idx < len(out.Rows[j]) {
			b = out.Rows[j][idx]
		}
		if ascending {
			return less(a, b)
		}
		return less(b, a)
	})
	return out
}

// FloatColumn parses the named column as float64. The second return value
// flags which cells parsed; absent or non-numeric cells yield ok=false and
// are never coerced to zero silently.
func (t *Table) FloatColumn(column string) ([]float64, []bool) {
	idx := t.ColumnIndex(column)
	if idx < 0 {
		return nil, nil
	}
	vals := make([]float64, len(t.Rows))
	ok := make([]bool, len(t.Rows))
	for i, row := range t.Rows {
		if idx >= len(row) {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(row[idx]), 64)
		if err == nil {
			vals[i] = f
			ok[i] = true
		}
	}
	return vals, ok
}

// Mean returns the mean of the parseable values in a numeric column.
// Returns false when no cell parses.
func (t *Table) Mean(column string) (float64, bool) {
	vals, ok := t.FloatColumn(column)
	var sum float64
	var n int
	for i, v := range vals {
		if ok[i] {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// Median returns the median of the parseable values in a numeric column.
func (t *Table) Median(column string) (float64, bool) {
	vals, ok := t.FloatColumn(column)
	var clean []float64
	for i, v := range vals {
		if ok[i] {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return 0, false
	}
	sort.Float64s(clean)
	mid := len(clean) / 2
	if len(clean)%2 == 0 {
		return (clean[mid-1] + clean[mid]) / 2, true
	}
	return clean[mid], true
}

// String renders a small debug representation (shape only, never full data).
func (t *Table) String() string {
	return fmt.Sprintf("Table(%d rows x %d columns)", t.NumRows(), t.NumColumns())
}
