// Package table provides a minimal column-oriented table for the linkage
// engine. It stands in for the spreadsheet-shaped inputs the engine consumes:
// ordered columns, rows of plain text, and empty strings for missing values.
package table

import (
	"strings"

	apperrors "github.com/nyffc/contractor-linkage/pkg/errors"
)

// Table is an ordered collection of string rows under named columns.
type Table struct {
	cols     []string
	colIndex map[string]int
	rows     [][]string
}

// New creates an empty table with the given column names.
func New(cols []string) *Table {
	t := &Table{
		cols:     append([]string(nil), cols...),
		colIndex: make(map[string]int, len(cols)),
	}
	for i, c := range t.cols {
		t.colIndex[c] = i
	}
	return t
}

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	return t.cols
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int {
	return len(t.rows)
}

// AppendRow adds a row. Short rows are padded with empty strings and long
// rows are truncated to the column count.
func (t *Table) AppendRow(row []string) {
	r := make([]string, len(t.cols))
	copy(r, row)
	t.rows = append(t.rows, r)
}

// Row returns the raw values of row i in column order.
func (t *Table) Row(i int) []string {
	return t.rows[i]
}

// RowMap returns row i as a column-name keyed map.
func (t *Table) RowMap(i int) map[string]string {
	m := make(map[string]string, len(t.cols))
	for j, c := range t.cols {
		m[c] = t.rows[i][j]
	}
	return m
}

// HasColumn reports whether the table has a column with the given name.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.colIndex[name]
	return ok
}

// ColumnIndex returns the position of a column, or false if absent.
func (t *Table) ColumnIndex(name string) (int, bool) {
	i, ok := t.colIndex[name]
	return i, ok
}

// Cell returns the value at (row, column). A missing value is the empty
// string; the column must exist (validate with RequireColumns first).
func (t *Table) Cell(row int, col string) string {
	i, ok := t.colIndex[col]
	if !ok {
		return ""
	}
	return t.rows[row][i]
}

// RequireColumns fails fast with ErrMissingColumn if any of the named
// columns is absent.
func (t *Table) RequireColumns(names ...string) error {
	for _, n := range names {
		if _, ok := t.colIndex[n]; !ok {
			return apperrors.Newf(apperrors.ErrMissingColumn, 400, "column %q (have: %s)", n, strings.Join(t.cols, ", "))
		}
	}
	return nil
}

// FilterContains returns a new table containing the rows where any cell
// contains the query as a case-insensitive substring. This is the coarse
// candidate pre-filter run before fuzzy linkage.
func (t *Table) FilterContains(query string) *Table {
	query = strings.ToLower(strings.TrimSpace(query))
	out := New(t.cols)
	if query == "" {
		return out
	}
	for _, row := range t.rows {
		for _, cell := range row {
			if strings.Contains(strings.ToLower(cell), query) {
				out.AppendRow(row)
				break
			}
		}
	}
	return out
}
