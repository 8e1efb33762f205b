// Package table provides the in-memory tabular model shared by the ingest,
// aggregation, and export stages. A cell holds nil (null), float64, or string.
package table

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Row maps a column name to a scalar cell value.
type Row map[string]any

// Table is an ordered set of columns plus rows keyed by column name.
type Table struct {
	Columns []string
	Rows    []Row
}

// New creates an empty table with the given column order.
// Column names must be non-blank and unique after trimming.
func New(columns []string) (*Table, error) {
	seen := make(map[string]struct{}, len(columns))
	cols := make([]string, 0, len(columns))
	for i, c := range columns {
		name := strings.TrimSpace(c)
		if name == "" {
			return nil, eris.Errorf("table: blank column name at index %d", i)
		}
		if _, dup := seen[name]; dup {
			return nil, eris.Errorf("table: duplicate column %q", name)
		}
		seen[name] = struct{}{}
		cols = append(cols, name)
	}
	return &Table{Columns: cols}, nil
}

// FromRecords builds a table from a header row and string records,
// inferring a value type for every cell. Short records are padded with
// nulls; long records are truncated to the header width.
func FromRecords(header []string, records [][]string) (*Table, error) {
	t, err := New(header)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		row := make(Row, len(t.Columns))
		for i, col := range t.Columns {
			if i < len(rec) {
				row[col] = InferValue(rec[i])
			} else {
				row[col] = nil
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// HasColumn reports whether the table schema contains the column.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Append adds a row. Missing columns read back as nil.
func (t *Table) Append(row Row) {
	t.Rows = append(t.Rows, row)
}

// Len returns the row count.
func (t *Table) Len() int {
	return len(t.Rows)
}

// IsNumeric reports whether every non-null value in the column is numeric.
// A column with no non-null values counts as numeric; summing it yields 0.
func (t *Table) IsNumeric(col string) bool {
	for _, row := range t.Rows {
		v := row[col]
		if v == nil {
			continue
		}
		if _, ok := v.(float64); !ok {
			return false
		}
	}
	return true
}

// NumericColumns returns the subset of cols that IsNumeric accepts,
// preserving order.
func (t *Table) NumericColumns(cols []string) []string {
	var out []string
	for _, c := range cols {
		if t.IsNumeric(c) {
			out = append(out, c)
		}
	}
	return out
}
