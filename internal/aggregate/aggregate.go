// Package aggregate groups raw records by postal code and reduces attribute
// columns with a per-column strategy: fully numeric columns sum, everything
// else keeps its first non-null value.
package aggregate

import (
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/zipatlas/internal/table"
	"github.com/sells-group/zipatlas/internal/zipcode"
)

// ErrMissingColumn is returned when the postal-code or grouping column (or a
// retained column) is absent from the input schema.
var ErrMissingColumn = eris.New("aggregate: required column missing")

// Reduction is a per-column aggregation strategy, resolved once per column
// before grouping.
type Reduction int

const (
	// ReduceFirst keeps the first non-null value in the group.
	ReduceFirst Reduction = iota
	// ReduceSum sums numeric values; nulls contribute zero.
	ReduceSum
)

// Options names the key columns and the attribute columns to retain.
type Options struct {
	CodeColumn  string
	GroupColumn string
	Retain      []string
}

// Result holds the aggregated table plus cleaning counters.
type Result struct {
	Table   *table.Table
	Dropped int // input rows removed for a null postal code or null grouping value
}

// Aggregate produces one output row per distinct normalized postal code.
// Rows with a null code or null grouping value are dropped and counted.
// Output rows appear in first-seen code order; callers must not rely on it.
func Aggregate(tbl *table.Table, opts Options) (*Result, error) {
	if opts.CodeColumn == "" || opts.GroupColumn == "" {
		return nil, eris.Wrap(ErrMissingColumn, "aggregate: code and group column names are required")
	}
	for _, col := range append([]string{opts.CodeColumn, opts.GroupColumn}, opts.Retain...) {
		if !tbl.HasColumn(col) {
			return nil, eris.Wrapf(ErrMissingColumn, "aggregate: column %q not in input schema", col)
		}
	}

	retained := retainedColumns(opts)

	// Strategies resolve against the full input, mirroring how column types
	// are fixed at parse time rather than per group.
	reductions := ResolveReductions(tbl, retained)

	type bucket struct {
		code string
		rows []table.Row
	}
	var order []string
	buckets := make(map[string]*bucket)
	dropped := 0

	for _, row := range tbl.Rows {
		code, ok := zipcode.FromValue(row[opts.CodeColumn])
		if !ok || row[opts.GroupColumn] == nil {
			dropped++
			continue
		}
		b, seen := buckets[code]
		if !seen {
			b = &bucket{code: code}
			buckets[code] = b
			order = append(order, code)
		}
		b.rows = append(b.rows, row)
	}

	if dropped > 0 {
		zap.L().Debug("aggregate: dropped rows with null key",
			zap.Int("dropped", dropped),
			zap.String("code_column", opts.CodeColumn),
			zap.String("group_column", opts.GroupColumn),
		)
	}

	out, err := table.New(append([]string{opts.CodeColumn}, retained...))
	if err != nil {
		return nil, err
	}

	for _, code := range order {
		b := buckets[code]
		row := table.Row{opts.CodeColumn: b.code}
		for _, col := range retained {
			values := make([]any, 0, len(b.rows))
			for _, r := range b.rows {
				values = append(values, r[col])
			}
			row[col] = Reduce(values, reductions[col])
		}
		out.Append(row)
	}

	return &Result{Table: out, Dropped: dropped}, nil
}

// retainedColumns returns the grouping column plus the retain list, deduped,
// with the code column excluded. When grouping by the code column itself with
// nothing retained, the result is empty and the output degenerates to the
// distinct code set.
func retainedColumns(opts Options) []string {
	seen := map[string]struct{}{opts.CodeColumn: {}}
	var out []string
	for _, col := range append([]string{opts.GroupColumn}, opts.Retain...) {
		name := strings.TrimSpace(col)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// ResolveReductions picks a strategy per column: sum when every non-null
// value in the column is numeric, first-seen otherwise.
func ResolveReductions(tbl *table.Table, cols []string) map[string]Reduction {
	out := make(map[string]Reduction, len(cols))
	for _, col := range cols {
		if tbl.IsNumeric(col) {
			out[col] = ReduceSum
		} else {
			out[col] = ReduceFirst
		}
	}
	return out
}

// Reduce collapses a column's values within one group. Sum treats nulls as
// zero, so an all-null numeric column sums to 0. First returns the first
// non-null value, or nil when the group has none.
func Reduce(values []any, r Reduction) any {
	switch r {
	case ReduceSum:
		total := 0.0
		for _, v := range values {
			if f, ok := table.ValueFloat(v); ok {
				total += f
			}
		}
		return total
	default:
		for _, v := range values {
			if v != nil {
				return v
			}
		}
		return nil
	}
}
