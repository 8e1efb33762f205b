// Package dissolve merges the rows of each sampled group into a single row
// with a topologically unified boundary.
package dissolve

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/zipatlas/internal/aggregate"
	"github.com/sells-group/zipatlas/internal/enrich"
	"github.com/sells-group/zipatlas/internal/geomops"
	"github.com/sells-group/zipatlas/internal/table"
)

// Options configures a dissolve pass.
type Options struct {
	// Parallelism bounds concurrent group unions; values below 2 run the
	// groups sequentially. Output is identical either way.
	Parallelism int
}

// Result holds one row per dissolved group. EmptyGroups lists groups whose
// rows carried no geometry at all; their rows are present with a nil
// geometry.
type Result struct {
	Dataset     *enrich.Dataset
	EmptyGroups []string
}

// Dissolve collapses the rows of each requested group into one row. Group
// geometries are unioned; attributes re-aggregate with the per-column
// numeric-sum / first-value rule resolved against the sampled subset. Output
// rows follow the order of groups; values absent from the dataset are
// skipped.
func Dissolve(ctx context.Context, ds *enrich.Dataset, groupColumn string, groups []string, opts Options) (*Result, error) {
	tbl := ds.Table
	if !tbl.HasColumn(groupColumn) {
		return nil, eris.Wrapf(aggregate.ErrMissingColumn, "dissolve: column %q not in input schema", groupColumn)
	}

	wanted := make(map[string]int, len(groups))
	for i, g := range groups {
		wanted[g] = i
	}

	// Bucket row indexes by canonical group value, keeping only sampled
	// groups.
	bucketRows := make([][]int, len(groups))
	sub := &table.Table{Columns: tbl.Columns}
	for i, row := range tbl.Rows {
		slot, ok := wanted[table.ValueString(row[groupColumn])]
		if !ok {
			continue
		}
		bucketRows[slot] = append(bucketRows[slot], i)
		sub.Rows = append(sub.Rows, row)
	}

	// Strategies resolve against the sampled subset, not the full dataset.
	reductions := aggregate.ResolveReductions(sub, tbl.Columns)

	rows := make([]table.Row, len(groups))
	geoms := make([]*geom.MultiPolygon, len(groups))

	eg, egCtx := errgroup.WithContext(ctx)
	limit := opts.Parallelism
	if limit < 1 {
		limit = 1
	}
	eg.SetLimit(limit)

	for slot, group := range groups {
		if len(bucketRows[slot]) == 0 {
			continue
		}
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}

			idxs := bucketRows[slot]
			row := table.Row{}
			for _, col := range tbl.Columns {
				if col == groupColumn {
					row[col] = group
					continue
				}
				values := make([]any, 0, len(idxs))
				for _, i := range idxs {
					values = append(values, tbl.Rows[i][col])
				}
				row[col] = aggregate.Reduce(values, reductions[col])
			}

			parts := make([]*geom.MultiPolygon, 0, len(idxs))
			for _, i := range idxs {
				parts = append(parts, ds.Geometries[i])
			}
			mp, err := geomops.Union(parts)
			if err != nil {
				return eris.Wrapf(err, "dissolve: union group %q", group)
			}

			rows[slot] = row
			geoms[slot] = mp
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out, err := table.New(tbl.Columns)
	if err != nil {
		return nil, err
	}

	var outGeoms []*geom.MultiPolygon
	var empty []string
	for slot, group := range groups {
		if rows[slot] == nil {
			continue
		}
		out.Append(rows[slot])
		outGeoms = append(outGeoms, geoms[slot])
		if geoms[slot] == nil {
			empty = append(empty, group)
			zap.L().Warn("dissolve: group has no boundary geometry",
				zap.String("group", group),
			)
		}
	}

	return &Result{
		Dataset:     &enrich.Dataset{Table: out, Geometries: outGeoms},
		EmptyGroups: empty,
	}, nil
}
