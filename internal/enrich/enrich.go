// Package enrich joins aggregated rows with their boundary geometries.
package enrich

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/zipatlas/internal/aggregate"
	"github.com/sells-group/zipatlas/internal/boundary"
	"github.com/sells-group/zipatlas/internal/table"
	"github.com/sells-group/zipatlas/internal/zipcode"
)

// Dataset pairs an attribute table with a parallel geometry slice.
// Geometries[i] belongs to Table.Rows[i]; nil means the row's code has no
// boundary.
type Dataset struct {
	Table      *table.Table
	Geometries []*geom.MultiPolygon
}

// Len returns the row count.
func (d *Dataset) Len() int {
	return d.Table.Len()
}

// Stats reports join coverage for user feedback.
type Stats struct {
	Requested int // distinct codes sent to the provider
	Matched   int // codes that came back with a geometry
}

// Join looks up the boundary for each row's code and attaches it. Every input
// row survives: codes without a boundary get a nil geometry. Rows sharing a
// code are resolved with a single provider request.
func Join(ctx context.Context, tbl *table.Table, codeColumn string, provider boundary.Provider) (*Dataset, *Stats, error) {
	if !tbl.HasColumn(codeColumn) {
		return nil, nil, eris.Wrapf(aggregate.ErrMissingColumn, "column %q", codeColumn)
	}

	seen := make(map[string]bool)
	var codes []string
	for _, row := range tbl.Rows {
		code, ok := zipcode.FromValue(row[codeColumn])
		if !ok || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}

	boundaries, err := provider.Lookup(ctx, codes)
	if err != nil {
		if eris.Is(err, boundary.ErrUnavailable) {
			return nil, nil, err
		}
		return nil, nil, eris.Wrapf(boundary.ErrUnavailable, "lookup: %v", err)
	}

	var matched int
	for _, code := range codes {
		if boundaries[code] != nil {
			matched++
		}
	}

	geoms := make([]*geom.MultiPolygon, tbl.Len())
	for i, row := range tbl.Rows {
		if code, ok := zipcode.FromValue(row[codeColumn]); ok {
			geoms[i] = boundaries[code]
		}
	}

	zap.L().Debug("boundary join complete",
		zap.String("component", "enrich"),
		zap.Int("requested", len(codes)),
		zap.Int("matched", matched),
	)

	return &Dataset{Table: tbl, Geometries: geoms},
		&Stats{Requested: len(codes), Matched: matched},
		nil
}
