package boundary

import (
	"context"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// ScanShapefile iterates the boundary records in a shapefile, invoking fn
// once per record that has both a code and a usable polygon. Records missing
// either are counted and skipped.
func ScanShapefile(ctx context.Context, shpPath string, product Product, fn func(code string, mp *geom.MultiPolygon) error) error {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return eris.Wrapf(ErrUnavailable, "open shapefile %s: %v", shpPath, err)
	}
	defer func() { _ = reader.Close() }()

	// Build field name → index map. DBF field names are NUL-padded.
	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}

	codeIdx, ok := fieldIdx[strings.ToLower(product.CodeField)]
	if !ok {
		return eris.Wrapf(ErrUnavailable, "shapefile %s has no %s field", shpPath, product.CodeField)
	}

	var skipped int
	for reader.Next() {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "boundary: scan cancelled")
		}

		_, shape := reader.Shape()

		code := strings.TrimRight(reader.Attribute(codeIdx), "\x00")
		code = strings.TrimSpace(code)
		if code == "" {
			skipped++
			continue
		}

		mp := ShapeToMultiPolygon(shape)
		if mp == nil {
			skipped++
			continue
		}

		if err := fn(code, mp); err != nil {
			return err
		}
	}

	if skipped > 0 {
		zap.L().Debug("boundary: skipped shapefile records",
			zap.String("product", product.Name),
			zap.Int("skipped", skipped),
		)
	}

	return nil
}

// ArchiveProvider serves lookups by scanning a local TIGER/Line shapefile.
// Each Lookup is a full scan; for repeated lookups load the shapefile into a
// CacheStore instead.
type ArchiveProvider struct {
	path    string
	product Product
}

// NewArchiveProvider creates a provider over the shapefile at path.
func NewArchiveProvider(shpPath string, product Product) *ArchiveProvider {
	return &ArchiveProvider{path: shpPath, product: product}
}

func (p *ArchiveProvider) Lookup(ctx context.Context, codes []string) (map[string]*geom.MultiPolygon, error) {
	want := make(map[string]bool, len(codes))
	for _, c := range codes {
		want[c] = true
	}

	out := make(map[string]*geom.MultiPolygon, len(codes))
	err := ScanShapefile(ctx, p.path, p.product, func(code string, mp *geom.MultiPolygon) error {
		if want[code] {
			out[code] = mp
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
