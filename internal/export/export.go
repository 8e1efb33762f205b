// Package export renders the enriched dataset into its three download
// artifacts: an attribute CSV, a GeoJSON feature collection, and a zipped
// shapefile. Artifacts land atomically: everything is staged under the
// target directory and renamed into place only once every writer has
// succeeded, so callers never observe a partial export set.
package export

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/zipatlas/internal/enrich"
)

// Artifact file names, shared with the HTTP download surface.
const (
	CSVName          = "output_attributes.csv"
	GeoJSONName      = "output_data.geojson"
	ShapefileZipName = "output_shapefile.zip"
)

// Files holds the final paths of the published artifacts.
type Files struct {
	CSV          string
	GeoJSON      string
	ShapefileZip string
}

// Names returns the artifact base names in publish order.
func Names() []string {
	return []string{CSVName, GeoJSONName, ShapefileZipName}
}

// WriteAll writes all three artifacts for the dataset into dir. The writers
// run concurrently against a staging directory; on any failure the staging
// directory is removed and dir is left untouched.
func WriteAll(ctx context.Context, ds *enrich.Dataset, dir string) (*Files, error) {
	if ds.Len() != len(ds.Geometries) {
		return nil, eris.Errorf("export: %d rows but %d geometries", ds.Len(), len(ds.Geometries))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "export: create output directory")
	}

	staging, err := os.MkdirTemp(dir, ".staging-")
	if err != nil {
		return nil, eris.Wrap(err, "export: create staging directory")
	}
	defer os.RemoveAll(staging) //nolint:errcheck

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := egCtx.Err(); err != nil {
			return err
		}
		return writeCSV(filepath.Join(staging, CSVName), ds.Table)
	})
	eg.Go(func() error {
		if err := egCtx.Err(); err != nil {
			return err
		}
		return writeGeoJSON(filepath.Join(staging, GeoJSONName), ds)
	})
	eg.Go(func() error {
		if err := egCtx.Err(); err != nil {
			return err
		}
		return writeShapefileZip(filepath.Join(staging, ShapefileZipName), ds)
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	// Publish. Staging lives under dir, so renames stay on one filesystem.
	published := make([]string, 0, 3)
	for _, name := range Names() {
		dst := filepath.Join(dir, name)
		if err := os.Rename(filepath.Join(staging, name), dst); err != nil {
			for _, p := range published {
				os.Remove(p) //nolint:errcheck
			}
			return nil, eris.Wrapf(err, "export: publish %s", name)
		}
		published = append(published, dst)
	}

	zap.L().With(zap.String("component", "export")).Info("artifacts written",
		zap.String("dir", dir),
		zap.Int("rows", ds.Len()),
	)

	return &Files{
		CSV:          filepath.Join(dir, CSVName),
		GeoJSON:      filepath.Join(dir, GeoJSONName),
		ShapefileZip: filepath.Join(dir, ShapefileZipName),
	}, nil
}
