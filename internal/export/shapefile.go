package export

import (
	"archive/zip"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	shp "github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/zipatlas/internal/enrich"
	"github.com/sells-group/zipatlas/internal/table"
)

// wgs84WKT is the EPSG:4326 spatial reference in ESRI well-known text,
// written alongside the shapefile so GIS tools pick up the datum.
const wgs84WKT = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

// writeShapefileZip writes output.shp/.shx/.dbf/.prj into a scratch
// directory and bundles them into the archive at zipPath.
func writeShapefileZip(zipPath string, ds *enrich.Dataset) error {
	compDir, err := os.MkdirTemp(filepath.Dir(zipPath), "shp-")
	if err != nil {
		return eris.Wrap(err, "export: create shapefile staging")
	}
	defer os.RemoveAll(compDir) //nolint:errcheck

	base := filepath.Join(compDir, "output")
	if err := writeShapefileComponents(base, ds); err != nil {
		return err
	}
	if err := os.WriteFile(base+".prj", []byte(wgs84WKT), 0o644); err != nil {
		return eris.Wrap(err, "export: write prj")
	}
	return bundleShapefile(zipPath, compDir)
}

// writeShapefileComponents writes the .shp/.shx/.dbf triple. Rows without
// geometry become empty polygon records so the shapefile keeps one record
// per row.
func writeShapefileComponents(base string, ds *enrich.Dataset) error {
	w, err := shp.Create(base+".shp", shp.POLYGON)
	if err != nil {
		return eris.Wrap(err, "export: create shapefile")
	}

	cols := ds.Table.Columns
	numeric := make([]bool, len(cols))
	for j, col := range cols {
		numeric[j] = ds.Table.IsNumeric(col)
	}
	w.SetFields(dbfFields(ds.Table))

	for i, row := range ds.Table.Rows {
		w.Write(polygonShape(ds.Geometries[i]))
		for j, col := range cols {
			v := row[col]
			if v == nil {
				continue
			}
			if numeric[j] {
				f, _ := table.ValueFloat(v)
				w.WriteAttribute(i, j, f)
			} else {
				w.WriteAttribute(i, j, table.ValueString(v))
			}
		}
	}
	w.Close()
	return nil
}

// dbfFields maps table columns onto DBF descriptors: float fields for
// numeric columns, character fields otherwise.
func dbfFields(tbl *table.Table) []shp.Field {
	fields := make([]shp.Field, 0, len(tbl.Columns))
	taken := make(map[string]struct{}, len(tbl.Columns))
	for _, col := range tbl.Columns {
		name := dbfName(col, taken)
		if tbl.IsNumeric(col) {
			fields = append(fields, shp.FloatField(name, 19, 8))
		} else {
			fields = append(fields, shp.StringField(name, 80))
		}
	}
	return fields
}

// dbfName fits a column name into the DBF 10-byte limit, suffixing a
// counter when truncation collides.
func dbfName(col string, taken map[string]struct{}) string {
	name := truncate(col, 10)
	for n := 2; ; n++ {
		if _, dup := taken[name]; !dup {
			break
		}
		suffix := strconv.Itoa(n)
		name = truncate(col, 10-len(suffix)) + suffix
	}
	taken[name] = struct{}{}
	return name
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// polygonShape flattens a multipolygon into shapefile part/point arrays.
// Nil geometry yields an empty record.
func polygonShape(mp *geom.MultiPolygon) *shp.Polygon {
	if mp == nil {
		return &shp.Polygon{}
	}
	var (
		parts  []int32
		points []shp.Point
	)
	for p := 0; p < mp.NumPolygons(); p++ {
		poly := mp.Polygon(p)
		for r := 0; r < poly.NumLinearRings(); r++ {
			ring := poly.LinearRing(r)
			flat := ring.FlatCoords()
			stride := ring.Stride()
			parts = append(parts, int32(len(points)))
			for i := 0; i+1 < len(flat); i += stride {
				points = append(points, shp.Point{X: flat[i], Y: flat[i+1]})
			}
		}
	}
	return &shp.Polygon{
		Box:       boundingBox(points),
		NumParts:  int32(len(parts)),
		NumPoints: int32(len(points)),
		Parts:     parts,
		Points:    points,
	}
}

func boundingBox(points []shp.Point) shp.Box {
	if len(points) == 0 {
		return shp.Box{}
	}
	b := shp.Box{MinX: points[0].X, MinY: points[0].Y, MaxX: points[0].X, MaxY: points[0].Y}
	for _, pt := range points[1:] {
		b.MinX = math.Min(b.MinX, pt.X)
		b.MinY = math.Min(b.MinY, pt.Y)
		b.MaxX = math.Max(b.MaxX, pt.X)
		b.MaxY = math.Max(b.MaxY, pt.Y)
	}
	return b
}

// bundleShapefile zips every output.* component in compDir.
func bundleShapefile(zipPath, compDir string) error {
	zf, err := os.Create(zipPath)
	if err != nil {
		return eris.Wrap(err, "export: create shapefile zip")
	}
	defer zf.Close() //nolint:errcheck

	zw := zip.NewWriter(zf)
	entries, err := os.ReadDir(compDir)
	if err != nil {
		return eris.Wrap(err, "export: read shapefile staging")
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "output.") {
			continue
		}
		if err := addZipEntry(zw, filepath.Join(compDir, entry.Name()), entry.Name()); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return eris.Wrap(err, "export: finalize shapefile zip")
	}
	return eris.Wrap(zf.Close(), "export: close shapefile zip")
}

func addZipEntry(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "export: open %s", name)
	}
	defer f.Close() //nolint:errcheck

	w, err := zw.Create(name)
	if err != nil {
		return eris.Wrapf(err, "export: add %s to archive", name)
	}
	if _, err := io.Copy(w, f); err != nil {
		return eris.Wrapf(err, "export: write %s to archive", name)
	}
	return nil
}
