package boundary

import (
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/require"
)

// squarePoints returns a closed square ring centered on (cx, cy).
func squarePoints(cx, cy, half float64) []shp.Point {
	return []shp.Point{
		{X: cx - half, Y: cy - half},
		{X: cx - half, Y: cy + half},
		{X: cx + half, Y: cy + half},
		{X: cx + half, Y: cy - half},
		{X: cx - half, Y: cy - half},
	}
}

// makePolygon builds a single-part shapefile polygon from a closed ring.
func makePolygon(points []shp.Point) *shp.Polygon {
	box := shp.Box{MinX: points[0].X, MinY: points[0].Y, MaxX: points[0].X, MaxY: points[0].Y}
	for _, p := range points[1:] {
		if p.X < box.MinX {
			box.MinX = p.X
		}
		if p.X > box.MaxX {
			box.MaxX = p.X
		}
		if p.Y < box.MinY {
			box.MinY = p.Y
		}
		if p.Y > box.MaxY {
			box.MaxY = p.Y
		}
	}
	return &shp.Polygon{
		Box:       box,
		NumParts:  1,
		NumPoints: int32(len(points)),
		Parts:     []int32{0},
		Points:    points,
	}
}

// writeTestShapefile writes a ZCTA-style shapefile containing one disjoint
// unit square per code and returns the .shp path.
func writeTestShapefile(t *testing.T, dir string, codes []string) string {
	t.Helper()

	path := filepath.Join(dir, "tl_test_zcta520.shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)

	w.SetFields([]shp.Field{shp.StringField("ZCTA5CE20", 5)})
	for i, code := range codes {
		w.Write(makePolygon(squarePoints(float64(i)*2, 0, 0.5)))
		w.WriteAttribute(i, 0, code)
	}
	w.Close()

	return path
}
