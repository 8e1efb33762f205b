// Package geomops supplies the topological operations the pipeline needs on
// go-geom multipolygons. Internally it round-trips through simplefeatures,
// which carries a robust pure-Go union; this is the only package that touches
// that engine.
package geomops

import (
	sf "github.com/peterstace/simplefeatures/geom"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
)

const srid = 4326

func toSF(mp *geom.MultiPolygon) (sf.Geometry, error) {
	data, err := wkb.Marshal(mp, wkb.NDR)
	if err != nil {
		return sf.Geometry{}, eris.Wrap(err, "geomops: encode geometry")
	}
	g, err := sf.UnmarshalWKB(data)
	if err != nil {
		return sf.Geometry{}, eris.Wrap(err, "geomops: parse geometry")
	}
	return g, nil
}

// fromSF maps an areal result back into the pipeline's geometry model.
func fromSF(g sf.Geometry) (*geom.MultiPolygon, error) {
	t, err := wkb.Unmarshal(g.AsBinary())
	if err != nil {
		return nil, eris.Wrap(err, "geomops: decode geometry")
	}
	switch v := t.(type) {
	case *geom.MultiPolygon:
		return v.SetSRID(srid), nil
	case *geom.Polygon:
		mp := geom.NewMultiPolygon(geom.XY).SetSRID(srid)
		if err := mp.Push(v); err != nil {
			return nil, eris.Wrap(err, "geomops: assemble multipolygon")
		}
		return mp, nil
	default:
		return nil, eris.Errorf("geomops: union produced %T, want areal geometry", t)
	}
}

// Union dissolves the given geometries into a single MultiPolygon. Nil
// entries are skipped; when nothing remains the result is nil with no error.
func Union(geoms []*geom.MultiPolygon) (*geom.MultiPolygon, error) {
	var acc sf.Geometry
	var have bool

	for _, mp := range geoms {
		if mp == nil {
			continue
		}
		g, err := toSF(mp)
		if err != nil {
			return nil, err
		}
		if !have {
			acc, have = g, true
			continue
		}
		acc, err = sf.Union(acc, g)
		if err != nil {
			return nil, eris.Wrap(err, "geomops: union")
		}
	}

	if !have {
		return nil, nil
	}
	return fromSF(acc)
}

// Centroid returns the centroid of a MultiPolygon.
func Centroid(mp *geom.MultiPolygon) (x, y float64, err error) {
	if mp == nil {
		return 0, 0, eris.New("geomops: nil geometry")
	}
	g, err := toSF(mp)
	if err != nil {
		return 0, 0, err
	}
	xy, ok := g.Centroid().XY()
	if !ok {
		return 0, 0, eris.New("geomops: empty geometry has no centroid")
	}
	return xy.X, xy.Y, nil
}

// MeanCenter averages the centroids of the given geometries, skipping nil
// entries. ok is false when no usable geometry exists.
func MeanCenter(geoms []*geom.MultiPolygon) (x, y float64, ok bool) {
	var sumX, sumY float64
	var n int

	for _, mp := range geoms {
		if mp == nil {
			continue
		}
		cx, cy, err := Centroid(mp)
		if err != nil {
			continue
		}
		sumX += cx
		sumY += cy
		n++
	}

	if n == 0 {
		return 0, 0, false
	}
	return sumX / float64(n), sumY / float64(n), true
}
