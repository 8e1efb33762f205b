package export

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/zipatlas/internal/enrich"
)

// rawNull keeps unmatched rows in the collection with an explicit
// "geometry": null member.
var rawNull = json.RawMessage("null")

type geoFeature struct {
	Type       string          `json:"type"`
	Properties map[string]any  `json:"properties"`
	Geometry   json.RawMessage `json:"geometry"`
}

type geoCollection struct {
	Type     string       `json:"type"`
	Features []geoFeature `json:"features"`
}

// FeatureCollectionJSON encodes the dataset as a GeoJSON FeatureCollection,
// one feature per row with the row's attributes as properties. With skipNil
// set, rows without geometry are left out entirely; otherwise they carry a
// null geometry member.
func FeatureCollectionJSON(ds *enrich.Dataset, skipNil bool) ([]byte, error) {
	fc := geoCollection{
		Type:     "FeatureCollection",
		Features: make([]geoFeature, 0, ds.Len()),
	}
	for i, row := range ds.Table.Rows {
		mp := ds.Geometries[i]
		if mp == nil && skipNil {
			continue
		}
		props := make(map[string]any, len(ds.Table.Columns))
		for _, col := range ds.Table.Columns {
			props[col] = row[col]
		}
		geomJSON := rawNull
		if mp != nil {
			encoded, err := geojson.Marshal(mp)
			if err != nil {
				return nil, eris.Wrapf(err, "export: encode geometry for row %d", i)
			}
			geomJSON = encoded
		}
		fc.Features = append(fc.Features, geoFeature{
			Type:       "Feature",
			Properties: props,
			Geometry:   geomJSON,
		})
	}
	data, err := json.Marshal(fc)
	if err != nil {
		return nil, eris.Wrap(err, "export: encode feature collection")
	}
	return data, nil
}

// writeGeoJSON renders one feature per row, attributes as properties.
func writeGeoJSON(path string, ds *enrich.Dataset) error {
	data, err := FeatureCollectionJSON(ds, false)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrap(err, "export: write geojson")
	}
	return nil
}
