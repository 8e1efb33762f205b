// Package viz assembles the map payload rendered by the front end: the
// dissolved sample as GeoJSON plus a computed view state and fixed layer
// styling. The full dataset never goes to the map; only the dissolved
// groups do.
package viz

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/sells-group/zipatlas/internal/dissolve"
	"github.com/sells-group/zipatlas/internal/export"
	"github.com/sells-group/zipatlas/internal/geomops"
)

// Fixed view and layer styling, matched to the rendering surface.
const (
	MapStyle  = "mapbox://styles/mapbox/light-v9"
	Zoom      = 3.5
	Pitch     = 45.0
	LineWidth = 200
)

var (
	// FillColor is RGBA, LineColor RGB.
	FillColor = [4]int{200, 30, 0, 160}
	LineColor = [3]int{0, 0, 0}
)

// ViewState positions the initial camera over the mean of the dissolved
// polygon centroids.
type ViewState struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Zoom      float64 `json:"zoom"`
	Pitch     float64 `json:"pitch"`
}

// Layer mirrors the GeoJSON layer configuration of the renderer.
type Layer struct {
	Type          string `json:"type"`
	Filled        bool   `json:"filled"`
	FillColor     [4]int `json:"fill_color"`
	Stroked       bool   `json:"stroked"`
	LineColor     [3]int `json:"line_color"`
	LineWidth     int    `json:"line_width"`
	Pickable      bool   `json:"pickable"`
	AutoHighlight bool   `json:"auto_highlight"`
}

// Payload is the complete map document served to the front end.
type Payload struct {
	MapStyle  string          `json:"map_style"`
	ViewState ViewState       `json:"view_state"`
	Layer     Layer           `json:"layer"`
	Data      json.RawMessage `json:"data"`
}

// Build assembles the payload from a dissolve result. Groups without
// geometry are excluded from rendering; when nothing renderable remains the
// payload is nil and the caller degrades to a no-map response.
func Build(res *dissolve.Result) (*Payload, error) {
	lng, lat, ok := geomops.MeanCenter(res.Dataset.Geometries)
	if !ok {
		zap.L().With(zap.String("component", "viz")).Warn("no usable geometry, skipping visualization",
			zap.Int("groups", res.Dataset.Len()),
		)
		return nil, nil
	}

	data, err := export.FeatureCollectionJSON(res.Dataset, true)
	if err != nil {
		return nil, err
	}

	return &Payload{
		MapStyle: MapStyle,
		ViewState: ViewState{
			Latitude:  lat,
			Longitude: lng,
			Zoom:      Zoom,
			Pitch:     Pitch,
		},
		Layer: Layer{
			Type:          "GeoJsonLayer",
			Filled:        true,
			FillColor:     FillColor,
			Stroked:       true,
			LineColor:     LineColor,
			LineWidth:     LineWidth,
			Pickable:      true,
			AutoHighlight: true,
		},
		Data: data,
	}, nil
}
