// Package boundary acquires Census TIGER/Line ZCTA polygon boundaries and
// serves them to the pipeline through the Provider interface. Providers exist
// for a local shapefile, a SQLite cache, and a Postgres table; all of them
// return geometries keyed by normalized 5-digit code.
package boundary

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// ErrUnavailable is returned when a boundary source cannot be reached or
// parsed. Lookups that succeed but match nothing return an empty map, not
// this error.
var ErrUnavailable = eris.New("boundary: provider unavailable")

// Provider resolves boundary codes to polygon geometries.
type Provider interface {
	// Lookup returns geometries for the requested codes. Codes with no
	// boundary are simply absent from the result map.
	Lookup(ctx context.Context, codes []string) (map[string]*geom.MultiPolygon, error)
}

// Static is a fixed in-memory Provider.
type Static map[string]*geom.MultiPolygon

func (s Static) Lookup(_ context.Context, codes []string) (map[string]*geom.MultiPolygon, error) {
	out := make(map[string]*geom.MultiPolygon, len(codes))
	for _, code := range codes {
		if mp, ok := s[code]; ok {
			out[code] = mp
		}
	}
	return out, nil
}
