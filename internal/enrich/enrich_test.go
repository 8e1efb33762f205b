package enrich

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/zipatlas/internal/aggregate"
	"github.com/sells-group/zipatlas/internal/boundary"
	"github.com/sells-group/zipatlas/internal/table"
)

type providerFunc func(ctx context.Context, codes []string) (map[string]*geom.MultiPolygon, error)

func (f providerFunc) Lookup(ctx context.Context, codes []string) (map[string]*geom.MultiPolygon, error) {
	return f(ctx, codes)
}

func square(cx, cy float64) *geom.MultiPolygon {
	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	poly := geom.NewPolygon(geom.XY)
	ring := geom.NewLinearRingFlat(geom.XY, []float64{
		cx - 1, cy - 1, cx - 1, cy + 1, cx + 1, cy + 1, cx + 1, cy - 1, cx - 1, cy - 1,
	})
	_ = poly.Push(ring)
	_ = mp.Push(poly)
	return mp
}

func aggregated(t *testing.T, rows ...[]string) *table.Table {
	t.Helper()
	tbl, err := table.FromRecords([]string{"zip", "state"}, rows)
	require.NoError(t, err)
	return tbl
}

func TestJoin_LeftJoinKeepsUnmatchedRows(t *testing.T) {
	tbl := aggregated(t,
		[]string{"00501", "NY"},
		[]string{"00544", "NY"},
		[]string{"90210", "CA"},
	)
	provider := boundary.Static{
		"00501": square(0, 0),
		"90210": square(10, 10),
	}

	ds, stats, err := Join(context.Background(), tbl, "zip", provider)
	require.NoError(t, err)

	assert.Equal(t, 3, ds.Len())
	require.Len(t, ds.Geometries, 3)
	assert.NotNil(t, ds.Geometries[0])
	assert.Nil(t, ds.Geometries[1], "unmatched code keeps its row with nil geometry")
	assert.NotNil(t, ds.Geometries[2])

	assert.Equal(t, 3, stats.Requested)
	assert.Equal(t, 2, stats.Matched)
}

func TestJoin_DistinctCodesOnly(t *testing.T) {
	tbl := aggregated(t,
		[]string{"00501", "NY"},
		[]string{"00501", "NY"},
		[]string{"90210", "CA"},
	)

	var requested []string
	provider := providerFunc(func(_ context.Context, codes []string) (map[string]*geom.MultiPolygon, error) {
		requested = codes
		return map[string]*geom.MultiPolygon{"00501": square(0, 0)}, nil
	})

	ds, _, err := Join(context.Background(), tbl, "zip", provider)
	require.NoError(t, err)

	assert.Equal(t, []string{"00501", "90210"}, requested)
	assert.NotNil(t, ds.Geometries[0])
	assert.NotNil(t, ds.Geometries[1], "duplicate code rows share the looked-up geometry")
	assert.Nil(t, ds.Geometries[2])
}

func TestJoin_NumericCellsNormalizeBeforeLookup(t *testing.T) {
	tbl, err := table.FromRecords([]string{"zip"}, [][]string{{"501"}})
	require.NoError(t, err)

	provider := boundary.Static{"00501": square(0, 0)}

	ds, stats, err := Join(context.Background(), tbl, "zip", provider)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Matched)
	assert.NotNil(t, ds.Geometries[0])
}

func TestJoin_MissingColumnIsSchemaError(t *testing.T) {
	tbl := aggregated(t, []string{"00501", "NY"})

	_, _, err := Join(context.Background(), tbl, "postal", boundary.Static{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, aggregate.ErrMissingColumn))
}

func TestJoin_ProviderErrorIsUnavailable(t *testing.T) {
	tbl := aggregated(t, []string{"00501", "NY"})

	provider := providerFunc(func(context.Context, []string) (map[string]*geom.MultiPolygon, error) {
		return nil, eris.New("dial tcp: connection refused")
	})

	_, _, err := Join(context.Background(), tbl, "zip", provider)
	require.Error(t, err)
	assert.True(t, eris.Is(err, boundary.ErrUnavailable))
}

func TestJoin_UnavailableSentinelPassesThrough(t *testing.T) {
	tbl := aggregated(t, []string{"00501", "NY"})

	provider := providerFunc(func(context.Context, []string) (map[string]*geom.MultiPolygon, error) {
		return nil, eris.Wrapf(boundary.ErrUnavailable, "cache query: disk I/O error")
	})

	_, _, err := Join(context.Background(), tbl, "zip", provider)
	require.Error(t, err)
	assert.True(t, eris.Is(err, boundary.ErrUnavailable))
}

func TestJoin_NullCodeCellGetsNoGeometry(t *testing.T) {
	tbl, err := table.FromRecords([]string{"zip", "state"}, [][]string{
		{"00501", "NY"},
		{"", "NY"},
	})
	require.NoError(t, err)

	var requested []string
	provider := providerFunc(func(_ context.Context, codes []string) (map[string]*geom.MultiPolygon, error) {
		requested = codes
		return map[string]*geom.MultiPolygon{"00501": square(0, 0)}, nil
	})

	ds, _, err := Join(context.Background(), tbl, "zip", provider)
	require.NoError(t, err)
	assert.Equal(t, []string{"00501"}, requested)
	assert.Nil(t, ds.Geometries[1])
}
