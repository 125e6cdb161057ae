package geometry_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/geomonitor/prodes-ingest/internal/geometry"
	"github.com/geomonitor/prodes-ingest/internal/normalize"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square() orb.Polygon {
	return orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}
}

// bowtie crosses itself but keeps a non-zero signed area.
func bowtie() orb.Polygon {
	return orb.Polygon{{{0, 0}, {2, 2}, {2, 0}, {0, 1}, {0, 0}}}
}

// uShape is a shell with a notch cut down from the top between x=1 and
// x=2; the hole bridges the notch, so its edges cross the shell while
// every hole vertex stays inside.
func uShape() orb.Polygon {
	return orb.Polygon{
		{{0, 0}, {3, 0}, {3, 3}, {2, 3}, {2, 1}, {1, 1}, {1, 3}, {0, 3}, {0, 0}},
		{{0.5, 2}, {2.5, 2}, {2.5, 2.5}, {0.5, 2.5}, {0.5, 2}},
	}
}

func record(id string, g orb.Geometry) *normalize.Record {
	return &normalize.Record{ID: id, AreaKm: math.NaN(), Geometry: g}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		geom orb.Geometry
		want error
	}{
		{"square", square(), nil},
		{"with hole", orb.Polygon{
			{{0, 0}, {4, 0}, {4, 4}, {0, 4}, {0, 0}},
			{{1, 1}, {1, 2}, {2, 2}, {2, 1}, {1, 1}},
		}, nil},
		{"open ring", orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}}}, geometry.ErrRingNotClosed},
		{"too few points", orb.Polygon{{{0, 0}, {1, 0}, {0, 0}}}, geometry.ErrTooFewPoints},
		{"flat", orb.Polygon{{{0, 0}, {1, 0}, {2, 0}, {0, 0}}}, geometry.ErrZeroArea},
		{"bowtie", bowtie(), geometry.ErrSelfIntersection},
		{"hole outside", orb.Polygon{
			{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}},
			{{5, 5}, {5, 6}, {6, 6}, {6, 5}, {5, 5}},
		}, geometry.ErrHoleOutside},
		{"nan", orb.Polygon{{{0, 0}, {math.NaN(), 0}, {1, 1}, {0, 0}}}, geometry.ErrNonFinite},
		{"hole crosses shell", uShape(), geometry.ErrTopology},
		{"overlapping holes", orb.Polygon{
			{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
			{{1, 1}, {4, 1}, {4, 4}, {1, 4}, {1, 1}},
			{{3, 3}, {6, 3}, {6, 6}, {3, 6}, {3, 3}},
		}, geometry.ErrTopology},
		{"overlapping members", orb.MultiPolygon{square(), square()}, geometry.ErrTopology},
		{"members touching at a corner", orb.MultiPolygon{
			square(),
			{{{1, 1}, {2, 1}, {2, 2}, {1, 2}, {1, 1}}},
		}, nil},
		{"empty multi", orb.MultiPolygon{}, geometry.ErrEmpty},
		{"point", orb.Point{1, 1}, geometry.ErrUnsupported},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := geometry.Validate(tc.geom)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestLocalRepair_ValidInputUnchanged(t *testing.T) {
	in := square()
	rec := record("ok", in)
	out, err := geometry.LocalRepairer{}.Repair(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, in, out.Geometry)
	assert.Same(t, rec, out)
}

func TestLocalRepair_FixesCommonDefects(t *testing.T) {
	cases := map[string]orb.Polygon{
		"open ring":         {{{0, 0}, {1, 0}, {1, 1}, {0, 1}}},
		"repeated vertices": {{{0, 0}, {1, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 1}, {0, 0}}},
		"spike":             {{{0, 0}, {1, 0}, {1, 1}, {1, 3}, {1, 1}, {0, 1}, {0, 0}}},
		"degenerate hole":   {{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}, {{0.2, 0.2}, {0.4, 0.2}, {0.2, 0.2}}},
	}
	for name, poly := range cases {
		t.Run(name, func(t *testing.T) {
			out, err := geometry.LocalRepairer{}.Repair(context.Background(), record(name, poly))
			require.NoError(t, err)
			assert.True(t, geometry.IsValid(out.Geometry))
			assert.Equal(t, square(), out.Geometry)
		})
	}
}

func TestLocalRepair_Deterministic(t *testing.T) {
	in := orb.Polygon{{{0, 0}, {1, 0}, {1, 0}, {1, 1}, {0, 1}}}
	a, err := geometry.LocalRepairer{}.Repair(context.Background(), record("a", in.Clone()))
	require.NoError(t, err)
	b, err := geometry.LocalRepairer{}.Repair(context.Background(), record("b", in.Clone()))
	require.NoError(t, err)
	assert.Equal(t, a.Geometry, b.Geometry)

	again, err := geometry.LocalRepairer{}.Repair(context.Background(), record("c", a.Geometry))
	require.NoError(t, err)
	assert.Equal(t, a.Geometry, again.Geometry)
}

func TestLocalRepair_RejectsUnrepairable(t *testing.T) {
	cases := map[string]orb.Geometry{
		"collapsed":           orb.Polygon{{{0, 0}, {1, 1}, {0, 0}}},
		"nan":                 orb.Polygon{{{0, 0}, {math.NaN(), 0}, {1, 1}}},
		"multi gone":          orb.MultiPolygon{{{{0, 0}, {1, 1}, {0, 0}}}},
		"hole crosses shell":  uShape(),
		"overlapping members": orb.MultiPolygon{square(), square()},
	}
	for name, g := range cases {
		t.Run(name, func(t *testing.T) {
			out, err := geometry.LocalRepairer{}.Repair(context.Background(), record(name, g))
			assert.Nil(t, out)
			var gerr *geometry.Error
			require.True(t, errors.As(err, &gerr))
			assert.Equal(t, name, gerr.FeatureID)
		})
	}
}

func TestLocalRepair_SplitsBowtie(t *testing.T) {
	in := orb.Polygon{{{0, 0}, {2, 2}, {2, 0}, {0, 2}, {0, 0}}}
	out, err := geometry.LocalRepairer{}.Repair(context.Background(), record("bowtie", in))
	require.NoError(t, err)
	assert.Equal(t, orb.MultiPolygon{
		{{{1, 1}, {2, 2}, {2, 0}, {1, 1}}},
		{{{1, 1}, {0, 2}, {0, 0}, {1, 1}}},
	}, out.Geometry)

	out, err = geometry.LocalRepairer{}.Repair(context.Background(), record("lopsided", bowtie()))
	require.NoError(t, err)
	mp, ok := out.Geometry.(orb.MultiPolygon)
	require.True(t, ok)
	assert.Len(t, mp, 2)
	assert.True(t, geometry.IsValid(mp))
}

func TestLocalRepair_SplitShellKeepsHoleInItsPiece(t *testing.T) {
	hole := orb.Ring{{3, 1.5}, {3.5, 2}, {3, 2.5}, {3, 1.5}}
	in := orb.Polygon{{{0, 0}, {4, 4}, {4, 0}, {0, 4}, {0, 0}}, hole}
	out, err := geometry.LocalRepairer{}.Repair(context.Background(), record("holed bowtie", in))
	require.NoError(t, err)
	mp, ok := out.Geometry.(orb.MultiPolygon)
	require.True(t, ok)
	require.Len(t, mp, 2)
	assert.Equal(t, orb.Polygon{{{2, 2}, {4, 4}, {4, 0}, {2, 2}}, hole}, mp[0])
	assert.Len(t, mp[1], 1)
}

func TestLocalRepair_MultiPolygonDropsDegenerateMember(t *testing.T) {
	in := orb.MultiPolygon{
		square(),
		{{{5, 5}, {6, 6}, {5, 5}}},
	}
	out, err := geometry.LocalRepairer{}.Repair(context.Background(), record("mp", in))
	require.NoError(t, err)
	assert.Equal(t, orb.MultiPolygon{square()}, out.Geometry)
}

func TestPostGISRepair(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("ST_MakeValid").
		WithArgs(pgxmock.AnyArg(), normalize.SRID).
		WillReturnRows(mock.NewRows([]string{"st_astext", "st_isvalid", "st_isempty"}).
			AddRow("MULTIPOLYGON(((0 0,0.5 0.5,1 0,0 0)),((0.5 0.5,0 1,1 1,0.5 0.5)))", true, false))

	r, err := geometry.NewRepairer(geometry.ModePostGIS, mock)
	require.NoError(t, err)
	assert.Equal(t, "postgis", r.Name())

	out, err := r.Repair(context.Background(), record("bt", bowtie()))
	require.NoError(t, err)
	mp, ok := out.Geometry.(orb.MultiPolygon)
	require.True(t, ok)
	assert.Len(t, mp, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostGISRepair_RejectsInvalidResult(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("ST_MakeValid").
		WithArgs(pgxmock.AnyArg(), normalize.SRID).
		WillReturnRows(mock.NewRows([]string{"st_astext", "st_isvalid", "st_isempty"}).
			AddRow("POLYGON EMPTY", true, true))

	out, err := geometry.NewPostGISRepairer(mock).Repair(context.Background(), record("bt", bowtie()))
	assert.Nil(t, out)
	assert.ErrorIs(t, err, geometry.ErrEmpty)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRepairer_UnknownMode(t *testing.T) {
	_, err := geometry.NewRepairer("magic", nil)
	assert.ErrorIs(t, err, geometry.ErrUnknownMode)

	_, err = geometry.NewRepairer(geometry.ModePostGIS, nil)
	assert.Error(t, err)
}
