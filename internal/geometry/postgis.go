package geometry

import (
	"context"
	"errors"
	"fmt"

	"github.com/geomonitor/prodes-ingest/internal/normalize"
	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// Querier is the part of a pgx pool the PostGIS repairer needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const makeValidSQL = `
	WITH fixed AS (
		SELECT ST_CollectionExtract(ST_MakeValid(ST_GeomFromText($1, $2)), 3) AS g
	)
	SELECT ST_AsText(g), ST_IsValid(g), ST_IsEmpty(g) FROM fixed
`

var errStillInvalid = errors.New("ST_MakeValid result is not valid")

// PostGISRepairer delegates repair to ST_MakeValid, which also resolves
// crossing edges. Only the polygonal part of the result is kept.
type PostGISRepairer struct {
	db Querier
}

func NewPostGISRepairer(db Querier) *PostGISRepairer {
	return &PostGISRepairer{db: db}
}

func (r *PostGISRepairer) Name() string { return "postgis" }

func (r *PostGISRepairer) Repair(ctx context.Context, rec *normalize.Record) (*normalize.Record, error) {
	return repairWith(rec, func(g orb.Geometry) (orb.Geometry, error) {
		return r.makeValid(ctx, g)
	}, func(g orb.Geometry) error {
		// Server side already checked validity; only make sure a polygon came back.
		switch g.(type) {
		case orb.Polygon, orb.MultiPolygon:
			return nil
		default:
			return fmt.Errorf("%w: %s", ErrUnsupported, g.GeoJSONType())
		}
	})
}

func (r *PostGISRepairer) makeValid(ctx context.Context, g orb.Geometry) (orb.Geometry, error) {
	var (
		text           string
		valid, isEmpty bool
	)
	if err := r.db.QueryRow(ctx, makeValidSQL, wkt.MarshalString(g), normalize.SRID).Scan(&text, &valid, &isEmpty); err != nil {
		return nil, fmt.Errorf("st_makevalid: %w", err)
	}
	if isEmpty {
		return nil, ErrEmpty
	}
	if !valid {
		return nil, errStillInvalid
	}
	fixed, err := wkt.Unmarshal(text)
	if err != nil {
		return nil, fmt.Errorf("parse repaired wkt: %w", err)
	}
	return fixed, nil
}
