package normalize

import (
	"math"
	"time"

	"github.com/paulmach/orb"
)

// SRID of every persisted geometry. Source coordinates arrive in
// EPSG:4674 (SIRGAS 2000), whose axes match WGS84 to within centimetres,
// so they are tagged 4326 without reprojection.
const SRID = 4326

// Columns lists the canonical attributes in persistence order.
var Columns = []string{
	"id",
	"uid",
	"state",
	"path_row",
	"def_cloud",
	"julian_day",
	"image_date",
	"year",
	"area_km",
	"scene_id",
	"source",
	"satellite",
	"sensor",
	"publish_year",
}

// Record is one deforestation polygon in the canonical schema.
// Nil pointers are SQL NULL; a NaN AreaKm means "unknown".
type Record struct {
	ID          string
	UID         *int64
	State       *string
	PathRow     *string
	DefCloud    *string
	JulianDay   *int64
	ImageDate   *time.Time
	Year        *int64
	AreaKm      float64
	SceneID     *int64
	Source      *string
	Satellite   *string
	Sensor      *string
	PublishYear *time.Time

	Geometry orb.Geometry
}

// SetSource overwrites the source tag for the run.
func (r *Record) SetSource(tag string) {
	r.Source = &tag
}

// Values returns the attribute values in Columns order, ready to bind as
// query arguments.
func (r *Record) Values() []any {
	var area any
	if !math.IsNaN(r.AreaKm) && !math.IsInf(r.AreaKm, 0) {
		area = r.AreaKm
	}
	return []any{
		r.ID,
		deref(r.UID),
		deref(r.State),
		deref(r.PathRow),
		deref(r.DefCloud),
		deref(r.JulianDay),
		dateValue(r.ImageDate),
		deref(r.Year),
		area,
		deref(r.SceneID),
		deref(r.Source),
		deref(r.Satellite),
		deref(r.Sensor),
		dateValue(r.PublishYear),
	}
}

// Attributes returns the canonical attributes keyed by column name.
func (r *Record) Attributes() map[string]any {
	vals := r.Values()
	out := make(map[string]any, len(Columns))
	for i, c := range Columns {
		out[c] = vals[i]
	}
	return out
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// dateValue is the calendar date of t in its own location.
func dateValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
