package normalize

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/geomonitor/prodes-ingest/internal/logging"
	"github.com/geomonitor/prodes-ingest/internal/wfs"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var (
	ErrMissingID           = errors.New("feature has no id")
	ErrMissingGeometry     = errors.New("feature has no geometry")
	ErrUnsupportedGeometry = errors.New("geometry is not a polygon or multipolygon")
)

// Error reports a feature that could not be converted. The feature is
// dropped; the batch goes on.
type Error struct {
	FeatureID string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("normalize feature %q: %v", e.FeatureID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Normalizer converts raw WFS features into canonical records.
type Normalizer struct {
	aliases map[string]string
	dropped map[string]struct{}
}

// New returns a Normalizer using AliasTable and DroppedFields.
func New() *Normalizer {
	return NewWithAliases(AliasTable)
}

// NewWithAliases returns a Normalizer with a custom alias table. Keys are
// folded the same way property names are.
func NewWithAliases(aliases map[string]string) *Normalizer {
	n := &Normalizer{
		aliases: make(map[string]string, len(aliases)),
		dropped: make(map[string]struct{}, len(DroppedFields)),
	}
	for k, v := range aliases {
		n.aliases[foldKey(k)] = v
	}
	for _, f := range DroppedFields {
		n.dropped[f] = struct{}{}
	}
	return n
}

// Normalize maps one raw feature to a Record.
func (n *Normalizer) Normalize(f wfs.RawFeature) (*Record, error) {
	id, err := f.FeatureID()
	if err != nil {
		return nil, &Error{FeatureID: string(f.ID), Err: err}
	}
	if id == "" {
		return nil, &Error{Err: ErrMissingID}
	}

	geom, err := parseGeometry(f.Geometry)
	if err != nil {
		return nil, &Error{FeatureID: id, Err: err}
	}

	props := n.canonicalProperties(f.Properties)

	rec := &Record{ID: id, AreaKm: math.NaN(), Geometry: geom}
	n.assign(rec, props)
	return rec, nil
}

// canonicalProperties keeps canonical keys verbatim, then renames the
// rest in sorted key order. A renamed key never replaces a value that is
// already present.
func (n *Normalizer) canonicalProperties(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(Columns))
	var rest []string
	for k, v := range in {
		if _, drop := n.dropped[k]; drop {
			continue
		}
		if isCanonical(k) {
			out[k] = v
			continue
		}
		rest = append(rest, k)
	}
	sort.Strings(rest)

	for _, k := range rest {
		if _, drop := n.dropped[foldKey(k)]; drop {
			continue
		}
		c, ok := resolveKey(n.aliases, k)
		if !ok || c == "id" {
			continue
		}
		if _, taken := out[c]; taken {
			continue
		}
		out[c] = in[k]
	}
	return out
}

func (n *Normalizer) assign(rec *Record, props map[string]interface{}) {
	log := logging.For("normalize")
	warn := func(col string, v interface{}, err error) {
		log.Warn("attribute dropped", "feature", rec.ID, "column", col, "value", v, "err", err)
	}

	for _, col := range []string{"uid", "julian_day", "year", "scene_id"} {
		v, ok := props[col]
		if !ok || v == nil {
			continue
		}
		i, err := toInt(v)
		if err != nil {
			warn(col, v, err)
			continue
		}
		switch col {
		case "uid":
			rec.UID = &i
		case "julian_day":
			rec.JulianDay = &i
		case "year":
			rec.Year = &i
		case "scene_id":
			rec.SceneID = &i
		}
	}

	for _, col := range []string{"state", "path_row", "def_cloud", "source", "satellite", "sensor"} {
		v, ok := props[col]
		if !ok || v == nil {
			continue
		}
		s, err := toText(v)
		if err != nil {
			warn(col, v, err)
			continue
		}
		switch col {
		case "state":
			rec.State = &s
		case "path_row":
			rec.PathRow = &s
		case "def_cloud":
			rec.DefCloud = &s
		case "source":
			rec.Source = &s
		case "satellite":
			rec.Satellite = &s
		case "sensor":
			rec.Sensor = &s
		}
	}

	if v, ok := props["area_km"]; ok && v != nil {
		if f, err := toFloat(v); err != nil {
			warn("area_km", v, err)
		} else {
			rec.AreaKm = f
		}
	}

	if v, ok := props["image_date"]; ok && v != nil {
		if t, err := toDate(v); err != nil {
			warn("image_date", v, err)
		} else {
			rec.ImageDate = &t
		}
	}

	if v, ok := props["publish_year"]; ok && v != nil {
		if t, err := toYearDate(v); err != nil {
			warn("publish_year", v, err)
		} else {
			rec.PublishYear = &t
		}
	}
}

func parseGeometry(raw []byte) (orb.Geometry, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrMissingGeometry
	}
	g, err := geojson.UnmarshalGeometry(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse geometry: %w", err)
	}
	switch geom := g.Geometry().(type) {
	case orb.Polygon:
		if len(geom) == 0 {
			return nil, ErrMissingGeometry
		}
		return geom, nil
	case orb.MultiPolygon:
		if len(geom) == 0 {
			return nil, ErrMissingGeometry
		}
		return geom, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGeometry, g.Type)
	}
}
