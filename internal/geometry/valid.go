package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"
	sfgeom "github.com/peterstace/simplefeatures/geom"
)

var (
	ErrEmpty            = errors.New("empty geometry")
	ErrNonFinite        = errors.New("non-finite coordinate")
	ErrRingNotClosed    = errors.New("ring is not closed")
	ErrTooFewPoints     = errors.New("ring has fewer than four points")
	ErrZeroArea         = errors.New("ring has zero area")
	ErrSelfIntersection = errors.New("ring self-intersects")
	ErrHoleOutside      = errors.New("hole lies outside its shell")
	ErrTopology         = errors.New("rings or polygons interact invalidly")
	ErrUnsupported      = errors.New("unsupported geometry type")
)

// Validate reports why g is not a valid polygonal geometry, or nil.
// Each ring is checked on its own first: closed, at least four points,
// non-zero area, not self-intersecting, and holes inside their shell.
// The whole geometry then goes through the OGC validity rules, which
// reject holes that cross their shell or each other, disconnected
// interiors and overlapping multipolygon members.
func Validate(g orb.Geometry) error {
	switch geom := g.(type) {
	case orb.Polygon:
		if err := validatePolygon(geom); err != nil {
			return err
		}
	case orb.MultiPolygon:
		if len(geom) == 0 {
			return ErrEmpty
		}
		for i, p := range geom {
			if err := validatePolygon(p); err != nil {
				return fmt.Errorf("polygon %d: %w", i, err)
			}
		}
	case nil:
		return ErrEmpty
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, g.GeoJSONType())
	}
	return validateTopology(g)
}

func validateTopology(g orb.Geometry) error {
	sg, err := sfgeom.UnmarshalWKT(wkt.MarshalString(g), sfgeom.NoValidate{})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTopology, err)
	}
	if err := sg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrTopology, err)
	}
	return nil
}

// IsValid is Validate(g) == nil.
func IsValid(g orb.Geometry) bool {
	return Validate(g) == nil
}

func validatePolygon(p orb.Polygon) error {
	if len(p) == 0 {
		return ErrEmpty
	}
	for i, r := range p {
		if err := validateRing(r); err != nil {
			if i == 0 {
				return fmt.Errorf("shell: %w", err)
			}
			return fmt.Errorf("hole %d: %w", i, err)
		}
	}
	shell := p[0]
	for i, h := range p[1:] {
		if !ringInside(h, shell) {
			return fmt.Errorf("hole %d: %w", i+1, ErrHoleOutside)
		}
	}
	return nil
}

func validateRing(r orb.Ring) error {
	for _, pt := range r {
		if !finite(pt) {
			return ErrNonFinite
		}
	}
	if len(r) < 4 {
		return ErrTooFewPoints
	}
	if !r.Closed() {
		return ErrRingNotClosed
	}
	if signedArea(r) == 0 {
		return ErrZeroArea
	}
	if selfIntersects(r) {
		return ErrSelfIntersection
	}
	return nil
}

func finite(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsNaN(p[1]) && !math.IsInf(p[0], 0) && !math.IsInf(p[1], 0)
}

// signedArea is the shoelace area; positive for counter-clockwise rings.
func signedArea(r orb.Ring) float64 {
	var sum float64
	for i := 0; i+1 < len(r); i++ {
		sum += r[i][0]*r[i+1][1] - r[i+1][0]*r[i][1]
	}
	return sum / 2
}

// ringInside reports whether every vertex of inner lies inside or on
// the boundary of outer.
func ringInside(inner, outer orb.Ring) bool {
	for _, pt := range inner {
		if planar.RingContains(outer, pt) {
			continue
		}
		if !onRing(outer, pt) {
			return false
		}
	}
	return true
}

func onRing(r orb.Ring, p orb.Point) bool {
	for i := 0; i+1 < len(r); i++ {
		if orientation(r[i], r[i+1], p) == 0 && onSegment(r[i], r[i+1], p) {
			return true
		}
	}
	return false
}

// selfIntersects checks every pair of ring edges. Adjacent edges may
// only share their common vertex; the first and last edge meet at the
// closing point.
func selfIntersects(r orb.Ring) bool {
	n := len(r) - 1 // edges
	for i := 0; i < n; i++ {
		a1, a2 := r[i], r[i+1]
		for j := i + 1; j < n; j++ {
			b1, b2 := r[j], r[j+1]
			adjacent := j == i+1 || (i == 0 && j == n-1)
			if adjacent {
				if overlapsBeyondVertex(a1, a2, b1, b2) {
					return true
				}
				continue
			}
			if segmentsIntersect(a1, a2, b1, b2) {
				return true
			}
		}
	}
	return false
}

// overlapsBeyondVertex reports whether two edges sharing a vertex are
// collinear and fold back over each other (a spike).
func overlapsBeyondVertex(a1, a2, b1, b2 orb.Point) bool {
	if orientation(a1, a2, b1) != 0 || orientation(a1, a2, b2) != 0 {
		return false
	}
	var shared, ea, eb orb.Point
	switch {
	case a2 == b1:
		shared, ea, eb = a2, a1, b2
	case a1 == b2:
		shared, ea, eb = a1, a2, b1
	default:
		return true
	}
	// Collinear edges continue straight when the far ends sit on
	// opposite sides of the shared vertex.
	dax, day := ea[0]-shared[0], ea[1]-shared[1]
	dbx, dby := eb[0]-shared[0], eb[1]-shared[1]
	return dax*dbx+day*dby > 0
}

func orientation(a, b, c orb.Point) int {
	v := (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func onSegment(a, b, p orb.Point) bool {
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	o1 := orientation(p1, p2, q1)
	o2 := orientation(p1, p2, q2)
	o3 := orientation(q1, q2, p1)
	o4 := orientation(q1, q2, p2)

	if o1 != o2 && o3 != o4 {
		return true
	}
	return (o1 == 0 && onSegment(p1, p2, q1)) ||
		(o2 == 0 && onSegment(p1, p2, q2)) ||
		(o3 == 0 && onSegment(q1, q2, p1)) ||
		(o4 == 0 && onSegment(q1, q2, p2))
}
