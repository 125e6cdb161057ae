package geometry

import (
	"context"

	"github.com/geomonitor/prodes-ingest/internal/normalize"
	"github.com/paulmach/orb"
)

// LocalRepairer fixes the defects that can be fixed in-process:
// unclosed rings, repeated vertices, spikes, degenerate parts and rings
// that cross themselves, which are cut at the crossing point so a bowtie
// becomes two triangles. Holes that cross their shell or each other are
// not resolved; such records are rejected.
type LocalRepairer struct{}

func (LocalRepairer) Name() string { return "local" }

func (LocalRepairer) Repair(_ context.Context, rec *normalize.Record) (*normalize.Record, error) {
	return repairWith(rec, func(g orb.Geometry) (orb.Geometry, error) {
		return repairGeometry(g), nil
	}, Validate)
}

// maxSplits bounds how many times one ring is cut.
const maxSplits = 64

func repairGeometry(g orb.Geometry) orb.Geometry {
	switch geom := g.(type) {
	case orb.Polygon:
		parts := repairPolygon(geom)
		switch len(parts) {
		case 0:
			return orb.Polygon{}
		case 1:
			return parts[0]
		default:
			return orb.MultiPolygon(parts)
		}
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, 0, len(geom))
		for _, p := range geom {
			out = append(out, repairPolygon(p)...)
		}
		return out
	default:
		return g
	}
}

// repairPolygon returns the polygons left after repairing p: none when
// the shell degenerates, one per piece when the shell crosses itself.
// With several pieces each hole goes to the piece that holds it.
func repairPolygon(p orb.Polygon) []orb.Polygon {
	if len(p) == 0 {
		return nil
	}
	shells := repairRing(p[0])
	out := make([]orb.Polygon, 0, len(shells))
	for _, s := range shells {
		out = append(out, orb.Polygon{s})
	}
	if len(out) == 0 {
		return nil
	}
	for _, h := range p[1:] {
		for _, hole := range repairRing(h) {
			if len(out) == 1 {
				out[0] = append(out[0], hole)
				continue
			}
			for k := range out {
				if ringInside(hole, out[k][0]) {
					out[k] = append(out[k], hole)
					break
				}
			}
		}
	}
	return out
}

// repairRing dedupes vertices, removes spikes, cuts the ring where its
// edges cross and closes every piece. Pieces with fewer than three
// distinct vertices or no area are dropped.
func repairRing(r orb.Ring) []orb.Ring {
	pts := make([]orb.Point, 0, len(r))
	for _, pt := range r {
		if !finite(pt) {
			return nil
		}
		pts = append(pts, pt)
	}
	pts = removeSpikes(dedupeOpen(pts))

	var out []orb.Ring
	budget := maxSplits
	for _, part := range splitRing(pts, &budget) {
		part = removeSpikes(dedupeOpen(part))
		if len(part) < 3 {
			continue
		}
		ring := make(orb.Ring, 0, len(part)+1)
		ring = append(ring, part...)
		ring = append(ring, part[0])
		if signedArea(ring) == 0 {
			continue
		}
		out = append(out, ring)
	}
	return out
}

// splitRing cuts an open ring at the first point where two of its edges
// cross and repeats on both halves. Edges that only touch or overlap are
// left alone.
func splitRing(pts []orb.Point, budget *int) [][]orb.Point {
	n := len(pts)
	if n < 4 || *budget <= 0 {
		return [][]orb.Point{pts}
	}
	for i := 0; i < n; i++ {
		a1, a2 := pts[i], pts[(i+1)%n]
		for j := i + 2; j < n; j++ {
			if i == 0 && j == n-1 {
				continue
			}
			x, ok := crossing(a1, a2, pts[j], pts[(j+1)%n])
			if !ok {
				continue
			}
			*budget--
			left := append([]orb.Point{x}, pts[i+1:j+1]...)
			right := append([]orb.Point{x}, pts[j+1:]...)
			right = append(right, pts[:i+1]...)
			return append(splitRing(left, budget), splitRing(right, budget)...)
		}
	}
	return [][]orb.Point{pts}
}

// crossing returns the point where segments a and b cross each other in
// their interiors.
func crossing(a1, a2, b1, b2 orb.Point) (orb.Point, bool) {
	o1 := orientation(a1, a2, b1)
	o2 := orientation(a1, a2, b2)
	o3 := orientation(b1, b2, a1)
	o4 := orientation(b1, b2, a2)
	if o1 == 0 || o2 == 0 || o3 == 0 || o4 == 0 || o1 == o2 || o3 == o4 {
		return orb.Point{}, false
	}
	rx, ry := a2[0]-a1[0], a2[1]-a1[1]
	sx, sy := b2[0]-b1[0], b2[1]-b1[1]
	t := ((b1[0]-a1[0])*sy - (b1[1]-a1[1])*sx) / (rx*sy - ry*sx)
	return orb.Point{a1[0] + t*rx, a1[1] + t*ry}, true
}

// removeSpikes drops vertices where the boundary doubles back on itself
// (a-b-a patterns and collinear back-tracks) on an open ring, repeating
// until none are left.
func removeSpikes(pts []orb.Point) []orb.Point {
	for changed := true; changed && len(pts) >= 3; {
		changed = false
		n := len(pts)
		for i := 0; i < n; i++ {
			prev, cur, next := pts[(i+n-1)%n], pts[i], pts[(i+1)%n]
			if prev == next || isBacktrack(prev, cur, next) {
				pts = append(pts[:i:i], pts[i+1:]...)
				pts = dedupeOpen(pts)
				changed = true
				break
			}
		}
	}
	return pts
}

func isBacktrack(prev, cur, next orb.Point) bool {
	if orientation(prev, cur, next) != 0 {
		return false
	}
	dx1, dy1 := prev[0]-cur[0], prev[1]-cur[1]
	dx2, dy2 := next[0]-cur[0], next[1]-cur[1]
	return dx1*dx2+dy1*dy2 > 0
}

func dedupeOpen(pts []orb.Point) []orb.Point {
	out := pts[:0]
	for _, pt := range pts {
		if len(out) > 0 && out[len(out)-1] == pt {
			continue
		}
		out = append(out, pt)
	}
	for len(out) > 1 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}
	return out
}
