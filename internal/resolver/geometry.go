package resolver

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"
)

const circleSegments = 32

// mercatorScale returns the Web Mercator distance corresponding to one
// ground meter at the given latitude.
func mercatorScale(lat float64) float64 {
	c := math.Cos(lat * math.Pi / 180)
	if c < 1e-6 {
		c = 1e-6
	}
	return 1 / c
}

// bufferGeometry dilates g by meters, working in Web Mercator and scaling
// the radius for latitude. Points become circles; polygon rings are offset
// along their vertex normals (an approximation that holds for the
// city-scale inputs this tool sees).
func bufferGeometry(g orb.Geometry, meters float64) orb.Geometry {
	if meters <= 0 {
		return g
	}
	switch v := g.(type) {
	case orb.Point:
		return bufferPoint(v, meters)
	case orb.MultiPoint:
		mp := make(orb.MultiPolygon, 0, len(v))
		for _, p := range v {
			mp = append(mp, bufferPoint(p, meters))
		}
		return mp
	case orb.LineString:
		return bufferLine(v, meters)
	case orb.MultiLineString:
		var mp orb.MultiPolygon
		for _, ls := range v {
			mp = append(mp, bufferLine(ls, meters)...)
		}
		return mp
	case orb.Polygon:
		return bufferPolygon(v, meters)
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, 0, len(v))
		for _, p := range v {
			out = append(out, bufferPolygon(p, meters))
		}
		return out
	case orb.Collection:
		out := make(orb.Collection, 0, len(v))
		for _, m := range v {
			out = append(out, bufferGeometry(m, meters))
		}
		return out
	}
	return g
}

// bufferPoint returns a circleSegments-gon around p with ground radius
// meters.
func bufferPoint(p orb.Point, meters float64) orb.Polygon {
	center := project.Geometry(p, project.WGS84.ToMercator).(orb.Point)
	r := meters * mercatorScale(p.Lat())

	ring := make(orb.Ring, 0, circleSegments+1)
	for i := 0; i <= circleSegments; i++ {
		theta := 2 * math.Pi * float64(i) / circleSegments
		ring = append(ring, orb.Point{
			center.X() + r*math.Cos(theta),
			center.Y() + r*math.Sin(theta),
		})
	}
	poly := orb.Polygon{ring}
	return project.Geometry(poly, project.Mercator.ToWGS84).(orb.Polygon)
}

// bufferLine approximates a line buffer as the union of vertex circles,
// densified so adjacent circles overlap.
func bufferLine(ls orb.LineString, meters float64) orb.MultiPolygon {
	pts := densifyLine(ls, meters)
	mp := make(orb.MultiPolygon, 0, len(pts))
	for _, p := range pts {
		mp = append(mp, bufferPoint(p, meters))
	}
	return mp
}

// bufferPolygon offsets the exterior ring outward by meters. Interior rings
// (holes) are kept as-is; a hole narrower than the buffer should have been
// dissolved upstream.
func bufferPolygon(poly orb.Polygon, meters float64) orb.Polygon {
	if len(poly) == 0 {
		return poly
	}
	merc := project.Geometry(poly.Clone(), project.WGS84.ToMercator).(orb.Polygon)
	r := meters * mercatorScale(poly.Bound().Center().Lat())

	out := make(orb.Polygon, len(merc))
	out[0] = offsetRing(merc[0], r)
	copy(out[1:], merc[1:])
	return project.Geometry(out, project.Mercator.ToWGS84).(orb.Polygon)
}

// offsetRing moves each vertex outward along the average normal of its two
// edges.
func offsetRing(ring orb.Ring, dist float64) orb.Ring {
	n := len(ring)
	if n < 4 {
		return ring
	}
	// Drop the closing point while computing normals.
	open := ring[:n-1]
	m := len(open)

	// Counter-clockwise rings have positive signed area; their outward
	// normal is the right-hand normal of each edge.
	sign := 1.0
	if signedArea(ring) < 0 {
		sign = -1.0
	}

	out := make(orb.Ring, 0, n)
	for i := 0; i < m; i++ {
		prev := open[(i-1+m)%m]
		cur := open[i]
		next := open[(i+1)%m]

		nx, ny := edgeNormal(prev, cur)
		mx, my := edgeNormal(cur, next)
		ax, ay := nx+mx, ny+my
		norm := math.Hypot(ax, ay)
		if norm < 1e-12 {
			out = append(out, cur)
			continue
		}
		out = append(out, orb.Point{
			cur.X() + sign*dist*ax/norm,
			cur.Y() + sign*dist*ay/norm,
		})
	}
	out = append(out, out[0])
	return out
}

// signedArea computes the shoelace area of a closed ring: positive for
// counter-clockwise winding.
func signedArea(ring orb.Ring) float64 {
	var sum float64
	for i := 1; i < len(ring); i++ {
		a, b := ring[i-1], ring[i]
		sum += a.X()*b.Y() - b.X()*a.Y()
	}
	return sum / 2
}

// edgeNormal returns the unit right-hand normal of the edge a→b.
func edgeNormal(a, b orb.Point) (float64, float64) {
	dx, dy := b.X()-a.X(), b.Y()-a.Y()
	norm := math.Hypot(dx, dy)
	if norm < 1e-12 {
		return 0, 0
	}
	return dy / norm, -dx / norm
}

// densifyLine returns points along ls spaced at most step meters apart,
// including the original vertices.
func densifyLine(ls orb.LineString, step float64) []orb.Point {
	if len(ls) == 0 || step <= 0 {
		return []orb.Point(ls)
	}
	merc := project.Geometry(ls.Clone(), project.WGS84.ToMercator).(orb.LineString)
	scale := mercatorScale(ls.Bound().Center().Lat())
	mercStep := step * scale

	var out []orb.Point
	out = append(out, merc[0])
	for i := 1; i < len(merc); i++ {
		a, b := merc[i-1], merc[i]
		segLen := planar.Distance(a, b)
		for d := mercStep; d < segLen; d += mercStep {
			t := d / segLen
			out = append(out, orb.Point{
				a.X() + t*(b.X()-a.X()),
				a.Y() + t*(b.Y()-a.Y()),
			})
		}
		out = append(out, b)
	}
	for i, p := range out {
		out[i] = project.Geometry(p, project.Mercator.ToWGS84).(orb.Point)
	}
	return out
}

// samplePoints emits query points for a geometry: points pass through,
// lines and polygon boundaries are walked at the given spacing.
func samplePoints(g orb.Geometry, spacing float64) []orb.Point {
	switch v := g.(type) {
	case orb.Point:
		return []orb.Point{v}
	case orb.MultiPoint:
		return []orb.Point(v)
	case orb.LineString:
		return densifyLine(v, spacing)
	case orb.MultiLineString:
		var out []orb.Point
		for _, ls := range v {
			out = append(out, densifyLine(ls, spacing)...)
		}
		return out
	case orb.Polygon:
		var out []orb.Point
		for _, ring := range v {
			out = append(out, densifyLine(orb.LineString(ring), spacing)...)
		}
		return out
	case orb.MultiPolygon:
		var out []orb.Point
		for _, p := range v {
			out = append(out, samplePoints(p, spacing)...)
		}
		return out
	case orb.Collection:
		var out []orb.Point
		for _, m := range v {
			out = append(out, samplePoints(m, spacing)...)
		}
		return out
	}
	return nil
}

// gridPoints lays a regular lattice of cell size meters over the geometry's
// bound and keeps the nodes falling inside the geometry.
func gridPoints(g orb.Geometry, cellMeters float64) []orb.Point {
	if cellMeters <= 0 {
		return nil
	}
	bound := g.Bound()
	mercBound := project.Geometry(bound.ToPolygon(), project.WGS84.ToMercator).Bound()
	step := cellMeters * mercatorScale(bound.Center().Lat())

	var out []orb.Point
	for x := mercBound.Min.X(); x <= mercBound.Max.X(); x += step {
		for y := mercBound.Min.Y(); y <= mercBound.Max.Y(); y += step {
			p := project.Geometry(orb.Point{x, y}, project.Mercator.ToWGS84).(orb.Point)
			if geometryContains(g, p) {
				out = append(out, p)
			}
		}
	}
	return out
}

// geometryContains tests polygon membership; non-areal geometries contain
// nothing.
func geometryContains(g orb.Geometry, p orb.Point) bool {
	switch v := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(v, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(v, p)
	case orb.Collection:
		for _, m := range v {
			if geometryContains(m, p) {
				return true
			}
		}
	}
	return false
}
