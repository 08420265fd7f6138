// Package spatial filters discovered panoramas back to the input polygons.
package spatial

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Index answers point-in-polygon queries against a fixed polygon set. Each
// polygon's bound acts as a cheap pre-filter before the exact ring test, so
// batched membership checks stay near linear in the number of points.
// Read-only after construction; safe for concurrent queries.
type Index struct {
	entries []entry
}

type entry struct {
	bound orb.Bound
	poly  orb.Polygon
}

// NewIndex builds an index over the polygonal members of geoms. Points and
// lines are ignored.
func NewIndex(geoms []orb.Geometry) *Index {
	idx := &Index{}
	for _, g := range geoms {
		switch v := g.(type) {
		case orb.Polygon:
			idx.add(v)
		case orb.MultiPolygon:
			for _, p := range v {
				idx.add(p)
			}
		case orb.Collection:
			for _, member := range v {
				switch m := member.(type) {
				case orb.Polygon:
					idx.add(m)
				case orb.MultiPolygon:
					for _, p := range m {
						idx.add(p)
					}
				}
			}
		}
	}
	return idx
}

func (idx *Index) add(p orb.Polygon) {
	idx.entries = append(idx.entries, entry{bound: p.Bound(), poly: p})
}

// Empty reports whether the index holds no polygons.
func (idx *Index) Empty() bool {
	return len(idx.entries) == 0
}

// Contains reports whether the point lies inside any indexed polygon.
func (idx *Index) Contains(p orb.Point) bool {
	for _, e := range idx.entries {
		if !e.bound.Contains(p) {
			continue
		}
		if planar.PolygonContains(e.poly, p) {
			return true
		}
	}
	return false
}
