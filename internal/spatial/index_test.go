package spatial

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

func square(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}}
}

func TestContains(t *testing.T) {
	idx := NewIndex([]orb.Geometry{square(0, 0, 1, 1)})

	assert.True(t, idx.Contains(orb.Point{0.5, 0.5}))
	assert.False(t, idx.Contains(orb.Point{1.5, 0.5}))
	assert.False(t, idx.Contains(orb.Point{-0.1, 0.5}))
}

func TestContainsMultiPolygon(t *testing.T) {
	mp := orb.MultiPolygon{square(0, 0, 1, 1), square(10, 10, 11, 11)}
	idx := NewIndex([]orb.Geometry{mp})

	assert.True(t, idx.Contains(orb.Point{10.5, 10.5}))
	assert.False(t, idx.Contains(orb.Point{5, 5}))
}

func TestNonArealGeometriesIgnored(t *testing.T) {
	idx := NewIndex([]orb.Geometry{
		orb.Point{0, 0},
		orb.LineString{{0, 0}, {1, 1}},
	})
	assert.True(t, idx.Empty())
	assert.False(t, idx.Contains(orb.Point{0, 0}))
}

func TestCollectionMembers(t *testing.T) {
	idx := NewIndex([]orb.Geometry{orb.Collection{square(0, 0, 2, 2)}})
	assert.False(t, idx.Empty())
	assert.True(t, idx.Contains(orb.Point{1, 1}))
}
