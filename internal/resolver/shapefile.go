package resolver

import (
	"strings"

	shp "github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// readShapefile loads features from an ESRI shapefile, converting shapes to
// orb geometries and attributes to lowercased property maps.
func readShapefile(path string) ([]feature, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "resolver: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.ToLower(strings.TrimRight(f.String(), "\x00"))
	}

	var feats []feature
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		geom := shapeToGeometry(shape)
		if geom == nil {
			skipped++
			continue
		}

		props := make(map[string]string, len(names))
		for i, name := range names {
			val := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			props[name] = val
		}
		feats = append(feats, feature{geom: geom, props: props})
	}

	if skipped > 0 {
		zap.L().Debug("skipped unsupported shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return feats, nil
}

// shapeToGeometry converts the go-shp shape types this tool accepts.
func shapeToGeometry(shape shp.Shape) orb.Geometry {
	switch s := shape.(type) {
	case *shp.Point:
		return orb.Point{s.X, s.Y}
	case *shp.PointZ:
		return orb.Point{s.X, s.Y}
	case *shp.PolyLine:
		mls := make(orb.MultiLineString, 0, len(s.Parts))
		for _, part := range partSlices(s.Parts, s.Points) {
			mls = append(mls, orb.LineString(part))
		}
		if len(mls) == 1 {
			return mls[0]
		}
		return mls
	case *shp.Polygon:
		// Shapefile polygons store outer rings clockwise and holes
		// counter-clockwise; each outer ring starts a new polygon.
		var mp orb.MultiPolygon
		var cur orb.Polygon
		for _, part := range partSlices(s.Parts, s.Points) {
			ring := orb.Ring(part)
			if ringIsOuter(ring) || len(cur) == 0 {
				if len(cur) > 0 {
					mp = append(mp, cur)
				}
				cur = orb.Polygon{ring}
			} else {
				cur = append(cur, ring)
			}
		}
		if len(cur) > 0 {
			mp = append(mp, cur)
		}
		if len(mp) == 1 {
			return mp[0]
		}
		return mp
	}
	return nil
}

func partSlices(parts []int32, points []shp.Point) [][]orb.Point {
	out := make([][]orb.Point, 0, len(parts))
	for i, start := range parts {
		end := len(points)
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		slice := make([]orb.Point, 0, end-int(start))
		for _, p := range points[start:end] {
			slice = append(slice, orb.Point{p.X, p.Y})
		}
		out = append(out, slice)
	}
	return out
}

// ringIsOuter reports shapefile outer-ring winding (clockwise, i.e.
// negative signed area).
func ringIsOuter(ring orb.Ring) bool {
	return signedArea(ring) < 0
}
