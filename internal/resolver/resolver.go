// Package resolver normalizes every supported geospatial input — a
// coordinate pair, a CSV/XLSX table, a shapefile or GeoJSON file, or a place
// name — into the uniform stream of query points the discovery stage probes.
package resolver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/streetscope/svi-cli/internal/checkpoint"
	"github.com/streetscope/svi-cli/pkg/geocode"
)

// ErrInvalidInput reports missing or unusable user input: no source given,
// unknown place name, unrecognized coordinate columns, malformed dates.
var ErrInvalidInput = errors.New("invalid input")

// ColLatLonID names the per-run point key column.
const ColLatLonID = "lat_lon_id"

// Config tunes point generation from polygonal inputs.
type Config struct {
	// Distance is the sample spacing in meters along features when Grid is
	// off.
	Distance float64

	// Grid switches densification to a regular lattice of GridSize meters.
	Grid     bool
	GridSize float64
}

// Input selects exactly one geospatial source.
type Input struct {
	Lat, Lon  *float64
	CSVFile   string // .csv or .xlsx coordinate table
	ShapeFile string // .shp, .geojson or .json
	PlaceName string

	// IDColumns are user columns carried through to the final pid table.
	IDColumns []string

	// Buffer dilates each input feature by this many meters.
	Buffer float64
}

// QueryPoint is one location to probe for panoramas.
type QueryPoint struct {
	LatLonID int
	Lat, Lon float64
	IDs      map[string]string
}

// Resolved is the resolver's output: the point stream plus the (possibly
// buffered) input geometries for the polygon membership filter.
type Resolved struct {
	Points     []QueryPoint
	IDColumns  []string
	Geometries []orb.Geometry
}

// HasPolygons reports whether any input geometry is areal.
func (r *Resolved) HasPolygons() bool {
	for _, g := range r.Geometries {
		switch g.(type) {
		case orb.Polygon, orb.MultiPolygon:
			return true
		}
	}
	return false
}

type feature struct {
	geom  orb.Geometry
	props map[string]string
}

// Resolver converts inputs to query points.
type Resolver struct {
	cfg      Config
	geocoder geocode.Geocoder
}

// New creates a resolver. The geocoder may be nil if place-name input is
// never used.
func New(cfg Config, gc geocode.Geocoder) *Resolver {
	if cfg.Distance <= 0 {
		cfg.Distance = 1
	}
	if cfg.GridSize <= 0 {
		cfg.GridSize = 1
	}
	return &Resolver{cfg: cfg, geocoder: gc}
}

// Resolve produces the query point stream for the input. When cachePath is
// non-empty and exists, the previously computed point table is reused
// verbatim; otherwise the result is persisted there.
func (r *Resolver) Resolve(ctx context.Context, in Input, cachePath string) (*Resolved, error) {
	idCols := lowercaseAll(in.IDColumns)

	feats, err := r.loadFeatures(ctx, in, idCols)
	if err != nil {
		return nil, err
	}

	if in.Buffer > 0 {
		for i := range feats {
			feats[i].geom = bufferGeometry(feats[i].geom, in.Buffer)
		}
	}

	res := &Resolved{IDColumns: idCols}
	for _, f := range feats {
		res.Geometries = append(res.Geometries, f.geom)
	}

	if cachePath != "" {
		if _, err := os.Stat(cachePath); err == nil {
			points, err := loadPointCache(cachePath, idCols)
			if err != nil {
				return nil, err
			}
			zap.L().Info("query points read from cache", zap.String("path", cachePath))
			res.Points = points
			return res, nil
		}
	}

	latLonID := 0
	for _, f := range feats {
		for _, p := range r.featurePoints(f) {
			latLonID++
			res.Points = append(res.Points, QueryPoint{
				LatLonID: latLonID,
				Lat:      p.Lat(),
				Lon:      p.Lon(),
				IDs:      f.props,
			})
		}
	}

	if cachePath != "" {
		if err := savePointCache(cachePath, res.Points, idCols); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// featurePoints emits the query points for one feature. Bare points pass
// through; everything else is densified per the configuration.
func (r *Resolver) featurePoints(f feature) []orb.Point {
	switch f.geom.(type) {
	case orb.Point, orb.MultiPoint:
		return samplePoints(f.geom, r.cfg.Distance)
	}
	if r.cfg.Grid {
		return gridPoints(f.geom, r.cfg.GridSize)
	}
	return samplePoints(f.geom, r.cfg.Distance)
}

func (r *Resolver) loadFeatures(ctx context.Context, in Input, idCols []string) ([]feature, error) {
	switch {
	case in.Lat != nil && in.Lon != nil:
		return []feature{{geom: orb.Point{*in.Lon, *in.Lat}, props: map[string]string{}}}, nil

	case in.CSVFile != "":
		return loadCoordinateFeatures(in.CSVFile, idCols)

	case in.ShapeFile != "":
		return loadFileFeatures(in.ShapeFile, idCols)

	case in.PlaceName != "":
		if r.geocoder == nil {
			return nil, eris.Wrap(ErrInvalidInput, "no geocoder configured for place-name input")
		}
		zap.L().Info("geocoding place name", zap.String("place", in.PlaceName))
		geom, err := r.geocoder.Geocode(ctx, in.PlaceName)
		if err != nil {
			if errors.Is(err, geocode.ErrNoResult) {
				return nil, eris.Wrapf(ErrInvalidInput, "place name %q not found", in.PlaceName)
			}
			return nil, eris.Wrap(err, "resolver: geocode place name")
		}
		return []feature{{geom: geom, props: map[string]string{}}}, nil
	}

	return nil, eris.Wrap(ErrInvalidInput, "provide lat/lon, a coordinate file, a shapefile, or a place name")
}

// loadCoordinateFeatures reads a CSV/XLSX table into point features.
func loadCoordinateFeatures(path string, idCols []string) ([]feature, error) {
	header, rows, err := readCoordinateTable(path)
	if err != nil {
		return nil, err
	}

	latIdx := indexOf(header, ColLatitude)
	lonIdx := indexOf(header, ColLongitude)
	if latIdx < 0 || lonIdx < 0 {
		return nil, eris.Wrapf(ErrInvalidInput, "no recognized latitude/longitude columns in %s", path)
	}

	idIdx := make(map[string]int, len(idCols))
	for _, col := range idCols {
		idIdx[col] = indexOf(header, col)
	}

	var feats []feature
	var bad int
	for _, row := range rows {
		if latIdx >= len(row) || lonIdx >= len(row) {
			bad++
			continue
		}
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(row[latIdx]), 64)
		lon, err2 := strconv.ParseFloat(strings.TrimSpace(row[lonIdx]), 64)
		if err1 != nil || err2 != nil {
			bad++
			continue
		}
		props := make(map[string]string, len(idCols))
		for col, i := range idIdx {
			if i >= 0 && i < len(row) {
				props[col] = row[i]
			}
		}
		feats = append(feats, feature{geom: orb.Point{lon, lat}, props: props})
	}
	if bad > 0 {
		zap.L().Warn("skipped rows with unparseable coordinates",
			zap.String("path", path),
			zap.Int("skipped", bad),
		)
	}
	if len(feats) == 0 {
		return nil, eris.Wrapf(ErrInvalidInput, "no usable coordinate rows in %s", path)
	}
	return feats, nil
}

// loadFileFeatures reads a shapefile or GeoJSON file into features.
func loadFileFeatures(path string, idCols []string) ([]feature, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return readGeoJSON(path, idCols)
	case ".shp":
		return readShapefile(path)
	default:
		return nil, eris.Wrapf(ErrInvalidInput, "unsupported geometry file %s", path)
	}
}

func readGeoJSON(path string, idCols []string) ([]feature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "resolver: read %s", path)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, eris.Wrapf(err, "resolver: parse geojson %s", path)
	}

	feats := make([]feature, 0, len(fc.Features))
	for _, gf := range fc.Features {
		props := make(map[string]string)
		for k, v := range gf.Properties {
			key := strings.ToLower(k)
			switch val := v.(type) {
			case string:
				props[key] = val
			case float64:
				props[key] = strconv.FormatFloat(val, 'f', -1, 64)
			case bool:
				props[key] = strconv.FormatBool(val)
			}
		}
		feats = append(feats, feature{geom: gf.Geometry, props: props})
	}
	if len(feats) == 0 {
		return nil, eris.Wrapf(ErrInvalidInput, "no features in %s", path)
	}
	return feats, nil
}

// savePointCache persists the point table as cache/lat_lon.csv.
func savePointCache(path string, points []QueryPoint, idCols []string) error {
	header := append([]string{ColLatitude, ColLongitude, ColLatLonID}, idCols...)
	t := checkpoint.NewTable(header...)
	for _, p := range points {
		row := []string{
			strconv.FormatFloat(p.Lat, 'f', -1, 64),
			strconv.FormatFloat(p.Lon, 'f', -1, 64),
			strconv.Itoa(p.LatLonID),
		}
		for _, col := range idCols {
			row = append(row, p.IDs[col])
		}
		t.Append(row)
	}
	return t.WriteFile(path)
}

// loadPointCache reads a previously persisted point table.
func loadPointCache(path string, idCols []string) ([]QueryPoint, error) {
	t, err := checkpoint.ReadFile(path)
	if err != nil {
		return nil, err
	}
	points := make([]QueryPoint, 0, t.Len())
	for _, row := range t.Rows {
		lat, err1 := strconv.ParseFloat(t.Cell(row, ColLatitude), 64)
		lon, err2 := strconv.ParseFloat(t.Cell(row, ColLongitude), 64)
		id, err3 := strconv.Atoi(t.Cell(row, ColLatLonID))
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		ids := make(map[string]string, len(idCols))
		for _, col := range idCols {
			ids[col] = t.Cell(row, col)
		}
		points = append(points, QueryPoint{LatLonID: id, Lat: lat, Lon: lon, IDs: ids})
	}
	return points, nil
}

func lowercaseAll(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = strings.ToLower(c)
	}
	return out
}
