package main

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/streetscope/svi-cli/internal/download"
	"github.com/streetscope/svi-cli/internal/fetcher"
	"github.com/streetscope/svi-cli/internal/netpool"
	"github.com/streetscope/svi-cli/internal/resolver"
	"github.com/streetscope/svi-cli/pkg/geocode"
)

// inputFlags are the geospatial source flags shared by both providers.
type inputFlags struct {
	lat, lon float64
	csvFile  string
	shpFile  string
	place    string
	idCols   []string
	buffer   float64
}

// toInput converts the flag values, treating unset coordinates as absent.
func (f *inputFlags) toInput(latSet, lonSet bool) resolver.Input {
	in := resolver.Input{
		CSVFile:   f.csvFile,
		ShapeFile: f.shpFile,
		PlaceName: f.place,
		IDColumns: f.idCols,
		Buffer:    f.buffer,
	}
	if latSet && lonSet {
		lat, lon := f.lat, f.lon
		in.Lat, in.Lon = &lat, &lon
	}
	return in
}

// newFetcherClient builds the rotated HTTP client from configuration.
func newFetcherClient() (*fetcher.Client, error) {
	pools, err := netpool.Load()
	if err != nil {
		return nil, eris.Wrap(err, "load network pools")
	}
	return fetcher.New(pools, fetcher.Options{
		RPS:            cfg.Network.RPS,
		DisableProxies: cfg.Network.DisableProxies,
	}), nil
}

// newResolver builds the input resolver with a cached Nominatim geocoder.
func newResolver(distance, gridSize float64, grid bool) (*resolver.Resolver, error) {
	opts := []geocode.Option{geocode.WithBaseURL(cfg.Geocode.BaseURL)}
	if cfg.Geocode.CachePath != "" {
		cache, err := geocode.OpenCache(cfg.Geocode.CachePath, cfg.Geocode.CacheTTL)
		if err != nil {
			zap.L().Warn("geocode cache unavailable", zap.Error(err))
		} else {
			opts = append(opts, geocode.WithCache(cache))
		}
	}
	gc := geocode.NewClient(opts...)

	return resolver.New(resolver.Config{
		Distance: distance,
		Grid:     grid,
		GridSize: gridSize,
	}, gc), nil
}

// downloadConfig assembles the shared pipeline knobs. Zero batchSize or
// workers falls back to the configured defaults.
func downloadConfig(dir, logPath string, distance, gridSize float64, grid bool, batchSize, workers int) download.Config {
	if batchSize == 0 {
		batchSize = cfg.Pipeline.BatchSize
	}
	if workers == 0 {
		workers = cfg.Pipeline.MaxWorkers
	}
	return download.Config{
		Dir:        dir,
		BatchSize:  batchSize,
		MaxWorkers: workers,
		LogPath:    logPath,
		Distance:   distance,
		Grid:       grid,
		GridSize:   gridSize,
	}
}
