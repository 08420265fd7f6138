// Package gsv implements the Google Street View sub-protocols: panorama
// discovery near a point, capture-date metadata, and the tiled panorama
// download.
package gsv

import (
	"github.com/streetscope/svi-cli/internal/fetcher"
)

const (
	defaultDiscoverURL = "https://maps.googleapis.com/maps/api/js/GeoPhotoService.SingleImageSearch"
	defaultMetadataURL = "https://maps.googleapis.com/maps/api/streetview/metadata"
	defaultTileURL     = "https://streetviewpixels-pa.googleapis.com/v1/tile"
)

// TileSize is the pixel size of one Street View tile.
const TileSize = 512

// Service talks to the Street View endpoints through the rotating fetcher.
type Service struct {
	client *fetcher.Client
	apiKey string

	// Endpoint overrides; tests point these at local servers.
	DiscoverURL string
	MetadataURL string
	TileURL     string
}

// NewService creates a Service. The API key may be empty when metadata
// augmentation is not requested.
func NewService(client *fetcher.Client, apiKey string) *Service {
	return &Service{
		client:      client,
		apiKey:      apiKey,
		DiscoverURL: defaultDiscoverURL,
		MetadataURL: defaultMetadataURL,
		TileURL:     defaultTileURL,
	}
}

// HasKey reports whether an API key was configured.
func (s *Service) HasKey() bool {
	return s.apiKey != ""
}
