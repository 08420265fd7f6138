// Package mly implements the Mapillary Graph API sub-protocols: bbox image
// discovery, thumbnail URL resolution, and the image download.
package mly

import (
	"github.com/streetscope/svi-cli/internal/fetcher"
)

const defaultBaseURL = "https://graph.mapillary.com"

// Resolutions accepted for thumbnail URLs.
var validResolutions = map[int]struct{}{256: {}, 1024: {}, 2048: {}}

// Service talks to the Mapillary Graph API through the rotating fetcher.
type Service struct {
	client *fetcher.Client
	token  string

	// BaseURL override; tests point this at a local server.
	BaseURL string
}

// NewService creates a Service bound to an API access token.
func NewService(client *fetcher.Client, token string) *Service {
	return &Service{client: client, token: token, BaseURL: defaultBaseURL}
}

// HasToken reports whether an access token was configured.
func (s *Service) HasToken() bool {
	return s.token != ""
}

// ValidResolution reports whether res is an accepted thumbnail size.
func ValidResolution(res int) bool {
	_, ok := validResolutions[res]
	return ok
}
