// Package geocode resolves place names to geometries via Nominatim, with an
// optional local response cache.
package geocode

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrNoResult is returned when the geocoder finds nothing for the query.
var ErrNoResult = errors.New("geocode: no result for query")

// Geocoder resolves a free-form place name to a geometry (ideally a polygon
// or multipolygon).
type Geocoder interface {
	Geocode(ctx context.Context, place string) (orb.Geometry, error)
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the Nominatim endpoint (tests point this at a local
// server).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithUserAgent sets the User-Agent header. Nominatim's usage policy
// requires an identifying agent.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithCache attaches a response cache.
func WithCache(cache *Cache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithRateLimit overrides the requests-per-second limit. Nominatim's public
// instance allows at most 1 req/s.
func WithRateLimit(rps float64) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// Client is a Nominatim search client.
type Client struct {
	baseURL   string
	userAgent string
	hc        *http.Client
	limiter   *rate.Limiter
	cache     *Cache
}

// NewClient creates a geocoding client with the given options.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:   "https://nominatim.openstreetmap.org",
		userAgent: "svi-cli/1.0 (street-level imagery downloader)",
		hc:        &http.Client{Timeout: 30 * time.Second},
		limiter:   rate.NewLimiter(1, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Geocode resolves place to the geometry of the best match, preferring the
// full polygon when Nominatim has one.
func (c *Client) Geocode(ctx context.Context, place string) (orb.Geometry, error) {
	if c.cache != nil {
		if body, ok := c.cache.Get(ctx, place); ok {
			zap.L().Debug("geocode cache hit", zap.String("place", place))
			return decodeResult(body)
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: rate limiter wait")
	}

	q := url.Values{}
	q.Set("q", place)
	q.Set("format", "geojson")
	q.Set("polygon_geojson", "1")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: create request")
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: search")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("geocode: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: read body")
	}

	geom, err := decodeResult(body)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Put(ctx, place, body); err != nil {
			zap.L().Warn("geocode cache write failed", zap.Error(err))
		}
	}
	return geom, nil
}

func decodeResult(body []byte) (orb.Geometry, error) {
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: parse geojson")
	}
	if len(fc.Features) == 0 {
		return nil, ErrNoResult
	}
	return fc.Features[0].Geometry, nil
}
