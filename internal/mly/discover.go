package mly

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"

	"github.com/streetscope/svi-cli/internal/fetcher"
	"github.com/streetscope/svi-cli/internal/resilience"
)

// Image is one Mapillary image record from a bbox query.
type Image struct {
	ID             string
	CapturedAt     int64 // milliseconds since epoch
	CompassAngle   float64
	IsPano         bool
	OrganizationID string
	SequenceID     string
	Lon, Lat       float64
}

type imageRecord struct {
	ID             string            `json:"id"`
	CapturedAt     int64             `json:"captured_at"`
	CompassAngle   float64           `json:"compass_angle"`
	IsPano         bool              `json:"is_pano"`
	OrganizationID json.Number       `json:"organization_id"`
	SequenceID     string            `json:"sequence_id"`
	Geometry       *geojson.Geometry `json:"geometry"`
}

type imagesResponse struct {
	Data   []imageRecord `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

const imageFields = "id,captured_at,compass_angle,is_pano,organization_id,sequence_id,geometry"

// FindImages lists every image inside the bbox, following Graph API
// pagination until exhausted.
func (s *Service) FindImages(ctx context.Context, minLon, minLat, maxLon, maxLat float64) ([]Image, error) {
	q := url.Values{}
	q.Set("access_token", s.token)
	q.Set("fields", imageFields)
	q.Set("bbox", fmt.Sprintf("%f,%f,%f,%f", minLon, minLat, maxLon, maxLat))
	q.Set("limit", "2000")
	endpoint := s.BaseURL + "/images?" + q.Encode()

	var out []Image
	for endpoint != "" {
		page, next, err := s.fetchImagePage(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		endpoint = next
	}
	return out, nil
}

func (s *Service) fetchImagePage(ctx context.Context, endpoint string) ([]Image, string, error) {
	cfg := resilience.DiscoveryRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("discover", "mly image search")

	body, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		return s.client.Get(ctx, endpoint, fetcher.MetadataTimeout)
	})
	if err != nil {
		return nil, "", eris.Wrap(err, "mly: image search")
	}

	var resp imagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", eris.Wrap(err, "mly: parse image search response")
	}

	images := make([]Image, 0, len(resp.Data))
	for _, rec := range resp.Data {
		img := Image{
			ID:             rec.ID,
			CapturedAt:     rec.CapturedAt,
			CompassAngle:   rec.CompassAngle,
			IsPano:         rec.IsPano,
			OrganizationID: rec.OrganizationID.String(),
			SequenceID:     rec.SequenceID,
		}
		if rec.Geometry != nil {
			if p, ok := rec.Geometry.Geometry().(orb.Point); ok {
				img.Lon, img.Lat = p.Lon(), p.Lat()
			}
		}
		images = append(images, img)
	}
	return images, resp.Paging.Next, nil
}
