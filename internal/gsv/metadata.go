package gsv

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/streetscope/svi-cli/internal/fetcher"
	"github.com/streetscope/svi-cli/internal/resilience"
)

type metadataResponse struct {
	Status string `json:"status"`
	Date   string `json:"date"`
}

// PanoDate fetches the capture date of a panorama through the official
// metadata endpoint. Panos the API does not know, or knows without a date,
// yield empty year and month with a nil error; the caller records nulls.
// Only persistent transport failure is an error.
func (s *Service) PanoDate(ctx context.Context, panoID string) (year, month string, err error) {
	q := url.Values{}
	q.Set("pano", panoID)
	q.Set("key", s.apiKey)
	endpoint := s.MetadataURL + "?" + q.Encode()

	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("augment", "gsv pano metadata")

	body, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		return s.client.Get(ctx, endpoint, fetcher.MetadataTimeout)
	})
	if err != nil {
		return "", "", eris.Wrapf(err, "gsv: metadata for pano %s", panoID)
	}

	var resp metadataResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "", nil
	}
	if resp.Status != "OK" {
		return "", "", nil
	}

	// The API reports dates as "YYYY-MM", occasionally "YYYY".
	parts := strings.SplitN(resp.Date, "-", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "", "", nil
	}
	year = parts[0]
	if len(parts) == 2 {
		month = strings.TrimPrefix(parts[1], "0")
		if month == "" {
			month = parts[1]
		}
	}
	return year, month, nil
}
