package mly

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/rotisserie/eris"

	"github.com/streetscope/svi-cli/internal/fetcher"
	"github.com/streetscope/svi-cli/internal/resilience"
)

// ThumbnailURL resolves the short-lived CDN URL for an image at the given
// resolution (256, 1024 or 2048 pixels wide).
func (s *Service) ThumbnailURL(ctx context.Context, imageID string, res int) (string, error) {
	if !ValidResolution(res) {
		return "", eris.Errorf("mly: unsupported thumbnail resolution %d", res)
	}
	field := fmt.Sprintf("thumb_%d_url", res)

	q := url.Values{}
	q.Set("access_token", s.token)
	q.Set("fields", field)
	endpoint := s.BaseURL + "/" + imageID + "?" + q.Encode()

	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("augment", "mly thumbnail url")

	body, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		return s.client.Get(ctx, endpoint, fetcher.MetadataTimeout)
	})
	if err != nil {
		return "", eris.Wrapf(err, "mly: thumbnail url for image %s", imageID)
	}

	var resp map[string]json.RawMessage
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", eris.Wrapf(err, "mly: parse thumbnail response for image %s", imageID)
	}
	var thumb string
	if raw, ok := resp[field]; ok {
		if err := json.Unmarshal(raw, &thumb); err != nil {
			return "", eris.Wrapf(err, "mly: parse thumbnail url for image %s", imageID)
		}
	}
	if thumb == "" {
		return "", eris.Errorf("mly: no %s for image %s", field, imageID)
	}
	return thumb, nil
}
