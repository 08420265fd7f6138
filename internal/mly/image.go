package mly

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg" // thumbnails decode as JPEG
	"image/png"

	"github.com/rotisserie/eris"

	"github.com/streetscope/svi-cli/internal/fetcher"
	"github.com/streetscope/svi-cli/internal/resilience"
)

// FetchImage downloads the image behind a resolved thumbnail URL. With
// cropped set, the bytes are re-encoded as PNG holding only the upper half
// of the frame; otherwise the CDN bytes pass through untouched.
func (s *Service) FetchImage(ctx context.Context, thumbURL string, cropped bool) ([]byte, error) {
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("download", "mly image")

	body, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		return s.client.Get(ctx, thumbURL, fetcher.ImageTimeout)
	})
	if err != nil {
		return nil, eris.Wrap(err, "mly: fetch image")
	}
	if !cropped {
		return body, nil
	}

	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "mly: decode image for crop")
	}
	b := img.Bounds()
	half := image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+b.Dy()/2)

	type subImager interface {
		SubImage(image.Rectangle) image.Image
	}
	var top image.Image
	if si, ok := img.(subImager); ok {
		top = si.SubImage(half)
	} else {
		top = img
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, top); err != nil {
		return nil, eris.Wrap(err, "mly: encode cropped image")
	}
	return buf.Bytes(), nil
}
