package gsv

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"net/url"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/streetscope/svi-cli/internal/fetcher"
	"github.com/streetscope/svi-cli/internal/resilience"
)

// TileOptions selects the panorama resolution and post-processing.
type TileOptions struct {
	Zoom   int // tile zoom level, default 2
	HTiles int // horizontal tile count, default 4
	VTiles int // vertical tile count, default 2

	// Cropped keeps only the upper half of the stitched image.
	Cropped bool
	// Clip trims the black fill the tile server pads the right and bottom
	// edges with. Off by default: the full canvas is kept.
	Clip bool
}

func (o TileOptions) withDefaults() TileOptions {
	if o.Zoom <= 0 {
		o.Zoom = 2
	}
	if o.HTiles <= 0 {
		o.HTiles = 4
	}
	if o.VTiles <= 0 {
		o.VTiles = 2
	}
	return o
}

// FetchPanorama downloads every tile of the panorama and stitches them into
// a single image. Tiles fetch concurrently; one failed tile fails the pano.
func (s *Service) FetchPanorama(ctx context.Context, panoID string, opts TileOptions) (image.Image, error) {
	opts = opts.withDefaults()

	tiles := make([]image.Image, opts.HTiles*opts.VTiles)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for y := 0; y < opts.VTiles; y++ {
		for x := 0; x < opts.HTiles; x++ {
			x, y := x, y
			g.Go(func() error {
				img, err := s.fetchTile(ctx, panoID, x, y, opts.Zoom)
				if err != nil {
					return err
				}
				tiles[y*opts.HTiles+x] = img
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrapf(err, "gsv: panorama %s", panoID)
	}

	img := stitchTiles(tiles, opts.HTiles, opts.VTiles)
	if opts.Clip {
		img = clipEmptyBorders(img)
	}
	if opts.Cropped {
		img = cropTopHalf(img)
	}
	return img, nil
}

func (s *Service) fetchTile(ctx context.Context, panoID string, x, y, zoom int) (image.Image, error) {
	q := url.Values{}
	q.Set("cb_client", "maps_sv.tactile")
	q.Set("panoid", panoID)
	q.Set("x", fmt.Sprint(x))
	q.Set("y", fmt.Sprint(y))
	q.Set("zoom", fmt.Sprint(zoom))
	q.Set("nbt", "1")
	q.Set("fover", "2")
	endpoint := s.TileURL + "?" + q.Encode()

	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("download", "gsv tile")

	body, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		return s.client.Get(ctx, endpoint, fetcher.ImageTimeout)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "tile (%d,%d)", x, y)
	}

	img, err := jpeg.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrapf(err, "decode tile (%d,%d)", x, y)
	}
	return img, nil
}
