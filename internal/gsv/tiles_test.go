package gsv

import (
	"bytes"
	"context"
	"image/color"
	"image/jpeg"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tilePayload(t *testing.T, c color.Color) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, solidTile(c), nil))
	return buf.Bytes()
}

// The right tile is pure black fill; the canvas must survive untouched
// unless clipping is asked for.
func TestFetchPanoramaKeepsCanvasByDefault(t *testing.T) {
	white := tilePayload(t, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	black := tilePayload(t, color.RGBA{A: 255})

	svc, _ := testService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := white
		if r.URL.Query().Get("x") == "1" {
			payload = black
		}
		w.Write(payload) //nolint:errcheck
	}))

	opts := TileOptions{Zoom: 1, HTiles: 2, VTiles: 1}
	img, err := svc.FetchPanorama(context.Background(), "p", opts)
	require.NoError(t, err)
	assert.Equal(t, 2*TileSize, img.Bounds().Dx())
	assert.Equal(t, TileSize, img.Bounds().Dy())
}

func TestFetchPanoramaClipsOnRequest(t *testing.T) {
	white := tilePayload(t, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	black := tilePayload(t, color.RGBA{A: 255})

	svc, _ := testService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := white
		if r.URL.Query().Get("x") == "1" {
			payload = black
		}
		w.Write(payload) //nolint:errcheck
	}))

	opts := TileOptions{Zoom: 1, HTiles: 2, VTiles: 1, Clip: true}
	img, err := svc.FetchPanorama(context.Background(), "p", opts)
	require.NoError(t, err)
	assert.Equal(t, TileSize, img.Bounds().Dx())
}
