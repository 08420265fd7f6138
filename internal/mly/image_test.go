package mly

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestFetchImagePassthrough(t *testing.T) {
	payload := jpegBytes(t, 64, 32)
	svc := testService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload) //nolint:errcheck
	}))

	body, err := svc.FetchImage(context.Background(), svc.BaseURL+"/thumb.jpg", false)
	require.NoError(t, err)
	assert.Equal(t, payload, body)
}

func TestFetchImageCroppedIsTopHalfPNG(t *testing.T) {
	svc := testService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(jpegBytes(t, 64, 32)) //nolint:errcheck
	}))

	body, err := svc.FetchImage(context.Background(), svc.BaseURL+"/thumb.jpg", true)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 16, img.Bounds().Dy())
}

func TestFetchImageBadPayloadWithCrop(t *testing.T) {
	svc := testService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not an image")) //nolint:errcheck
	}))

	_, err := svc.FetchImage(context.Background(), svc.BaseURL+"/thumb.jpg", true)
	assert.Error(t, err)
}
