package mly

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThumbnailURL(t *testing.T) {
	svc := testService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/12345", r.URL.Path)
		assert.Equal(t, "thumb_2048_url", r.URL.Query().Get("fields"))
		fmt.Fprint(w, `{"thumb_2048_url":"https://cdn.example/i.jpg","id":"12345"}`)
	}))

	u, err := svc.ThumbnailURL(context.Background(), "12345", 2048)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/i.jpg", u)
}

func TestThumbnailURLInvalidResolution(t *testing.T) {
	svc := testService(t, http.NotFoundHandler())
	_, err := svc.ThumbnailURL(context.Background(), "12345", 512)
	assert.Error(t, err)
}

func TestThumbnailURLMissingField(t *testing.T) {
	svc := testService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"12345"}`)
	}))
	_, err := svc.ThumbnailURL(context.Background(), "12345", 1024)
	assert.Error(t, err)
}

func TestValidResolution(t *testing.T) {
	assert.True(t, ValidResolution(256))
	assert.True(t, ValidResolution(1024))
	assert.True(t, ValidResolution(2048))
	assert.False(t, ValidResolution(512))
	assert.False(t, ValidResolution(0))
}
