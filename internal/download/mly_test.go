package download

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streetscope/svi-cli/internal/checkpoint"
	"github.com/streetscope/svi-cli/internal/fetcher"
	"github.com/streetscope/svi-cli/internal/mly"
	"github.com/streetscope/svi-cli/internal/netpool"
	"github.com/streetscope/svi-cli/internal/resolver"
)

type mlyCounters struct {
	images atomic.Int32
	thumbs atomic.Int32
	fetch  atomic.Int32
}

func thumbJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{G: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func newMLYEnv(t *testing.T) (*MLYDownloader, *mlyCounters, string) {
	t.Helper()
	counters := &mlyCounters{}
	payload := thumbJPEG(t)

	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/images", func(w http.ResponseWriter, r *http.Request) {
		counters.images.Add(1)
		fmt.Fprint(w, `{"data":[
			{"id":"111","captured_at":1577836800000,"compass_angle":90,"is_pano":false,
			 "organization_id":42,"sequence_id":"seq-1",
			 "geometry":{"type":"Point","coordinates":[139.2,35.1]}}
		]}`)
	})
	mux.HandleFunc("/111", func(w http.ResponseWriter, r *http.Request) {
		counters.thumbs.Add(1)
		fmt.Fprintf(w, `{"thumb_1024_url":"%s/img.jpg","id":"111"}`, srvURL)
	})
	mux.HandleFunc("/img.jpg", func(w http.ResponseWriter, r *http.Request) {
		counters.fetch.Add(1)
		w.Write(payload) //nolint:errcheck
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	srvURL = srv.URL

	client := fetcher.New(netpool.New(nil, []string{"test-agent"}), fetcher.Options{DisableProxies: true})
	svc := mly.NewService(client, "test-token")
	svc.BaseURL = srv.URL

	dir := t.TempDir()
	dl := NewMLY(Config{Dir: dir, BatchSize: 10, MaxWorkers: 2}, svc, resolver.New(resolver.Config{}, nil))
	return dl, counters, dir
}

func mlyOptions() MLYOptions {
	lat, lon := 35.1, 139.2
	return MLYOptions{
		Input:      resolver.Input{Lat: &lat, Lon: &lon},
		Resolution: 1024,
	}
}

func TestMLYDownloadEndToEnd(t *testing.T) {
	dl, counters, dir := newMLYEnv(t)

	require.NoError(t, dl.DownloadSVI(context.Background(), mlyOptions()))

	pid, err := checkpoint.ReadFile(filepath.Join(dir, "mly_pids.csv"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"id", "captured_at", "compass_angle", "is_pano", "organization_id", "sequence_id",
		"input_latitude", "input_longitude", "lon", "lat",
	}, pid.Header)
	require.Equal(t, 1, pid.Len())
	row := pid.Rows[0]
	assert.Equal(t, "111", pid.Cell(row, "id"))
	assert.Equal(t, "1577836800000", pid.Cell(row, "captured_at"))
	assert.Equal(t, "false", pid.Cell(row, "is_pano"))
	assert.Equal(t, "42", pid.Cell(row, "organization_id"))
	assert.Equal(t, "seq-1", pid.Cell(row, "sequence_id"))

	urls, err := checkpoint.ReadFile(filepath.Join(dir, "pids_urls.csv"))
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "url"}, urls.Header)
	require.Equal(t, 1, urls.Len())

	// Uncropped bytes pass through untouched, under the .png name.
	imgPath := filepath.Join(dir, "mly_svi", "batch_1", "111.png")
	require.FileExists(t, imgPath)
	data, err := os.ReadFile(imgPath)
	require.NoError(t, err)
	assert.Equal(t, thumbJPEG(t), data)

	assert.Equal(t, int32(1), counters.images.Load())
	assert.Equal(t, int32(1), counters.thumbs.Load())
	assert.Equal(t, int32(1), counters.fetch.Load())
	assert.NoDirExists(t, filepath.Join(dir, "cache_zensvi"))
}

func TestMLYCroppedSavesPNG(t *testing.T) {
	dl, _, dir := newMLYEnv(t)
	opts := mlyOptions()
	opts.Cropped = true

	require.NoError(t, dl.DownloadSVI(context.Background(), opts))

	imgPath := filepath.Join(dir, "mly_svi", "batch_1", "111.png")
	require.FileExists(t, imgPath)
	f, err := os.Open(imgPath)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 16, img.Bounds().Dy())
}

func TestMLYDateWindowFiltersFetchNotPIDTable(t *testing.T) {
	dl, counters, dir := newMLYEnv(t)
	opts := mlyOptions()
	// The single fixture image was captured 2020-01-01; a 2021 window
	// leaves nothing to fetch, but the pid table keeps the row.
	opts.StartDate = "2021-01-01"
	opts.EndDate = "2021-12-31"

	require.NoError(t, dl.DownloadSVI(context.Background(), opts))

	pid, err := checkpoint.ReadFile(filepath.Join(dir, "mly_pids.csv"))
	require.NoError(t, err)
	assert.Equal(t, 1, pid.Len())
	assert.NoDirExists(t, filepath.Join(dir, "mly_svi"))
	assert.Equal(t, int32(0), counters.fetch.Load())
}

func TestMLYDateWindowAppliesToExistingPIDTable(t *testing.T) {
	dl, counters, dir := newMLYEnv(t)
	require.NoError(t, dl.DownloadSVI(context.Background(), mlyOptions()))

	imgPath := filepath.Join(dir, "mly_svi", "batch_1", "111.png")
	require.NoError(t, os.Remove(imgPath))

	opts := mlyOptions()
	opts.StartDate = "2021-01-01"
	opts.EndDate = "2021-12-31"
	require.NoError(t, dl.DownloadSVI(context.Background(), opts))

	// Discovery was skipped, yet the out-of-window image is not re-fetched.
	assert.Equal(t, int32(1), counters.images.Load())
	assert.Equal(t, int32(1), counters.fetch.Load())
	assert.NoFileExists(t, imgPath)
}

func TestMLYURLFailuresReachFailureLog(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/images", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[
			{"id":"111","captured_at":1577836800000,"compass_angle":90,"is_pano":false,
			 "organization_id":42,"sequence_id":"seq-1",
			 "geometry":{"type":"Point","coordinates":[139.2,35.1]}}
		]}`)
	})
	mux.HandleFunc("/111", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := fetcher.New(netpool.New(nil, []string{"test-agent"}), fetcher.Options{DisableProxies: true})
	svc := mly.NewService(client, "test-token")
	svc.BaseURL = srv.URL

	dir := t.TempDir()
	logPath := filepath.Join(dir, "failed.txt")
	dl := NewMLY(Config{Dir: dir, BatchSize: 10, MaxWorkers: 2, LogPath: logPath}, svc, resolver.New(resolver.Config{}, nil))

	require.NoError(t, dl.DownloadSVI(context.Background(), mlyOptions()))

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "111\n", string(data))
}

func TestMLYMissingToken(t *testing.T) {
	client := fetcher.New(netpool.New(nil, []string{"ua"}), fetcher.Options{DisableProxies: true})
	svc := mly.NewService(client, "")
	dl := NewMLY(Config{Dir: t.TempDir()}, svc, resolver.New(resolver.Config{}, nil))

	err := dl.DownloadSVI(context.Background(), mlyOptions())
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestMLYInvalidResolution(t *testing.T) {
	dl, _, _ := newMLYEnv(t)
	opts := mlyOptions()
	opts.Resolution = 512

	err := dl.DownloadSVI(context.Background(), opts)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
