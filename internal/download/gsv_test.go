package download

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
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
	"github.com/streetscope/svi-cli/internal/gsv"
	"github.com/streetscope/svi-cli/internal/netpool"
	"github.com/streetscope/svi-cli/internal/resolver"
)

const testPanoID = "TESTPANOAAAAAAAAAAAAAA"

type gsvCounters struct {
	search   atomic.Int32
	metadata atomic.Int32
	tiles    atomic.Int32
}

func tileJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, gsv.TileSize, gsv.TileSize))
	for y := 0; y < gsv.TileSize; y++ {
		for x := 0; x < gsv.TileSize; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// newGSVEnv stands up a fake Street View backend and a downloader wired to
// it.
func newGSVEnv(t *testing.T) (*GSVDownloader, *gsvCounters, string) {
	t.Helper()
	counters := &gsvCounters{}
	tile := tileJPEG(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		counters.search.Add(1)
		fmt.Fprintf(w, `[1,"%s"],x[[null,null,35.100000,139.200000]`, testPanoID)
	})
	mux.HandleFunc("/metadata", func(w http.ResponseWriter, r *http.Request) {
		counters.metadata.Add(1)
		fmt.Fprint(w, `{"status":"OK","date":"2019-07"}`)
	})
	mux.HandleFunc("/tile", func(w http.ResponseWriter, r *http.Request) {
		counters.tiles.Add(1)
		w.Write(tile) //nolint:errcheck
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := fetcher.New(netpool.New(nil, []string{"test-agent"}), fetcher.Options{DisableProxies: true})
	svc := gsv.NewService(client, "test-key")
	svc.DiscoverURL = srv.URL + "/search"
	svc.MetadataURL = srv.URL + "/metadata"
	svc.TileURL = srv.URL + "/tile"

	dir := t.TempDir()
	dl := NewGSV(Config{Dir: dir, BatchSize: 10, MaxWorkers: 2}, svc, resolver.New(resolver.Config{}, nil))
	return dl, counters, dir
}

func gsvOptions() GSVOptions {
	lat, lon := 35.1, 139.2
	return GSVOptions{
		Input:           resolver.Input{Lat: &lat, Lon: &lon},
		AugmentMetadata: true,
		Tiles:           gsv.TileOptions{Zoom: 1, HTiles: 2, VTiles: 1},
	}
}

func TestGSVDownloadEndToEnd(t *testing.T) {
	dl, counters, dir := newGSVEnv(t)

	require.NoError(t, dl.DownloadSVI(context.Background(), gsvOptions()))

	pid, err := checkpoint.ReadFile(filepath.Join(dir, "gsv_pids.csv"))
	require.NoError(t, err)
	assert.Equal(t, []string{"panoid", "lat", "lon", "year", "month", "input_latitude", "input_longitude"}, pid.Header)
	require.Equal(t, 1, pid.Len())
	row := pid.Rows[0]
	assert.Equal(t, testPanoID, pid.Cell(row, "panoid"))
	assert.Equal(t, "2019", pid.Cell(row, "year"))
	assert.Equal(t, "7", pid.Cell(row, "month"))
	assert.Equal(t, "35.1", pid.Cell(row, "input_latitude"))

	imgPath := filepath.Join(dir, "gsv_panorama", "batch_1", testPanoID+".jpg")
	require.FileExists(t, imgPath)
	f, err := os.Open(imgPath)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck
	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 2*gsv.TileSize, img.Bounds().Dx())
	assert.Equal(t, gsv.TileSize, img.Bounds().Dy())

	assert.Equal(t, int32(1), counters.search.Load())
	assert.Equal(t, int32(1), counters.metadata.Load())
	assert.Equal(t, int32(2), counters.tiles.Load())

	// Full success removes the cache directory.
	assert.NoDirExists(t, filepath.Join(dir, "cache_zensvi"))
}

func TestGSVSecondRunIsIdle(t *testing.T) {
	dl, counters, _ := newGSVEnv(t)
	opts := gsvOptions()

	require.NoError(t, dl.DownloadSVI(context.Background(), opts))
	require.NoError(t, dl.DownloadSVI(context.Background(), opts))

	// pid table present and images on disk: no discovery, no tiles.
	assert.Equal(t, int32(1), counters.search.Load())
	assert.Equal(t, int32(2), counters.tiles.Load())
}

func TestGSVMetadataOnlySkipsImages(t *testing.T) {
	dl, counters, dir := newGSVEnv(t)
	opts := gsvOptions()
	opts.MetadataOnly = true

	require.NoError(t, dl.DownloadSVI(context.Background(), opts))

	assert.FileExists(t, filepath.Join(dir, "gsv_pids.csv"))
	assert.NoDirExists(t, filepath.Join(dir, "gsv_panorama"))
	assert.Equal(t, int32(0), counters.tiles.Load())
}

func TestGSVPrecomputedPIDFileSkipsDiscovery(t *testing.T) {
	dl, counters, dir := newGSVEnv(t)

	pidFile := filepath.Join(dir, "precomputed.csv")
	tab := checkpoint.NewTable("panoid")
	tab.Append([]string{testPanoID})
	require.NoError(t, tab.WriteFile(pidFile))

	opts := gsvOptions()
	opts.PIDFile = pidFile
	require.NoError(t, dl.DownloadSVI(context.Background(), opts))

	assert.Equal(t, int32(0), counters.search.Load())
	assert.FileExists(t, filepath.Join(dir, "gsv_panorama", "batch_1", testPanoID+".jpg"))
}

func TestGSVDateWindowFiltersFetchNotPIDTable(t *testing.T) {
	dl, counters, dir := newGSVEnv(t)
	opts := gsvOptions()
	// The fixture pano is dated 2019-07; a 2021 window leaves nothing to
	// fetch, but the pid table keeps the row.
	opts.StartDate = "2021-01-01"
	opts.EndDate = "2021-12-31"

	require.NoError(t, dl.DownloadSVI(context.Background(), opts))

	pid, err := checkpoint.ReadFile(filepath.Join(dir, "gsv_pids.csv"))
	require.NoError(t, err)
	require.Equal(t, 1, pid.Len())
	assert.Equal(t, "2019", pid.Cell(pid.Rows[0], "year"))
	assert.NoDirExists(t, filepath.Join(dir, "gsv_panorama"))
	assert.Equal(t, int32(0), counters.tiles.Load())
}

func TestGSVDateWindowAppliesToExistingPIDTable(t *testing.T) {
	dl, counters, dir := newGSVEnv(t)
	require.NoError(t, dl.DownloadSVI(context.Background(), gsvOptions()))

	imgPath := filepath.Join(dir, "gsv_panorama", "batch_1", testPanoID+".jpg")
	require.NoError(t, os.Remove(imgPath))

	opts := gsvOptions()
	opts.StartDate = "2021-01-01"
	opts.EndDate = "2021-12-31"
	require.NoError(t, dl.DownloadSVI(context.Background(), opts))

	// Discovery was skipped, yet the out-of-window pano is not re-fetched.
	assert.Equal(t, int32(1), counters.search.Load())
	assert.Equal(t, int32(2), counters.tiles.Load())
	assert.NoFileExists(t, imgPath)
}

func TestGSVInvalidDate(t *testing.T) {
	dl, _, _ := newGSVEnv(t)
	opts := gsvOptions()
	opts.StartDate = "01-2020"

	err := dl.DownloadSVI(context.Background(), opts)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGSVAugmentWithoutKey(t *testing.T) {
	client := fetcher.New(netpool.New(nil, []string{"ua"}), fetcher.Options{DisableProxies: true})
	svc := gsv.NewService(client, "")
	dl := NewGSV(Config{Dir: t.TempDir()}, svc, resolver.New(resolver.Config{}, nil))

	opts := gsvOptions()
	err := dl.DownloadSVI(context.Background(), opts)
	assert.ErrorIs(t, err, ErrMissingCredential)
}
