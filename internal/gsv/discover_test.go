package gsv

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streetscope/svi-cli/internal/fetcher"
	"github.com/streetscope/svi-cli/internal/netpool"
)

func testService(t *testing.T, handler http.Handler) (*Service, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := fetcher.New(netpool.New(nil, []string{"test-agent"}), fetcher.Options{DisableProxies: true})
	svc := NewService(client, "test-key")
	svc.DiscoverURL = srv.URL + "/search"
	svc.MetadataURL = srv.URL + "/metadata"
	svc.TileURL = srv.URL + "/tile"
	return svc, srv
}

const searchBody = `[1,"PANOAAAAAAAAAAAAAAAAAA"],x[[null,null,35.100000,139.200000]` +
	`[2,"PANOBBBBBBBBBBBBBBBBBB"],x[[null,null,35.110000,139.210000]` +
	`[3,"PANOAAAAAAAAAAAAAAAAAA"],x[[null,null,35.100000,139.200000]` +
	`[2020,7]`

func TestParseSearchResponse(t *testing.T) {
	panos := parseSearchResponse([]byte(searchBody))

	// Duplicate panoid collapsed to the first occurrence.
	require.Len(t, panos, 2)
	assert.Equal(t, "PANOAAAAAAAAAAAAAAAAAA", panos[0].PanoID)
	assert.InDelta(t, 35.1, panos[0].Lat, 1e-9)
	assert.InDelta(t, 139.2, panos[0].Lon, 1e-9)

	// The single trailing date belongs to the last pano.
	assert.Equal(t, 0, panos[0].Year)
	assert.Equal(t, 2020, panos[1].Year)
	assert.Equal(t, 7, panos[1].Month)
}

func TestParseSearchResponseNoPanos(t *testing.T) {
	assert.Empty(t, parseSearchResponse([]byte(`{"error":"nothing here"}`)))
}

func TestFindPanos(t *testing.T) {
	var gotPB string
	svc, _ := testService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPB = r.URL.Query().Get("pb")
		w.Write([]byte(searchBody)) //nolint:errcheck
	}))

	panos, err := svc.FindPanos(context.Background(), 35.1, 139.2)
	require.NoError(t, err)
	assert.Len(t, panos, 2)
	assert.Contains(t, gotPB, "3d35.100000")
	assert.Contains(t, gotPB, "4d139.200000")
}

func TestFindPanosRetriesTransient(t *testing.T) {
	calls := 0
	svc, _ := testService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(searchBody)) //nolint:errcheck
	}))

	panos, err := svc.FindPanos(context.Background(), 35.1, 139.2)
	require.NoError(t, err)
	assert.Len(t, panos, 2)
	assert.Equal(t, 2, calls)
}
