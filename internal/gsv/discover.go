package gsv

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/streetscope/svi-cli/internal/fetcher"
	"github.com/streetscope/svi-cli/internal/resilience"
)

// Pano is one discovered panorama. Year/Month are zero when the response
// carried no capture date for the pano.
type Pano struct {
	PanoID string
	Lat    float64
	Lon    float64
	Year   int
	Month  int
}

// The SingleImageSearch payload is JSON wrapped in a JS callback; pano
// entries and capture dates are extracted positionally, the way the
// unofficial clients for this endpoint always have.
var (
	panoPattern = regexp.MustCompile(`\[[0-9]+,"([A-Za-z0-9_\-]{22})"\].+?\[\[null,null,(-?[0-9]+\.[0-9]+),(-?[0-9]+\.[0-9]+)`)
	datePattern = regexp.MustCompile(`([0-9]?[0-9]?[0-9])?,?\[(20[0-9][0-9]),([0-9]+)\]`)
)

// FindPanos discovers panoramas near (lat, lon). Transport failures retry
// with a fresh proxy per attempt, bounded by the discovery retry policy.
func (s *Service) FindPanos(ctx context.Context, lat, lon float64) ([]Pano, error) {
	url := s.DiscoverURL + "?pb=" + searchPayload(lat, lon)

	cfg := resilience.DiscoveryRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("discover", "gsv pano search")

	body, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		return s.client.Get(ctx, url, fetcher.MetadataTimeout)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "gsv: pano search at (%f, %f)", lat, lon)
	}

	return parseSearchResponse(body), nil
}

// searchPayload builds the protobuf-ish pb parameter for a radius search
// around the coordinate.
func searchPayload(lat, lon float64) string {
	return fmt.Sprintf(
		"!1m5!1sapiv3!5sUS!11m2!1m1!1b0!2m4!1m2!3d%.6f!4d%.6f!2d50!3m18"+
			"!2m2!1sen!2sUS!9m1!1e2!11m12!1m3!1e2!2b1!3e2!1m3!1e3!2b1!3e2"+
			"!2b1!4b1!4m10!1e1!1e2!1e3!1e4!1e8!1e6!5m1!1e2!6m1!1e2",
		lat, lon)
}

// parseSearchResponse extracts pano records and aligns trailing capture
// dates. The endpoint reports dates only for the most recent panoramas; the
// date list lines up with the tail of the pano list.
func parseSearchResponse(body []byte) []Pano {
	text := string(body)

	var panos []Pano
	seen := make(map[string]struct{})
	for _, m := range panoPattern.FindAllStringSubmatch(text, -1) {
		id := m[1]
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		lat, _ := strconv.ParseFloat(m[2], 64)
		lon, _ := strconv.ParseFloat(m[3], 64)
		panos = append(panos, Pano{PanoID: id, Lat: lat, Lon: lon})
	}

	dates := datePattern.FindAllStringSubmatch(text, -1)
	if n := len(dates); n > 0 && n <= len(panos) {
		offset := len(panos) - n
		for i, d := range dates {
			year, _ := strconv.Atoi(d[2])
			month, _ := strconv.Atoi(d[3])
			panos[offset+i].Year = year
			panos[offset+i].Month = month
		}
	}

	return panos
}
