// Package download orchestrates the full ingestion pipeline for one
// provider: input resolution, panorama discovery, metadata or URL
// augmentation, and the image fetch, with per-stage resumable checkpoints
// under the cache directory.
package download

import (
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/streetscope/svi-cli/internal/resolver"
)

// ErrMissingCredential reports an operation that needs an API key or token
// the caller did not supply.
var ErrMissingCredential = errors.New("missing credential")

// ErrInvalidInput aliases the resolver's sentinel so callers match one
// error for every input problem, dates included.
var ErrInvalidInput = resolver.ErrInvalidInput

// Config carries the knobs shared by both providers.
type Config struct {
	// Dir is the output root. The cache directory, pid tables and image
	// batches all live under it.
	Dir string

	// BatchSize is items per checkpoint shard and per image batch
	// directory. 0 means the pipeline default.
	BatchSize int

	// MaxWorkers bounds stage concurrency. 0 means the pipeline default.
	MaxWorkers int

	// LogPath, when set, receives one line per pano id that still failed
	// after the retry sweep.
	LogPath string

	// Distance is the sampling spacing in meters for line and polygon
	// inputs.
	Distance float64

	// Grid switches polygon densification to a lattice of GridSize meters.
	Grid     bool
	GridSize float64
}

const dateLayout = "2006-01-02"

// parseDate validates an optional YYYY-MM-DD bound. Empty means unset.
func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, eris.Wrapf(ErrInvalidInput, "date %q is not YYYY-MM-DD", s)
	}
	return &t, nil
}
