package download

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Cache artifact names. The augmented pid filename keeps its historical
// spelling; existing caches in the wild are written under it.
const (
	cacheDirName     = "cache_zensvi"
	latLonName       = "lat_lon.csv"
	rawShardDirName  = "raw_pids"
	augShardDirName  = "augmented_pids"
	urlShardDirName  = "urls"
	rawMergedName    = "pids_raw.csv"
	augMergedName    = "pids_augemented.csv"
	batchDirTemplate = "batch_%d"
)

// layout resolves every on-disk path of one run.
type layout struct {
	root     string
	cacheDir string
}

func newLayout(dir string) (*layout, error) {
	l := &layout{root: dir, cacheDir: filepath.Join(dir, cacheDirName)}
	if err := os.MkdirAll(l.cacheDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "download: mkdir %s", l.cacheDir)
	}
	return l, nil
}

func (l *layout) latLonCache() string   { return filepath.Join(l.cacheDir, latLonName) }
func (l *layout) rawShardDir() string   { return filepath.Join(l.cacheDir, rawShardDirName) }
func (l *layout) augShardDir() string   { return filepath.Join(l.cacheDir, augShardDirName) }
func (l *layout) urlShardDir() string   { return filepath.Join(l.cacheDir, urlShardDirName) }
func (l *layout) rawMergedPath() string { return filepath.Join(l.cacheDir, rawMergedName) }
func (l *layout) augMergedPath() string { return filepath.Join(l.cacheDir, augMergedName) }

// removeCache deletes the cache directory. Called only after the run fully
// succeeded; an interrupted run keeps it for resume.
func (l *layout) removeCache() error {
	return eris.Wrapf(os.RemoveAll(l.cacheDir), "download: remove cache %s", l.cacheDir)
}

var batchDirPattern = regexp.MustCompile(`^batch_([0-9]+)$`)

// maxBatchNumber scans dir for batch_{N} subdirectories and returns the
// highest N, or 0 when none exist. New batches number from there.
func maxBatchNumber(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "download: read %s", dir)
	}
	max := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := batchDirPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > max {
			max = n
		}
	}
	return max, nil
}

func batchDir(imageDir string, n int) string {
	return filepath.Join(imageDir, fmt.Sprintf(batchDirTemplate, n))
}

// existingStems walks dir recursively and collects filename stems, the pano
// ids already downloaded by earlier runs.
func existingStems(dir string) (map[string]struct{}, error) {
	stems := make(map[string]struct{})
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		stems[strings.TrimSuffix(name, filepath.Ext(name))] = struct{}{}
		return nil
	})
	if os.IsNotExist(err) {
		return stems, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "download: scan %s", dir)
	}
	return stems, nil
}
