package download

import (
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"

	"github.com/streetscope/svi-cli/internal/checkpoint"
	"github.com/streetscope/svi-cli/internal/pipeline"
	"github.com/streetscope/svi-cli/internal/spatial"
)

// collector buffers rows produced by one batch's workers until the flush
// writes them as a shard.
type collector struct {
	mu sync.Mutex
	t  *checkpoint.Table
}

func newCollector(header ...string) *collector {
	return &collector{t: checkpoint.NewTable(header...)}
}

func (c *collector) append(row []string) {
	c.mu.Lock()
	c.t.Append(row)
	c.mu.Unlock()
}

// drain returns the buffered table and resets the buffer for the next
// batch.
func (c *collector) drain() *checkpoint.Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.t
	c.t = checkpoint.NewTable(out.Header...)
	return out
}

// completedValues merges a stage's existing shards and collects the values
// of one column. Resuming runs subtract these from their work list.
func completedValues(store *checkpoint.Store, col string) (map[string]struct{}, error) {
	t, err := store.Merge()
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, t.Len())
	for _, row := range t.Rows {
		if v := t.Cell(row, col); v != "" {
			out[v] = struct{}{}
		}
	}
	return out, nil
}

// assignBatchDirs maps each id onto a batch directory, numbering past the
// highest batch already present, and creates the directories.
func assignBatchDirs(imageDir string, ids []string, batchSize int) ([]fetchItem, error) {
	if batchSize <= 0 {
		batchSize = pipeline.DefaultBatchSize
	}
	startBatch, err := maxBatchNumber(imageDir)
	if err != nil {
		return nil, err
	}

	items := make([]fetchItem, 0, len(ids))
	for i, id := range ids {
		dir := batchDir(imageDir, startBatch+i/batchSize+1)
		if i%batchSize == 0 {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, eris.Wrapf(err, "download: mkdir %s", dir)
			}
		}
		items = append(items, fetchItem{id: id, dir: dir})
	}
	return items, nil
}

// writeImageFile creates path and streams the encoded image into it. A
// failed encode removes the partial file so the resume scan will not count
// it as done.
func writeImageFile(path string, encode func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "download: create %s", path)
	}
	if err := encode(f); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return eris.Wrapf(err, "download: write %s", path)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return eris.Wrapf(err, "download: close %s", path)
	}
	return nil
}

// filterByGeometry keeps rows whose coordinate columns fall inside the
// input polygons. Rows with unparseable coordinates are dropped.
func filterByGeometry(t *checkpoint.Table, idx *spatial.Index, latCol, lonCol string) *checkpoint.Table {
	if idx == nil || idx.Empty() {
		return t
	}
	out := checkpoint.NewTable(t.Header...)
	for _, row := range t.Rows {
		lat, err1 := strconv.ParseFloat(t.Cell(row, latCol), 64)
		lon, err2 := strconv.ParseFloat(t.Cell(row, lonCol), 64)
		if err1 != nil || err2 != nil {
			continue
		}
		if idx.Contains(orb.Point{lon, lat}) {
			out.Append(row)
		}
	}
	return out
}
