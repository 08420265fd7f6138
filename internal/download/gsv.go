package download

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/streetscope/svi-cli/internal/checkpoint"
	"github.com/streetscope/svi-cli/internal/fetcher"
	"github.com/streetscope/svi-cli/internal/gsv"
	"github.com/streetscope/svi-cli/internal/pipeline"
	"github.com/streetscope/svi-cli/internal/resolver"
	"github.com/streetscope/svi-cli/internal/spatial"
)

// Street View column names, in pid-table order.
const (
	colPanoID   = "panoid"
	colLat      = "lat"
	colLon      = "lon"
	colYear     = "year"
	colMonth    = "month"
	colInputLat = "input_latitude"
	colInputLon = "input_longitude"
)

const (
	gsvPIDName  = "gsv_pids.csv"
	gsvImageDir = "gsv_panorama"
)

// GSVOptions selects the input and behavior of one Street View run.
type GSVOptions struct {
	Input resolver.Input

	// PIDFile, when set and present, is a pre-computed pid table; discovery
	// is skipped entirely.
	PIDFile string

	// PIDPath overrides where the pid table is written. Defaults to
	// gsv_pids.csv under the output root.
	PIDPath string

	// AugmentMetadata fills missing capture dates through the official
	// metadata endpoint. Requires an API key.
	AugmentMetadata bool

	// StartDate and EndDate bound capture dates, inclusive, as YYYY-MM-DD.
	StartDate, EndDate string

	// UpdatePIDs forces re-discovery even when the pid table already exists.
	UpdatePIDs bool

	// MetadataOnly stops after the pid table; no images are fetched.
	MetadataOnly bool

	Tiles gsv.TileOptions
}

// GSVDownloader runs the Street View pipeline end to end.
type GSVDownloader struct {
	cfg Config
	svc *gsv.Service
	res *resolver.Resolver
	enc gsv.Encoder
}

// NewGSV wires a downloader from its collaborators.
func NewGSV(cfg Config, svc *gsv.Service, res *resolver.Resolver) *GSVDownloader {
	return &GSVDownloader{cfg: cfg, svc: svc, res: res, enc: gsv.JPEGEncoder{}}
}

// DownloadSVI resolves the input, discovers and augments panorama ids, and
// fetches the panoramas. Every stage resumes from the cache directory; the
// cache is removed only after the whole run succeeds.
func (d *GSVDownloader) DownloadSVI(ctx context.Context, opts GSVOptions) error {
	start, err := parseDate(opts.StartDate)
	if err != nil {
		return err
	}
	end, err := parseDate(opts.EndDate)
	if err != nil {
		return err
	}
	if opts.AugmentMetadata && !d.svc.HasKey() {
		return eris.Wrap(ErrMissingCredential, "gsv: metadata augmentation needs an api key")
	}

	lay, err := newLayout(d.cfg.Dir)
	if err != nil {
		return err
	}

	pidPath := opts.PIDPath
	if pidPath == "" {
		pidPath = filepath.Join(d.cfg.Dir, gsvPIDName)
	}

	pidSource := pidPath
	switch {
	case opts.PIDFile != "" && fileExists(opts.PIDFile):
		zap.L().Info("using pre-computed pid table", zap.String("path", opts.PIDFile))
		pidSource = opts.PIDFile

	case fileExists(pidPath) && !opts.UpdatePIDs:
		zap.L().Info("pid table already exists, skipping discovery",
			zap.String("path", pidPath))

	default:
		if err := d.discoverPIDs(ctx, lay, opts, pidPath); err != nil {
			return err
		}
	}

	if !opts.MetadataOnly {
		if err := d.downloadImages(ctx, pidSource, opts.Tiles, start, end); err != nil {
			return err
		}
	}

	return lay.removeCache()
}

// discoverPIDs runs discovery and augmentation and writes the pid table.
// Date bounds do not apply here: the table keeps every pano so it stays
// reusable across runs with different windows.
func (d *GSVDownloader) discoverPIDs(ctx context.Context, lay *layout, opts GSVOptions, pidPath string) error {
	resolved, err := d.res.Resolve(ctx, opts.Input, lay.latLonCache())
	if err != nil {
		return err
	}

	rawStore, err := checkpoint.NewStore(lay.rawShardDir())
	if err != nil {
		return err
	}
	startShard, err := rawStore.ShardCount()
	if err != nil {
		return err
	}
	done, err := completedValues(rawStore, resolver.ColLatLonID)
	if err != nil {
		return err
	}

	points := make([]resolver.QueryPoint, 0, len(resolved.Points))
	for _, p := range resolved.Points {
		if _, ok := done[strconv.Itoa(p.LatLonID)]; !ok {
			points = append(points, p)
		}
	}
	zap.L().Info("discovering panoramas",
		zap.Int("points", len(points)),
		zap.Int("resumed", len(resolved.Points)-len(points)),
	)

	header := append(
		[]string{colPanoID, colLat, colLon, colYear, colMonth, colInputLat, colInputLon, resolver.ColLatLonID},
		resolved.IDColumns...)
	col := newCollector(header...)

	task := func(ctx context.Context, pt resolver.QueryPoint) error {
		panos, err := d.svc.FindPanos(ctx, pt.Lat, pt.Lon)
		if err != nil {
			return err
		}
		for _, p := range panos {
			col.append(gsvRawRow(p, pt, resolved.IDColumns))
		}
		return nil
	}

	runner := pipeline.Runner[resolver.QueryPoint]{
		Stage:     "discover",
		BatchSize: d.cfg.BatchSize,
		Workers:   d.cfg.MaxWorkers,
	}
	failed, err := runner.Run(ctx, points, startShard, task, func(shard int) error {
		return rawStore.WriteShard(shard, col.drain())
	})
	if err != nil {
		return err
	}
	err = runner.Sweep(ctx, failed, task, func() error {
		t := col.drain()
		if t.Len() == 0 {
			return nil
		}
		return rawStore.WriteRetry(t)
	})
	if err != nil {
		return err
	}

	raw, err := rawStore.Merge()
	if err != nil {
		return err
	}
	if raw.Len() == 0 {
		return eris.New("gsv: no panoramas found for the given input")
	}
	if err := raw.WriteFile(lay.rawMergedPath()); err != nil {
		return err
	}

	if resolved.HasPolygons() {
		before := raw.Len()
		raw = filterByGeometry(raw, spatial.NewIndex(resolved.Geometries), colLat, colLon)
		zap.L().Info("filtered panoramas to input polygons",
			zap.Int("kept", raw.Len()),
			zap.Int("dropped", before-raw.Len()),
		)
	}

	table := raw
	if opts.AugmentMetadata {
		table, err = d.augment(ctx, lay, raw)
		if err != nil {
			return err
		}
	}

	table.DedupBy(append([]string{colPanoID}, resolved.IDColumns...)...)
	table.DropColumn(resolver.ColLatLonID)
	table.Project(append(
		[]string{colPanoID, colLat, colLon, colYear, colMonth, colInputLat, colInputLon},
		resolved.IDColumns...)...)

	if err := table.WriteFile(pidPath); err != nil {
		return err
	}
	zap.L().Info("pid table written",
		zap.String("path", pidPath),
		zap.Int("rows", table.Len()),
	)
	return nil
}

// augment fills missing capture dates. Rows that already carry a year pass
// through; a pano whose metadata cannot be fetched even in the retry sweep
// keeps its null date rather than dropping out of the table.
func (d *GSVDownloader) augment(ctx context.Context, lay *layout, raw *checkpoint.Table) (*checkpoint.Table, error) {
	augStore, err := checkpoint.NewStore(lay.augShardDir())
	if err != nil {
		return nil, err
	}
	startShard, err := augStore.ShardCount()
	if err != nil {
		return nil, err
	}
	done, err := completedValues(augStore, colPanoID)
	if err != nil {
		return nil, err
	}

	type item struct {
		id  string
		row []string
	}
	passthrough := checkpoint.NewTable(raw.Header...)
	var items []item
	for _, row := range raw.Rows {
		if raw.Cell(row, colYear) != "" {
			passthrough.Append(row)
			continue
		}
		id := raw.Cell(row, colPanoID)
		if _, ok := done[id]; ok {
			continue
		}
		items = append(items, item{id: id, row: row})
	}
	zap.L().Info("augmenting capture dates",
		zap.Int("panos", len(items)),
		zap.Int("resumed", len(done)),
	)

	col := newCollector(raw.Header...)
	yearIdx, monthIdx := raw.Col(colYear), raw.Col(colMonth)
	emit := func(it item, year, month string) {
		row := append([]string(nil), it.row...)
		row[yearIdx], row[monthIdx] = year, month
		col.append(row)
	}

	task := func(ctx context.Context, it item) error {
		year, month, err := d.svc.PanoDate(ctx, it.id)
		if err != nil {
			return err
		}
		emit(it, year, month)
		return nil
	}

	runner := pipeline.Runner[item]{
		Stage:     "augment",
		BatchSize: d.cfg.BatchSize,
		Workers:   d.cfg.MaxWorkers,
	}
	failed, err := runner.Run(ctx, items, startShard, task, func(shard int) error {
		return augStore.WriteShard(shard, col.drain())
	})
	if err != nil {
		return nil, err
	}
	err = runner.Sweep(ctx, failed, func(ctx context.Context, it item) error {
		year, month, err := d.svc.PanoDate(ctx, it.id)
		if err != nil {
			emit(it, "", "")
			return err
		}
		emit(it, year, month)
		return nil
	}, func() error {
		t := col.drain()
		if t.Len() == 0 {
			return nil
		}
		return augStore.WriteRetry(t)
	})
	if err != nil {
		return nil, err
	}

	aug, err := augStore.Merge()
	if err != nil {
		return nil, err
	}
	if aug.Len() > 0 {
		if err := aug.WriteFile(lay.augMergedPath()); err != nil {
			return nil, err
		}
	}

	final := checkpoint.NewTable(raw.Header...)
	final.AppendTable(passthrough)
	final.AppendTable(aug)
	return final, nil
}

type fetchItem struct {
	id  string
	dir string
}

// downloadImages fetches and stitches every pano in the pid table that
// falls inside the date window and is not already on disk, filling batch
// directories numbered past the highest existing one.
func (d *GSVDownloader) downloadImages(ctx context.Context, pidPath string, tiles gsv.TileOptions, start, end *time.Time) error {
	t, err := checkpoint.ReadFile(pidPath)
	if err != nil {
		return err
	}
	before := t.Len()
	t = gsv.FilterByDate(t, start, end)
	if t.Len() < before {
		zap.L().Info("date window applied",
			zap.Int("kept", t.Len()),
			zap.Int("dropped", before-t.Len()),
		)
	}

	imageDir := filepath.Join(d.cfg.Dir, gsvImageDir)
	stems, err := existingStems(imageDir)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, t.Len())
	var ids []string
	for _, row := range t.Rows {
		id := t.Cell(row, colPanoID)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := stems[id]; ok {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		zap.L().Info("no panoramas left to download", zap.String("dir", imageDir))
		return nil
	}

	items, err := assignBatchDirs(imageDir, ids, d.cfg.BatchSize)
	if err != nil {
		return err
	}
	zap.L().Info("downloading panoramas",
		zap.Int("panos", len(ids)),
		zap.Int("skipped", len(seen)-len(ids)),
	)

	faillog, err := fetcher.OpenFailureLog(d.cfg.LogPath)
	if err != nil {
		return err
	}
	defer faillog.Close() //nolint:errcheck

	task := func(ctx context.Context, it fetchItem) error {
		img, err := d.svc.FetchPanorama(ctx, it.id, tiles)
		if err != nil {
			return err
		}
		return writeImageFile(filepath.Join(it.dir, it.id+".jpg"), func(w io.Writer) error {
			return d.enc.Encode(w, img)
		})
	}

	runner := pipeline.Runner[fetchItem]{
		Stage:     "download",
		BatchSize: d.cfg.BatchSize,
		Workers:   d.cfg.MaxWorkers,
	}
	failed, err := runner.Run(ctx, items, 0, task, nil)
	if err != nil {
		return err
	}
	return runner.Sweep(ctx, failed, func(ctx context.Context, it fetchItem) error {
		if err := task(ctx, it); err != nil {
			faillog.Append(it.id)
			return err
		}
		return nil
	}, nil)
}

// gsvRawRow builds one discovery checkpoint row.
func gsvRawRow(p gsv.Pano, pt resolver.QueryPoint, idCols []string) []string {
	var year, month string
	if p.Year > 0 {
		year = strconv.Itoa(p.Year)
		month = strconv.Itoa(p.Month)
	}
	row := []string{
		p.PanoID,
		formatCoord(p.Lat),
		formatCoord(p.Lon),
		year,
		month,
		formatCoord(pt.Lat),
		formatCoord(pt.Lon),
		strconv.Itoa(pt.LatLonID),
	}
	for _, c := range idCols {
		row = append(row, pt.IDs[c])
	}
	return row
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
