package download

import (
	"context"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/streetscope/svi-cli/internal/checkpoint"
	"github.com/streetscope/svi-cli/internal/fetcher"
	"github.com/streetscope/svi-cli/internal/mly"
	"github.com/streetscope/svi-cli/internal/pipeline"
	"github.com/streetscope/svi-cli/internal/resolver"
	"github.com/streetscope/svi-cli/internal/spatial"
)

// Mapillary column names, in pid-table order.
const (
	colImageID    = "id"
	colCapturedAt = "captured_at"
	colCompass    = "compass_angle"
	colIsPano     = "is_pano"
	colOrgID      = "organization_id"
	colSequenceID = "sequence_id"
	colURL        = "url"
)

const (
	mlyPIDName       = "mly_pids.csv"
	mlyURLName       = "pids_urls.csv"
	mlyImageDir      = "mly_svi"
	defaultMLYRes    = 1024
	defaultMLYRadius = 50 // meters
)

// MLYOptions selects the input and behavior of one Mapillary run.
type MLYOptions struct {
	Input resolver.Input

	// PIDPath and URLPath override the pid and url table locations.
	PIDPath string
	URLPath string

	// Resolution is the thumbnail width: 256, 1024 or 2048.
	Resolution int

	// Cropped keeps only the upper half of each image, re-encoded as PNG.
	Cropped bool

	// SearchRadius is the half-size in meters of the bbox queried around
	// each query point.
	SearchRadius float64

	// StartDate and EndDate bound capture timestamps, inclusive, as
	// YYYY-MM-DD.
	StartDate, EndDate string

	// UpdatePIDs forces re-discovery even when the pid table already exists.
	UpdatePIDs bool

	// MetadataOnly stops after the pid table; no urls or images.
	MetadataOnly bool
}

// MLYDownloader runs the Mapillary pipeline end to end.
type MLYDownloader struct {
	cfg Config
	svc *mly.Service
	res *resolver.Resolver
}

// NewMLY wires a downloader from its collaborators.
func NewMLY(cfg Config, svc *mly.Service, res *resolver.Resolver) *MLYDownloader {
	return &MLYDownloader{cfg: cfg, svc: svc, res: res}
}

// DownloadSVI resolves the input, discovers image ids, resolves thumbnail
// urls and fetches the images. Every stage resumes from the cache
// directory; the cache is removed only after the whole run succeeds.
func (d *MLYDownloader) DownloadSVI(ctx context.Context, opts MLYOptions) error {
	start, err := parseDate(opts.StartDate)
	if err != nil {
		return err
	}
	end, err := parseDate(opts.EndDate)
	if err != nil {
		return err
	}
	if opts.Resolution == 0 {
		opts.Resolution = defaultMLYRes
	}
	if !mly.ValidResolution(opts.Resolution) {
		return eris.Wrapf(ErrInvalidInput, "thumbnail resolution %d not in {256, 1024, 2048}", opts.Resolution)
	}
	if !d.svc.HasToken() {
		return eris.Wrap(ErrMissingCredential, "mly: an access token is required")
	}
	if opts.SearchRadius <= 0 {
		opts.SearchRadius = defaultMLYRadius
	}

	lay, err := newLayout(d.cfg.Dir)
	if err != nil {
		return err
	}

	pidPath := opts.PIDPath
	if pidPath == "" {
		pidPath = filepath.Join(d.cfg.Dir, mlyPIDName)
	}
	urlPath := opts.URLPath
	if urlPath == "" {
		urlPath = filepath.Join(d.cfg.Dir, mlyURLName)
	}

	if fileExists(pidPath) && !opts.UpdatePIDs {
		zap.L().Info("pid table already exists, skipping discovery",
			zap.String("path", pidPath))
	} else {
		if err := d.discoverPIDs(ctx, lay, opts, pidPath); err != nil {
			return err
		}
	}

	if !opts.MetadataOnly {
		if err := d.resolveURLs(ctx, lay, pidPath, urlPath, opts.Resolution); err != nil {
			return err
		}
		if err := d.downloadImages(ctx, urlPath, pidPath, opts.Cropped, start, end); err != nil {
			return err
		}
	}

	return lay.removeCache()
}

// discoverPIDs queries a bbox around every query point and writes the
// deduplicated pid table. Date bounds do not apply here: the table keeps
// every image so it stays reusable across runs with different windows.
func (d *MLYDownloader) discoverPIDs(ctx context.Context, lay *layout, opts MLYOptions, pidPath string) error {
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
	zap.L().Info("discovering images",
		zap.Int("points", len(points)),
		zap.Int("resumed", len(resolved.Points)-len(points)),
	)

	header := append(
		[]string{colImageID, colCapturedAt, colCompass, colIsPano, colOrgID, colSequenceID,
			colLon, colLat, colInputLat, colInputLon, resolver.ColLatLonID},
		resolved.IDColumns...)
	col := newCollector(header...)

	task := func(ctx context.Context, pt resolver.QueryPoint) error {
		minLon, minLat, maxLon, maxLat := bboxAround(pt.Lat, pt.Lon, opts.SearchRadius)
		images, err := d.svc.FindImages(ctx, minLon, minLat, maxLon, maxLat)
		if err != nil {
			return err
		}
		for _, img := range images {
			col.append(mlyRawRow(img, pt, resolved.IDColumns))
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
		return eris.New("mly: no images found for the given input")
	}
	if err := raw.WriteFile(lay.rawMergedPath()); err != nil {
		return err
	}

	if resolved.HasPolygons() {
		before := raw.Len()
		raw = filterByGeometry(raw, spatial.NewIndex(resolved.Geometries), colLat, colLon)
		zap.L().Info("filtered images to input polygons",
			zap.Int("kept", raw.Len()),
			zap.Int("dropped", before-raw.Len()),
		)
	}

	raw.DedupBy(append([]string{colImageID}, resolved.IDColumns...)...)
	raw.DropColumn(resolver.ColLatLonID)
	raw.Project(append(
		[]string{colImageID, colCapturedAt, colCompass, colIsPano, colOrgID, colSequenceID,
			colInputLat, colInputLon, colLon, colLat},
		resolved.IDColumns...)...)

	if err := raw.WriteFile(pidPath); err != nil {
		return err
	}
	zap.L().Info("pid table written",
		zap.String("path", pidPath),
		zap.Int("rows", raw.Len()),
	)
	return nil
}

// resolveURLs turns every image id into a short-lived thumbnail url,
// checkpointed like any other stage since the Graph API calls dominate the
// run time.
func (d *MLYDownloader) resolveURLs(ctx context.Context, lay *layout, pidPath, urlPath string, res int) error {
	t, err := checkpoint.ReadFile(pidPath)
	if err != nil {
		return err
	}

	urlStore, err := checkpoint.NewStore(lay.urlShardDir())
	if err != nil {
		return err
	}
	startShard, err := urlStore.ShardCount()
	if err != nil {
		return err
	}
	done, err := completedValues(urlStore, colImageID)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, t.Len())
	var ids []string
	for _, row := range t.Rows {
		id := t.Cell(row, colImageID)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := done[id]; ok {
			continue
		}
		ids = append(ids, id)
	}
	zap.L().Info("resolving thumbnail urls",
		zap.Int("images", len(ids)),
		zap.Int("resumed", len(done)),
	)

	faillog, err := fetcher.OpenFailureLog(d.cfg.LogPath)
	if err != nil {
		return err
	}
	defer faillog.Close() //nolint:errcheck

	col := newCollector(colImageID, colURL)
	task := func(ctx context.Context, id string) error {
		u, err := d.svc.ThumbnailURL(ctx, id, res)
		if err != nil {
			return err
		}
		col.append([]string{id, u})
		return nil
	}

	runner := pipeline.Runner[string]{
		Stage:     "urls",
		BatchSize: d.cfg.BatchSize,
		Workers:   d.cfg.MaxWorkers,
	}
	failed, err := runner.Run(ctx, ids, startShard, task, func(shard int) error {
		return urlStore.WriteShard(shard, col.drain())
	})
	if err != nil {
		return err
	}
	err = runner.Sweep(ctx, failed, func(ctx context.Context, id string) error {
		if err := task(ctx, id); err != nil {
			faillog.Append(id)
			return err
		}
		return nil
	}, func() error {
		t := col.drain()
		if t.Len() == 0 {
			return nil
		}
		return urlStore.WriteRetry(t)
	})
	if err != nil {
		return err
	}

	urls, err := urlStore.Merge()
	if err != nil {
		return err
	}
	if err := urls.WriteFile(urlPath); err != nil {
		return err
	}
	zap.L().Info("url table written",
		zap.String("path", urlPath),
		zap.Int("rows", urls.Len()),
	)
	return nil
}

// downloadImages fetches every image in the url table that falls inside the
// date window and is not already on disk. The window is evaluated against
// the pid table's captured_at, since the url table carries no dates.
func (d *MLYDownloader) downloadImages(ctx context.Context, urlPath, pidPath string, cropped bool, start, end *time.Time) error {
	t, err := checkpoint.ReadFile(urlPath)
	if err != nil {
		return err
	}

	pid, err := checkpoint.ReadFile(pidPath)
	if err != nil {
		return err
	}
	before := pid.Len()
	pid = mly.FilterByDate(pid, start, end)
	if pid.Len() < before {
		zap.L().Info("date window applied",
			zap.Int("kept", pid.Len()),
			zap.Int("dropped", before-pid.Len()),
		)
	}
	inWindow := make(map[string]struct{}, pid.Len())
	for _, row := range pid.Rows {
		if id := pid.Cell(row, colImageID); id != "" {
			inWindow[id] = struct{}{}
		}
	}

	imageDir := filepath.Join(d.cfg.Dir, mlyImageDir)
	stems, err := existingStems(imageDir)
	if err != nil {
		return err
	}

	urls := make(map[string]string, t.Len())
	var ids []string
	for _, row := range t.Rows {
		id, u := t.Cell(row, colImageID), t.Cell(row, colURL)
		if id == "" || u == "" {
			continue
		}
		if _, ok := inWindow[id]; !ok {
			continue
		}
		if _, dup := urls[id]; dup {
			continue
		}
		urls[id] = u
		if _, ok := stems[id]; ok {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		zap.L().Info("no images left to download", zap.String("dir", imageDir))
		return nil
	}

	items, err := assignBatchDirs(imageDir, ids, d.cfg.BatchSize)
	if err != nil {
		return err
	}
	zap.L().Info("downloading images",
		zap.Int("images", len(ids)),
		zap.Int("skipped", len(urls)-len(ids)),
	)

	faillog, err := fetcher.OpenFailureLog(d.cfg.LogPath)
	if err != nil {
		return err
	}
	defer faillog.Close() //nolint:errcheck

	task := func(ctx context.Context, it fetchItem) error {
		body, err := d.svc.FetchImage(ctx, urls[it.id], cropped)
		if err != nil {
			return err
		}
		return writeImageFile(filepath.Join(it.dir, it.id+".png"), func(w io.Writer) error {
			_, err := w.Write(body)
			return err
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

// bboxAround returns the WGS84 bbox of a square of half-size meters
// centered on the point.
func bboxAround(lat, lon, meters float64) (minLon, minLat, maxLon, maxLat float64) {
	dLat := meters / 111320.0
	c := math.Cos(lat * math.Pi / 180)
	if c < 1e-6 {
		c = 1e-6
	}
	dLon := meters / (111320.0 * c)
	return lon - dLon, lat - dLat, lon + dLon, lat + dLat
}

// mlyRawRow builds one discovery checkpoint row.
func mlyRawRow(img mly.Image, pt resolver.QueryPoint, idCols []string) []string {
	row := []string{
		img.ID,
		strconv.FormatInt(img.CapturedAt, 10),
		strconv.FormatFloat(img.CompassAngle, 'f', -1, 64),
		strconv.FormatBool(img.IsPano),
		img.OrganizationID,
		img.SequenceID,
		formatCoord(img.Lon),
		formatCoord(img.Lat),
		formatCoord(pt.Lat),
		formatCoord(pt.Lon),
		strconv.Itoa(pt.LatLonID),
	}
	for _, c := range idCols {
		row = append(row, pt.IDs[c])
	}
	return row
}
