package main

import (
	"github.com/spf13/cobra"

	"github.com/streetscope/svi-cli/internal/download"
	"github.com/streetscope/svi-cli/internal/gsv"
)

var gsvFlags struct {
	input     inputFlags
	dir       string
	jobFile   string
	pidFile   string
	pidPath   string
	logPath   string
	distance  float64
	grid      bool
	gridSize  float64
	batchSize int
	workers   int

	augment    bool
	startDate  string
	endDate    string
	updatePIDs bool
	pidsOnly   bool

	zoom    int
	hTiles  int
	vTiles  int
	cropped bool
	full    bool
}

var gsvCmd = &cobra.Command{
	Use:   "gsv",
	Short: "Download Google Street View panoramas",
	Long:  "Discovers panorama ids near the resolved query points, optionally augments capture dates through the official metadata endpoint, and downloads stitched panoramas in resumable batches.",
	RunE:  runGSV,
}

func init() {
	rootCmd.AddCommand(gsvCmd)
	f := gsvCmd.Flags()

	f.StringVar(&gsvFlags.dir, "dir", "svi_output", "output directory")
	f.StringVar(&gsvFlags.jobFile, "job", "", "YAML job manifest; its values seed the flags")

	f.Float64Var(&gsvFlags.input.lat, "lat", 0, "input latitude")
	f.Float64Var(&gsvFlags.input.lon, "lon", 0, "input longitude")
	f.StringVar(&gsvFlags.input.csvFile, "input-csv", "", "CSV or XLSX file with coordinate columns")
	f.StringVar(&gsvFlags.input.shpFile, "input-shp", "", "shapefile or GeoJSON file")
	f.StringVar(&gsvFlags.input.place, "place", "", "place name to geocode")
	f.StringSliceVar(&gsvFlags.input.idCols, "id-cols", nil, "input columns carried through to the pid table")
	f.Float64Var(&gsvFlags.input.buffer, "buffer", 0, "buffer distance in meters around the input")

	f.Float64Var(&gsvFlags.distance, "distance", 1, "sample spacing in meters along lines and boundaries")
	f.BoolVar(&gsvFlags.grid, "grid", false, "densify polygons with a regular lattice instead")
	f.Float64Var(&gsvFlags.gridSize, "grid-size", 1, "lattice cell size in meters")

	f.IntVar(&gsvFlags.batchSize, "batch-size", 0, "items per checkpointed batch (default from config)")
	f.IntVar(&gsvFlags.workers, "workers", 0, "concurrent requests per batch (default from config)")

	f.StringVar(&gsvFlags.pidFile, "pid-file", "", "pre-computed pid table; skips discovery")
	f.StringVar(&gsvFlags.pidPath, "pid-path", "", "where to write the pid table (default gsv_pids.csv in --dir)")
	f.StringVar(&gsvFlags.logPath, "log-path", "", "file receiving ids that failed after the retry sweep")

	f.BoolVar(&gsvFlags.augment, "augment-metadata", false, "fill missing capture dates via the metadata endpoint")
	f.StringVar(&gsvFlags.startDate, "start-date", "", "keep panos captured on or after this date (YYYY-MM-DD)")
	f.StringVar(&gsvFlags.endDate, "end-date", "", "keep panos captured on or before this date (YYYY-MM-DD)")
	f.BoolVar(&gsvFlags.updatePIDs, "update-pids", false, "re-discover even when the pid table exists")
	f.BoolVar(&gsvFlags.pidsOnly, "pids-only", false, "stop after writing the pid table")

	f.IntVar(&gsvFlags.zoom, "zoom", 0, "tile zoom level (default from config)")
	f.IntVar(&gsvFlags.hTiles, "h-tiles", 0, "horizontal tile count (default from config)")
	f.IntVar(&gsvFlags.vTiles, "v-tiles", 0, "vertical tile count (default from config)")
	f.BoolVar(&gsvFlags.cropped, "cropped", false, "keep only the upper half of each panorama")
	f.BoolVar(&gsvFlags.full, "full", true, "keep the full tile canvas; --full=false clips the black border fill")
}

func runGSV(cmd *cobra.Command, args []string) error {
	if gsvFlags.jobFile != "" {
		if err := applyGSVJob(cmd, gsvFlags.jobFile); err != nil {
			return err
		}
	}

	client, err := newFetcherClient()
	if err != nil {
		return err
	}
	res, err := newResolver(gsvFlags.distance, gsvFlags.gridSize, gsvFlags.grid)
	if err != nil {
		return err
	}
	svc := gsv.NewService(client, cfg.GSV.APIKey)

	zoom, hTiles, vTiles := gsvFlags.zoom, gsvFlags.hTiles, gsvFlags.vTiles
	if zoom == 0 {
		zoom = cfg.GSV.Zoom
	}
	if hTiles == 0 {
		hTiles = cfg.GSV.HTiles
	}
	if vTiles == 0 {
		vTiles = cfg.GSV.VTiles
	}

	dl := download.NewGSV(
		downloadConfig(gsvFlags.dir, gsvFlags.logPath, gsvFlags.distance, gsvFlags.gridSize, gsvFlags.grid,
			gsvFlags.batchSize, gsvFlags.workers),
		svc, res)

	return dl.DownloadSVI(cmd.Context(), download.GSVOptions{
		Input:           gsvFlags.input.toInput(cmd.Flags().Changed("lat"), cmd.Flags().Changed("lon")),
		PIDFile:         gsvFlags.pidFile,
		PIDPath:         gsvFlags.pidPath,
		AugmentMetadata: gsvFlags.augment,
		StartDate:       gsvFlags.startDate,
		EndDate:         gsvFlags.endDate,
		UpdatePIDs:      gsvFlags.updatePIDs,
		MetadataOnly:    gsvFlags.pidsOnly,
		Tiles: gsv.TileOptions{
			Zoom:    zoom,
			HTiles:  hTiles,
			VTiles:  vTiles,
			Cropped: gsvFlags.cropped,
			Clip:    !gsvFlags.full,
		},
	})
}
