package main

import (
	"github.com/spf13/cobra"

	"github.com/streetscope/svi-cli/internal/download"
	"github.com/streetscope/svi-cli/internal/mly"
)

var mlyFlags struct {
	input     inputFlags
	dir       string
	jobFile   string
	pidPath   string
	urlPath   string
	logPath   string
	distance  float64
	grid      bool
	gridSize  float64
	batchSize int
	workers   int

	resolution int
	cropped    bool
	radius     float64
	startDate  string
	endDate    string
	updatePIDs bool
	pidsOnly   bool
}

var mlyCmd = &cobra.Command{
	Use:   "mly",
	Short: "Download Mapillary street-level imagery",
	Long:  "Discovers image ids inside bboxes around the resolved query points, resolves thumbnail urls through the Graph API, and downloads the images in resumable batches.",
	RunE:  runMLY,
}

func init() {
	rootCmd.AddCommand(mlyCmd)
	f := mlyCmd.Flags()

	f.StringVar(&mlyFlags.dir, "dir", "svi_output", "output directory")
	f.StringVar(&mlyFlags.jobFile, "job", "", "YAML job manifest; its values seed the flags")

	f.Float64Var(&mlyFlags.input.lat, "lat", 0, "input latitude")
	f.Float64Var(&mlyFlags.input.lon, "lon", 0, "input longitude")
	f.StringVar(&mlyFlags.input.csvFile, "input-csv", "", "CSV or XLSX file with coordinate columns")
	f.StringVar(&mlyFlags.input.shpFile, "input-shp", "", "shapefile or GeoJSON file")
	f.StringVar(&mlyFlags.input.place, "place", "", "place name to geocode")
	f.StringSliceVar(&mlyFlags.input.idCols, "id-cols", nil, "input columns carried through to the pid table")
	f.Float64Var(&mlyFlags.input.buffer, "buffer", 0, "buffer distance in meters around the input")

	f.Float64Var(&mlyFlags.distance, "distance", 1, "sample spacing in meters along lines and boundaries")
	f.BoolVar(&mlyFlags.grid, "grid", false, "densify polygons with a regular lattice instead")
	f.Float64Var(&mlyFlags.gridSize, "grid-size", 1, "lattice cell size in meters")

	f.IntVar(&mlyFlags.batchSize, "batch-size", 0, "items per checkpointed batch (default from config)")
	f.IntVar(&mlyFlags.workers, "workers", 0, "concurrent requests per batch (default from config)")

	f.StringVar(&mlyFlags.pidPath, "pid-path", "", "where to write the pid table (default mly_pids.csv in --dir)")
	f.StringVar(&mlyFlags.urlPath, "url-path", "", "where to write the url table (default pids_urls.csv in --dir)")
	f.StringVar(&mlyFlags.logPath, "log-path", "", "file receiving ids that failed after the retry sweep")

	f.IntVar(&mlyFlags.resolution, "resolution", 0, "thumbnail width: 256, 1024 or 2048 (default from config)")
	f.BoolVar(&mlyFlags.cropped, "cropped", false, "keep only the upper half of each image")
	f.Float64Var(&mlyFlags.radius, "radius", 0, "bbox half-size in meters around each query point (default from config)")
	f.StringVar(&mlyFlags.startDate, "start-date", "", "keep images captured on or after this date (YYYY-MM-DD)")
	f.StringVar(&mlyFlags.endDate, "end-date", "", "keep images captured on or before this date (YYYY-MM-DD)")
	f.BoolVar(&mlyFlags.updatePIDs, "update-pids", false, "re-discover even when the pid table exists")
	f.BoolVar(&mlyFlags.pidsOnly, "pids-only", false, "stop after writing the pid table")
}

func runMLY(cmd *cobra.Command, args []string) error {
	if mlyFlags.jobFile != "" {
		if err := applyMLYJob(cmd, mlyFlags.jobFile); err != nil {
			return err
		}
	}

	client, err := newFetcherClient()
	if err != nil {
		return err
	}
	res, err := newResolver(mlyFlags.distance, mlyFlags.gridSize, mlyFlags.grid)
	if err != nil {
		return err
	}
	svc := mly.NewService(client, cfg.MLY.Token)

	resolution := mlyFlags.resolution
	if resolution == 0 {
		resolution = cfg.MLY.Resolution
	}
	radius := mlyFlags.radius
	if radius == 0 {
		radius = cfg.MLY.SearchRadius
	}

	dl := download.NewMLY(
		downloadConfig(mlyFlags.dir, mlyFlags.logPath, mlyFlags.distance, mlyFlags.gridSize, mlyFlags.grid,
			mlyFlags.batchSize, mlyFlags.workers),
		svc, res)

	return dl.DownloadSVI(cmd.Context(), download.MLYOptions{
		Input:        mlyFlags.input.toInput(cmd.Flags().Changed("lat"), cmd.Flags().Changed("lon")),
		PIDPath:      mlyFlags.pidPath,
		URLPath:      mlyFlags.urlPath,
		Resolution:   resolution,
		Cropped:      mlyFlags.cropped,
		SearchRadius: radius,
		StartDate:    mlyFlags.startDate,
		EndDate:      mlyFlags.endDate,
		UpdatePIDs:   mlyFlags.updatePIDs,
		MetadataOnly: mlyFlags.pidsOnly,
	})
}
