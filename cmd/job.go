package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// jobManifest is the YAML shape of a --job file. Every key maps onto one
// command flag; values only seed flags the user did not set explicitly.
type jobManifest struct {
	Dir      string   `yaml:"dir"`
	Lat      *float64 `yaml:"lat"`
	Lon      *float64 `yaml:"lon"`
	InputCSV string   `yaml:"input_csv"`
	InputShp string   `yaml:"input_shp"`
	Place    string   `yaml:"place"`
	IDCols   []string `yaml:"id_cols"`
	Buffer   *float64 `yaml:"buffer"`

	Distance *float64 `yaml:"distance"`
	Grid     *bool    `yaml:"grid"`
	GridSize *float64 `yaml:"grid_size"`

	BatchSize *int `yaml:"batch_size"`
	Workers   *int `yaml:"workers"`

	StartDate  string `yaml:"start_date"`
	EndDate    string `yaml:"end_date"`
	UpdatePIDs *bool  `yaml:"update_pids"`
	PIDsOnly   *bool  `yaml:"pids_only"`
	LogPath    string `yaml:"log_path"`
	PIDPath    string `yaml:"pid_path"`

	// Street View only.
	AugmentMetadata *bool  `yaml:"augment_metadata"`
	PIDFile         string `yaml:"pid_file"`
	Zoom            *int   `yaml:"zoom"`
	HTiles          *int   `yaml:"h_tiles"`
	VTiles          *int   `yaml:"v_tiles"`
	Cropped         *bool  `yaml:"cropped"`
	Full            *bool  `yaml:"full"`

	// Mapillary only.
	Resolution *int     `yaml:"resolution"`
	Radius     *float64 `yaml:"radius"`
	URLPath    string   `yaml:"url_path"`
}

func loadJob(path string) (*jobManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read job manifest %s", path)
	}
	var m jobManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "parse job manifest %s", path)
	}
	return &m, nil
}

// seedFlag sets a flag from the manifest unless the user already set it on
// the command line.
func seedFlag(cmd *cobra.Command, name, value string) error {
	if cmd.Flags().Changed(name) {
		return nil
	}
	return cmd.Flags().Set(name, value)
}

func (m *jobManifest) seedCommon(cmd *cobra.Command) error {
	type pair struct{ name, value string }
	var pairs []pair
	add := func(name, value string) {
		if value != "" {
			pairs = append(pairs, pair{name, value})
		}
	}

	add("dir", m.Dir)
	if m.Lat != nil {
		add("lat", fmt.Sprintf("%v", *m.Lat))
	}
	if m.Lon != nil {
		add("lon", fmt.Sprintf("%v", *m.Lon))
	}
	add("input-csv", m.InputCSV)
	add("input-shp", m.InputShp)
	add("place", m.Place)
	if len(m.IDCols) > 0 {
		add("id-cols", strings.Join(m.IDCols, ","))
	}
	if m.Buffer != nil {
		add("buffer", fmt.Sprintf("%v", *m.Buffer))
	}
	if m.Distance != nil {
		add("distance", fmt.Sprintf("%v", *m.Distance))
	}
	if m.Grid != nil {
		add("grid", fmt.Sprintf("%v", *m.Grid))
	}
	if m.GridSize != nil {
		add("grid-size", fmt.Sprintf("%v", *m.GridSize))
	}
	if m.BatchSize != nil {
		add("batch-size", fmt.Sprintf("%d", *m.BatchSize))
	}
	if m.Workers != nil {
		add("workers", fmt.Sprintf("%d", *m.Workers))
	}
	add("start-date", m.StartDate)
	add("end-date", m.EndDate)
	if m.UpdatePIDs != nil {
		add("update-pids", fmt.Sprintf("%v", *m.UpdatePIDs))
	}
	if m.PIDsOnly != nil {
		add("pids-only", fmt.Sprintf("%v", *m.PIDsOnly))
	}
	add("log-path", m.LogPath)
	add("pid-path", m.PIDPath)

	for _, p := range pairs {
		if err := seedFlag(cmd, p.name, p.value); err != nil {
			return err
		}
	}
	return nil
}

func applyGSVJob(cmd *cobra.Command, path string) error {
	m, err := loadJob(path)
	if err != nil {
		return err
	}
	if err := m.seedCommon(cmd); err != nil {
		return err
	}
	if m.AugmentMetadata != nil {
		if err := seedFlag(cmd, "augment-metadata", fmt.Sprintf("%v", *m.AugmentMetadata)); err != nil {
			return err
		}
	}
	if m.PIDFile != "" {
		if err := seedFlag(cmd, "pid-file", m.PIDFile); err != nil {
			return err
		}
	}
	if m.Zoom != nil {
		if err := seedFlag(cmd, "zoom", fmt.Sprintf("%d", *m.Zoom)); err != nil {
			return err
		}
	}
	if m.HTiles != nil {
		if err := seedFlag(cmd, "h-tiles", fmt.Sprintf("%d", *m.HTiles)); err != nil {
			return err
		}
	}
	if m.VTiles != nil {
		if err := seedFlag(cmd, "v-tiles", fmt.Sprintf("%d", *m.VTiles)); err != nil {
			return err
		}
	}
	if m.Cropped != nil {
		if err := seedFlag(cmd, "cropped", fmt.Sprintf("%v", *m.Cropped)); err != nil {
			return err
		}
	}
	if m.Full != nil {
		if err := seedFlag(cmd, "full", fmt.Sprintf("%v", *m.Full)); err != nil {
			return err
		}
	}
	return nil
}

func applyMLYJob(cmd *cobra.Command, path string) error {
	m, err := loadJob(path)
	if err != nil {
		return err
	}
	if err := m.seedCommon(cmd); err != nil {
		return err
	}
	if m.Resolution != nil {
		if err := seedFlag(cmd, "resolution", fmt.Sprintf("%d", *m.Resolution)); err != nil {
			return err
		}
	}
	if m.Radius != nil {
		if err := seedFlag(cmd, "radius", fmt.Sprintf("%v", *m.Radius)); err != nil {
			return err
		}
	}
	if m.Cropped != nil {
		if err := seedFlag(cmd, "cropped", fmt.Sprintf("%v", *m.Cropped)); err != nil {
			return err
		}
	}
	if m.URLPath != "" {
		if err := seedFlag(cmd, "url-path", m.URLPath); err != nil {
			return err
		}
	}
	return nil
}
