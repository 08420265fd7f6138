package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJob(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func scratchCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "scratch", RunE: func(*cobra.Command, []string) error { return nil }}
	f := cmd.Flags()
	f.String("dir", "svi_output", "")
	f.Float64("lat", 0, "")
	f.Float64("lon", 0, "")
	f.String("input-csv", "", "")
	f.String("input-shp", "", "")
	f.String("place", "", "")
	f.StringSlice("id-cols", nil, "")
	f.Float64("buffer", 0, "")
	f.Float64("distance", 1, "")
	f.Bool("grid", false, "")
	f.Float64("grid-size", 1, "")
	f.Int("batch-size", 0, "")
	f.Int("workers", 0, "")
	f.String("start-date", "", "")
	f.String("end-date", "", "")
	f.Bool("update-pids", false, "")
	f.Bool("pids-only", false, "")
	f.String("log-path", "", "")
	f.String("pid-path", "", "")
	return cmd
}

func TestJobManifestSeedsFlags(t *testing.T) {
	path := writeJob(t, `
dir: out
lat: 35.1
lon: 139.2
id_cols: [district, ward]
buffer: 25
batch_size: 500
workers: 8
start_date: "2020-01-01"
update_pids: true
`)
	m, err := loadJob(path)
	require.NoError(t, err)

	cmd := scratchCmd()
	require.NoError(t, m.seedCommon(cmd))

	dir, _ := cmd.Flags().GetString("dir")
	assert.Equal(t, "out", dir)
	lat, _ := cmd.Flags().GetFloat64("lat")
	assert.Equal(t, 35.1, lat)
	assert.True(t, cmd.Flags().Changed("lat"))
	cols, _ := cmd.Flags().GetStringSlice("id-cols")
	assert.Equal(t, []string{"district", "ward"}, cols)
	batch, _ := cmd.Flags().GetInt("batch-size")
	assert.Equal(t, 500, batch)
	workers, _ := cmd.Flags().GetInt("workers")
	assert.Equal(t, 8, workers)
	update, _ := cmd.Flags().GetBool("update-pids")
	assert.True(t, update)
}

func TestJobManifestDoesNotOverrideExplicitFlags(t *testing.T) {
	path := writeJob(t, "dir: from_job\nworkers: 8\n")
	m, err := loadJob(path)
	require.NoError(t, err)

	cmd := scratchCmd()
	require.NoError(t, cmd.Flags().Set("dir", "from_cli"))
	require.NoError(t, m.seedCommon(cmd))

	dir, _ := cmd.Flags().GetString("dir")
	assert.Equal(t, "from_cli", dir)
	workers, _ := cmd.Flags().GetInt("workers")
	assert.Equal(t, 8, workers)
}

func TestLoadJobErrors(t *testing.T) {
	_, err := loadJob(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = loadJob(writeJob(t, "dir: [unclosed"))
	assert.Error(t, err)
}
