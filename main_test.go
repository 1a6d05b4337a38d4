package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bqupload/state"
)

func parseFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	defineGlobalFlags(flags)
	defineUploadFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	conf, err := LoadConfig(parseFlags(t), []string{"./sales.csv", "gs://landing/", "raw", "sales"})
	require.NoError(t, err)

	opts := conf.Options
	assert.Equal(t, "./sales.csv", opts.Path)
	assert.Equal(t, "landing", opts.Bucket)
	assert.Equal(t, "raw", opts.Dataset)
	assert.Equal(t, "sales", opts.Table)
	assert.Equal(t, 1, opts.LineSkip)
	assert.Equal(t, ",", opts.Delimiter)
	assert.Equal(t, "utf-8", opts.Encoding)
	assert.False(t, opts.Reload)
	assert.Equal(t, backendGSUtil, conf.StorageBackend)
	assert.Equal(t, Tools{GSUtil: "gsutil", BQ: "bq", GCloud: "gcloud"}, conf.Tools)
	assert.Equal(t, 2*time.Second, conf.DirectoryPause)
	assert.Equal(t, state.DefaultDir(), conf.StateDir)
}

func TestLoadConfigLayers(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bqupload.yaml"), []byte(
		"delimiter: \";\"\n"+
			"line_skip: 3\n"+
			"max_bad_records: 7\n"+
			"directory_pause: 0s\n"+
			"storage:\n  backend: gcs\n"+
			"tools:\n  bq: /opt/sdk/bin/bq\n"+
			"log:\n  json: true\n"), 0o644))
	t.Setenv("BQUPLOAD_LINE_SKIP", "4")
	t.Setenv("BQUPLOAD_STATE_DIR", filepath.Join(dir, "state"))

	flags := parseFlags(t, "--max-bad-records", "9", "--timestamp-columns", "created,updated",
		"--timestamp-format", "%Y-%m-%d", "--verbose")
	conf, err := LoadConfig(flags, []string{"data", "landing", "raw", "sales"})
	require.NoError(t, err)

	opts := conf.Options
	assert.Equal(t, ";", opts.Delimiter)
	assert.Equal(t, 4, opts.LineSkip)
	assert.Equal(t, 9, opts.MaxBadRecords)
	assert.Equal(t, []string{"created", "updated"}, opts.TimestampColumns)
	assert.Equal(t, "%Y-%m-%d", opts.TimestampFormat)
	assert.Equal(t, backendGCS, conf.StorageBackend)
	assert.Equal(t, "/opt/sdk/bin/bq", conf.Tools.BQ)
	assert.Equal(t, "gsutil", conf.Tools.GSUtil)
	assert.Equal(t, time.Duration(0), conf.DirectoryPause)
	assert.Equal(t, filepath.Join(dir, "state"), conf.StateDir)
	assert.True(t, conf.Log.JSON)
	assert.True(t, conf.Log.Verbose)
	assert.False(t, conf.Log.Trace)
}

func TestLoadConfigUnknownBackend(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := LoadConfig(parseFlags(t, "--storage-backend", "ftp"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ftp")
}

func TestUploadArgs(t *testing.T) {
	tests := []struct {
		name    string
		flags   []string
		args    []string
		wantErr bool
	}{
		{name: "all positional arguments", args: []string{"a", "b", "c", "d"}},
		{name: "missing table", args: []string{"a", "b", "c"}, wantErr: true},
		{name: "reload without arguments", flags: []string{"--reload"}},
		{name: "reload with arguments", flags: []string{"--reload"}, args: []string{"a", "b", "c", "d"}},
		{name: "no arguments", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := uploadArgs(parseFlags(t, tt.flags...), tt.args)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRunExitCodes(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("BQUPLOAD_TOOLS_BQ", filepath.Join(dir, "missing", "bq"))

	assert.Equal(t, 2, run(context.Background(), []string{"upload", "only-a-path"}))
	assert.Equal(t, 2, run(context.Background(), []string{"upload", "--line-skip", "0", "a", "b", "c", "d"}))
	// the loader tool cannot be found
	assert.Equal(t, 2, run(context.Background(), []string{"upload", "--reload", "--state-dir",
		filepath.Join(dir, "state")}))
	assert.Equal(t, 2, run(context.Background(), []string{"last", "--state-dir", filepath.Join(dir, "state")}))
}

func TestPrintLast(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	stateDir := filepath.Join(dir, "state")

	store, err := state.OpenBadgerStore(stateDir)
	require.NoError(t, err)
	require.NoError(t, store.Put(state.LastRunState{
		RunID:      "run-7",
		File:       "/data/salesdata.csv",
		UploadName: "salesdata.csv",
		Format:     "CSV",
		Settings:   state.Settings{Dataset: "raw", Table: "sales", LineSkip: 1, Delimiter: ","},
		StagedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, store.Close())

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"last", "--state-dir", stateDir})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "run_id: run-7")
	assert.Contains(t, out.String(), "upload_name: salesdata.csv")
	assert.Contains(t, out.String(), "  dataset: raw")
	assert.NotContains(t, out.String(), "\nschema:")
}
