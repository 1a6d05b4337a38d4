package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"bqupload/frame"
	"bqupload/ingest"
	"bqupload/state"
	"bqupload/target"
	"bqupload/utils"
)

// log a convenience wrapper to shorten code lines
var log = utils.Log()

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// run executes the command line and maps the outcome to the process exit code.
func run(ctx context.Context, args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	log.Error("The upload failed", zap.String("kind", ingest.KindOf(err).String()), zap.Error(err))
	if remedy := ingest.RemedyOf(err); remedy != "" {
		_, _ = fmt.Fprintln(os.Stderr, remedy)
	}
	return ingest.ExitCode(err)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bqupload",
		Short:         "Upload local or S3 files into a BigQuery table",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	defineGlobalFlags(root.PersistentFlags())

	uploadCmd := &cobra.Command{
		Use:   "upload <path> <bucket> <dataset> <table>",
		Short: "Stage a file or every file of a folder in a bucket and load it into a table",
		Long: "Stage a file or every file of a folder in a Cloud Storage bucket and load it into a BigQuery table.\n" +
			"CSV, JSON, Avro and Parquet files are accepted, plain, gzip-compressed or as the only file of a\n" +
			"zip or tar archive. With --reload only the load job of the last upload is repeated.",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := uploadArgs(cmd.Flags(), args); err != nil {
				return &ingest.Error{Kind: ingest.KindUsage, Op: "parse arguments", Err: err,
					Remedy: "Run 'bqupload upload --help' to see the expected arguments."}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := LoadConfig(cmd.Flags(), args)
			if err != nil {
				return &ingest.Error{Kind: ingest.KindUsage, Op: "load configuration", Err: err}
			}
			return runUpload(cmd.Context(), conf)
		},
	}
	defineUploadFlags(uploadCmd.Flags())

	lastCmd := &cobra.Command{
		Use:   "last",
		Short: "Print the record of the last staged file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := LoadConfig(cmd.Flags(), args)
			if err != nil {
				return &ingest.Error{Kind: ingest.KindUsage, Op: "load configuration", Err: err}
			}
			utils.InitLogger(conf.Log)
			return printLast(cmd, conf)
		},
	}

	root.AddCommand(uploadCmd, lastCmd)
	return root
}

// runUpload wires the collaborators of the configuration and runs an upload or a reload.
func runUpload(ctx context.Context, conf *Config) error {
	// the logger initialization should happen first of all
	utils.InitLogger(conf.Log)
	startTime := time.Now()

	opts := conf.Options
	if err := opts.Validate(); err != nil {
		return err
	}

	tools := []string{conf.Tools.BQ, conf.Tools.GCloud}
	if conf.StorageBackend == backendGSUtil {
		tools = append(tools, conf.Tools.GSUtil)
	}
	if err := ingest.Preflight(tools...); err != nil {
		return err
	}

	runner := target.ExecRunner{}
	if !opts.Reload {
		project, err := ingest.ResolveProject(ctx, target.NewGCloud(runner, conf.Tools.GCloud), opts.Project)
		if err != nil {
			return err
		}
		opts = opts.WithProject(project)
	}

	store, err := state.OpenBadgerStore(conf.StateDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("Failed to close the state store", zap.Error(err))
		}
	}()

	scratchDir, err := os.MkdirTemp("", "bqupload-")
	if err != nil {
		return fmt.Errorf("failed to create a scratch folder: %w", err)
	}
	frames, err := frame.OpenDuckDB(scratchDir)
	if err != nil {
		return err
	}
	defer func() { _ = frames.Close() }()

	pipeline := &ingest.Pipeline{
		Options:        opts,
		Warehouse:      target.NewBQ(runner, conf.Tools.BQ),
		Frames:         frames,
		Store:          store,
		ScratchDir:     scratchDir,
		DirectoryPause: conf.DirectoryPause,
	}

	if opts.Reload {
		err = pipeline.Reload(ctx, opts.MaxBadRecords)
	} else {
		err = upload(ctx, conf, pipeline)
	}
	if err != nil {
		log.Info("Keeping the scratch folder for inspection", zap.String("dir", scratchDir))
		return err
	}
	if err := os.RemoveAll(scratchDir); err != nil {
		log.Warn("Failed to remove the scratch folder", zap.String("dir", scratchDir), zap.Error(err))
	}
	log.Info("Finished", zap.Duration("total_time", time.Since(startTime)))
	return nil
}

// upload selects the storage backend and uploads the files of the source path.
func upload(ctx context.Context, conf *Config, pipeline *ingest.Pipeline) error {
	if conf.StorageBackend == backendGCS {
		client, err := target.NewGCSClient(ctx)
		if err != nil {
			return &ingest.Error{Kind: ingest.KindExternal, Op: "connect to Cloud Storage", Err: err,
				Remedy: "Run 'gcloud auth application-default login' or use --storage-backend gsutil."}
		}
		defer func() { _ = client.Close() }()
		pipeline.Storage = client
	} else {
		pipeline.Storage = target.NewGSUtil(target.ExecRunner{}, conf.Tools.GSUtil)
	}

	src, err := ingest.OpenSource(ctx, pipeline.Options, conf.S3)
	if err != nil {
		return err
	}
	if err := pipeline.Run(ctx, src); err != nil {
		// downloaded files are kept next to the derived ones
		return err
	}
	return src.Close()
}

// printLast prints the last upload record as YAML.
func printLast(cmd *cobra.Command, conf *Config) error {
	store, err := state.OpenBadgerStore(conf.StateDir)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	record, err := store.Get()
	if errors.Is(err, state.ErrNotFound) {
		return &ingest.Error{Kind: ingest.KindUsage, Op: "read last upload", Err: err,
			Remedy: "Nothing has been staged yet."}
	}
	if err != nil {
		return err
	}
	encoder := yaml.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent(2)
	if err := encoder.Encode(record); err != nil {
		return err
	}
	return encoder.Close()
}
