package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"bqupload/ingest"
	"bqupload/source"
	"bqupload/state"
	"bqupload/utils"
)

const (
	// envPrefix environment variables use the prefix and "_" instead of "." and "-", e.g. BQUPLOAD_LINE_SKIP
	envPrefix = "BQUPLOAD"
	// configName the config file name without extension, searched in "." and the user config dir
	configName = "bqupload"

	backendGSUtil = "gsutil"
	backendGCS    = "gcs"
)

// Tools the executables of the external tools, names on the PATH or absolute paths.
type Tools struct {
	GSUtil string
	BQ     string
	GCloud string
}

// Config represents the application configuration defined through the defaults, the config file,
// the environment and the command line, in increasing order of precedence.
type Config struct {
	// Options the operator's settings of the invocation, never changed once built
	Options ingest.Options

	// S3 the AWS settings used when the source path is an s3:// URL
	S3 source.S3Config

	// StateDir the folder of the last upload record
	StateDir string

	// StorageBackend "gsutil" (the CLI tool) or "gcs" (the native client)
	StorageBackend string

	Tools Tools

	// DirectoryPause the delay before a whole folder is uploaded
	DirectoryPause time.Duration

	Log utils.LogOptions
}

// flagKeys maps configuration keys to the flags overriding them
var flagKeys = map[string]string{
	"project":           "project",
	"line_skip":         "line-skip",
	"preprocess":        "preprocess",
	"delimiter":         "delimiter",
	"encoding":          "encoding",
	"max_bad_records":   "max-bad-records",
	"strict_schema":     "strict-schema",
	"guess_date":        "guess-date",
	"timestamp_columns": "timestamp-columns",
	"timestamp_format":  "timestamp-format",
	"reload":            "reload",
	"s3.region":         "aws-region",
	"s3.access_key":     "aws-access-key",
	"s3.secret_key":     "aws-secret-key",
	"storage.backend":   "storage-backend",
	"state.dir":         "state-dir",
	"log.json":          "json-logs",
	"log.dev":           "dev-logs",
	"log.verbose":       "verbose",
	"log.trace":         "trace",
}

// defineUploadFlags declares the options of the upload command.
func defineUploadFlags(flags *pflag.FlagSet) {
	defaults := ingest.DefaultOptions()
	flags.StringP("project", "p", "",
		"Cloud project to work in (the default project of the gcloud configuration when empty)")
	flags.IntP("line-skip", "s", defaults.LineSkip,
		"Number of lines at the top of the file, the last one being the header")
	flags.Bool("preprocess", false,
		"Rewrite delimited files through a data frame before uploading them")
	flags.StringP("delimiter", "d", defaults.Delimiter, "Field delimiter of delimited files")
	flags.StringP("encoding", "e", defaults.Encoding, "Character encoding of the input files")
	flags.IntP("max-bad-records", "m", defaults.MaxBadRecords,
		"Number of rejected rows tolerated by the load job")
	flags.Bool("strict-schema", false,
		"Send a schema derived from the first rows instead of letting the loader detect it")
	flags.Bool("guess-date", false,
		"Detect timestamp columns among the non-numeric columns (implies --strict-schema)")
	flags.StringSlice("timestamp-columns", nil,
		"Comma-separated columns parsed with --timestamp-format (implies --preprocess)")
	flags.String("timestamp-format", "", "strftime format of --timestamp-columns, e.g. %d/%m/%Y %H:%M")
	flags.BoolP("reload", "r", false,
		"Repeat the load job of the last upload with a new --max-bad-records, nothing is staged")

	flags.String("aws-region", "", "AWS region of s3:// sources (AWS default configuration when empty)")
	flags.String("aws-access-key", "", "AWS access key of s3:// sources")
	flags.String("aws-secret-key", "", "AWS secret key of s3:// sources")
	flags.String("storage-backend", backendGSUtil, "How files are staged: gsutil (CLI tool) or gcs (native client)")
}

// defineGlobalFlags declares the flags shared by every command.
func defineGlobalFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Config file (bqupload.yaml in the working or user config folder by default)")
	flags.String("state-dir", "", "Folder of the last upload record")
	flags.Bool("json-logs", false, "Enable production JSON-formatted logs")
	flags.Bool("dev-logs", false, "Enable development logs formatting with time stamps and source files")
	flags.BoolP("verbose", "v", false, "Enable verbose DEBUG-level logging")
	flags.Bool("trace", false, "Enable TRACE-level logging, including every external command")
}

// newViper layers the defaults, the config file, the environment and the given flags.
func newViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	defaults := ingest.DefaultOptions()

	v := viper.New()
	v.SetDefault("line_skip", defaults.LineSkip)
	v.SetDefault("delimiter", defaults.Delimiter)
	v.SetDefault("encoding", defaults.Encoding)
	v.SetDefault("max_bad_records", defaults.MaxBadRecords)
	v.SetDefault("storage.backend", backendGSUtil)
	v.SetDefault("tools.gsutil", "gsutil")
	v.SetDefault("tools.bq", "bq")
	v.SetDefault("tools.gcloud", "gcloud")
	v.SetDefault("directory_pause", 2*time.Second)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, name := range flagKeys {
		if flag := flags.Lookup(name); flag != nil {
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, err
			}
		}
	}

	if file, _ := flags.GetString("config"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, configName))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read the config file: %w", err)
		}
	}
	return v, nil
}

// LoadConfig builds the configuration of a command from its flags and positional arguments
// (path, bucket, dataset and table; none for a reload).
func LoadConfig(flags *pflag.FlagSet, args []string) (*Config, error) {
	v, err := newViper(flags)
	if err != nil {
		return nil, err
	}

	c := &Config{
		S3: source.S3Config{
			Region:    v.GetString("s3.region"),
			AccessKey: v.GetString("s3.access_key"),
			SecretKey: v.GetString("s3.secret_key"),
		},
		StateDir:       v.GetString("state.dir"),
		StorageBackend: strings.ToLower(v.GetString("storage.backend")),
		Tools: Tools{
			GSUtil: v.GetString("tools.gsutil"),
			BQ:     v.GetString("tools.bq"),
			GCloud: v.GetString("tools.gcloud"),
		},
		DirectoryPause: v.GetDuration("directory_pause"),
		Log: utils.LogOptions{
			JSON:    v.GetBool("log.json"),
			Dev:     v.GetBool("log.dev"),
			Verbose: v.GetBool("log.verbose"),
			Trace:   v.GetBool("log.trace"),
		},
	}
	if c.StateDir == "" {
		c.StateDir = state.DefaultDir()
	}
	if c.StorageBackend != backendGSUtil && c.StorageBackend != backendGCS {
		return nil, fmt.Errorf("unknown storage backend %q, expected %s or %s",
			c.StorageBackend, backendGSUtil, backendGCS)
	}

	opts := ingest.Options{
		Project:          v.GetString("project"),
		LineSkip:         v.GetInt("line_skip"),
		Preprocess:       v.GetBool("preprocess"),
		Delimiter:        v.GetString("delimiter"),
		Encoding:         v.GetString("encoding"),
		MaxBadRecords:    v.GetInt("max_bad_records"),
		StrictSchema:     v.GetBool("strict_schema"),
		GuessDate:        v.GetBool("guess_date"),
		TimestampColumns: v.GetStringSlice("timestamp_columns"),
		TimestampFormat:  v.GetString("timestamp_format"),
		Reload:           v.GetBool("reload"),
	}
	if len(args) == 4 {
		opts.Path = args[0]
		opts.Bucket = utils.TrimBucketName(args[1])
		opts.Dataset = args[2]
		opts.Table = args[3]
	}
	c.Options = opts
	return c, nil
}

// uploadArgs accepts the four positional arguments, or none for a reload.
func uploadArgs(flags *pflag.FlagSet, args []string) error {
	reload, _ := flags.GetBool("reload")
	switch {
	case len(args) == 4:
		return nil
	case reload && len(args) == 0:
		return nil
	default:
		return fmt.Errorf("expected the arguments <path> <bucket> <dataset> <table>, got %d", len(args))
	}
}
