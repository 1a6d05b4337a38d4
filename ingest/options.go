package ingest

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"bqupload/frame"
	"bqupload/state"
	"bqupload/utils"
)

// Options the operator's settings for one invocation. The value is built once and never changed; every
// choice derived from it per file lives in Decision.
type Options struct {
	// Path the input file or folder, a local path or an s3:// URL
	Path    string
	Bucket  string
	Dataset string
	Table   string
	// Project the cloud project; empty means the default project of the gcloud session
	Project string

	// LineSkip lines at the top of the file, the last one being the header
	LineSkip int
	// Preprocess rewrites delimited files through a data frame before staging
	Preprocess bool
	Delimiter  string
	Encoding   string
	// MaxBadRecords the number of rejected rows tolerated by the load job
	MaxBadRecords int
	// StrictSchema sends a schema derived from the first rows instead of letting the loader detect it
	StrictSchema bool
	// GuessDate detects timestamp columns among the non-numeric columns of the first 200 rows
	GuessDate bool
	// TimestampColumns columns parsed with TimestampFormat
	TimestampColumns []string
	TimestampFormat  string

	// Reload repeats the last load job only
	Reload bool
}

// DefaultOptions the defaults of every optional setting.
func DefaultOptions() Options {
	return Options{
		LineSkip:  1,
		Delimiter: ",",
		Encoding:  "utf-8",
	}
}

// WithProject returns a copy of the options bound to the resolved project.
func (o Options) WithProject(project string) Options {
	o.Project = project
	return o
}

// Validate reports every inconsistent setting at once. A reload only needs MaxBadRecords.
func (o Options) Validate() error {
	var result *multierror.Error
	if o.MaxBadRecords < 0 {
		result = multierror.Append(result, fmt.Errorf("max bad records must not be negative, got %d",
			o.MaxBadRecords))
	}
	if o.Reload {
		return o.wrap(result)
	}

	if o.Path == "" {
		result = multierror.Append(result, errors.New("source path must not be empty"))
	}
	if utils.TrimBucketName(o.Bucket) == "" {
		result = multierror.Append(result, errors.New("bucket name must not be empty"))
	}
	if err := utils.ValidateTableReference("dataset", o.Dataset); err != nil {
		result = multierror.Append(result, err)
	}
	if err := utils.ValidateTableReference("table", o.Table); err != nil {
		result = multierror.Append(result, err)
	}
	if o.LineSkip < 1 {
		result = multierror.Append(result, fmt.Errorf("line skip must be at least 1 (the header line), got %d",
			o.LineSkip))
	}
	if o.Delimiter == "" {
		result = multierror.Append(result, errors.New("delimiter must not be empty"))
	}
	if !frame.IsUTF8(o.Encoding) {
		if _, err := frame.LookupEncoding(o.Encoding); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if (len(o.TimestampColumns) > 0) != (o.TimestampFormat != "") {
		result = multierror.Append(result, ErrIncompleteTimestamp)
	}
	return o.wrap(result)
}

func (o Options) wrap(result *multierror.Error) error {
	if err := result.ErrorOrNil(); err != nil {
		return usageError("validate options", err, "Run with --help to see the accepted values.")
	}
	return nil
}

// Settings the options in the form they are persisted.
func (o Options) Settings() state.Settings {
	return state.Settings{
		Project:          o.Project,
		Bucket:           o.Bucket,
		Dataset:          o.Dataset,
		Table:            o.Table,
		LineSkip:         o.LineSkip,
		Preprocess:       o.Preprocess,
		Delimiter:        o.Delimiter,
		Encoding:         o.Encoding,
		MaxBadRecords:    o.MaxBadRecords,
		StrictSchema:     o.StrictSchema,
		GuessDate:        o.GuessDate,
		TimestampColumns: o.TimestampColumns,
		TimestampFormat:  o.TimestampFormat,
	}
}
