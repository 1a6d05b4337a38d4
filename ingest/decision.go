package ingest

import (
	"go.uber.org/zap"

	"bqupload/archive"
	"bqupload/target"
)

// DateMode how timestamp columns are chosen.
type DateMode int

const (
	// NoDates no column is parsed as a timestamp
	NoDates DateMode = iota
	// ExplicitDates the operator's columns are parsed with the operator's format
	ExplicitDates
	// GuessedDates the non-numeric columns that look like dates are parsed
	GuessedDates
)

// Decision the per-file choices derived once from the options and the classification.
type Decision struct {
	Format string
	// NeedsFrame the file is read through a data frame (line skip check, schema or rewrite)
	NeedsFrame bool
	// StrictSchema a schema is derived and sent to the loader
	StrictSchema bool
	// Rewrite the file is rewritten as a normalized CSV before staging
	Rewrite bool
	// ExtractEagerly the archive member is extracted next to the archive and staged instead of it
	ExtractEagerly bool
	Dates          DateMode
	// Move the staged local file is removed by the transfer
	Move bool
}

// Decide derives the handling of one file. Options are never changed: preprocessing implied by date
// settings is recorded here.
func Decide(opts Options, c Classification) Decision {
	d := Decision{Format: c.Format}

	if c.Format == target.FormatCSV {
		switch {
		case len(opts.TimestampColumns) > 0:
			d.Dates = ExplicitDates
			if opts.GuessDate {
				log.Info("Both date guessing and timestamp columns are set, only the timestamp format is used",
					zap.Strings("columns", opts.TimestampColumns))
			}
		case opts.GuessDate:
			d.Dates = GuessedDates
		}
		// dates can only be normalized by rewriting the file
		d.Rewrite = opts.Preprocess || d.Dates != NoDates
		d.StrictSchema = opts.StrictSchema || d.Dates == GuessedDates
		d.NeedsFrame = d.Rewrite || d.StrictSchema
	} else if opts.Preprocess || opts.StrictSchema || opts.GuessDate || len(opts.TimestampColumns) > 0 {
		log.Info("Preprocessing options only apply to delimited files and are ignored",
			zap.String("file", c.Name), zap.String("format", c.Format))
	}

	d.ExtractEagerly = c.Archive != archive.None && !d.Rewrite
	d.Move = d.Format == target.FormatNDJSON || d.Rewrite
	return d
}
