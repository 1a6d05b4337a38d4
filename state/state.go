// Package state keeps the record of the last staged upload, so that a later run can repeat only the
// warehouse load with different settings.
package state

import (
	"errors"
	"time"

	"bqupload/utils"
)

// log a convenience wrapper to shorten code lines
var log = utils.Log()

var (
	// ErrNotFound no upload was recorded yet.
	ErrNotFound = errors.New("no previous upload recorded")

	// ErrSerializationFailed the stored record cannot be decoded.
	ErrSerializationFailed = errors.New("state serialization failed")
)

// Settings the effective options of the run that produced the record.
type Settings struct {
	Project          string   `cbor:"1,keyasint" yaml:"project"`
	Bucket           string   `cbor:"2,keyasint" yaml:"bucket"`
	Dataset          string   `cbor:"3,keyasint" yaml:"dataset"`
	Table            string   `cbor:"4,keyasint" yaml:"table"`
	LineSkip         int      `cbor:"5,keyasint" yaml:"line_skip"`
	Preprocess       bool     `cbor:"6,keyasint" yaml:"preprocess"`
	Delimiter        string   `cbor:"7,keyasint" yaml:"delimiter"`
	Encoding         string   `cbor:"8,keyasint" yaml:"encoding"`
	MaxBadRecords    int      `cbor:"9,keyasint" yaml:"max_bad_records"`
	StrictSchema     bool     `cbor:"10,keyasint" yaml:"strict_schema"`
	GuessDate        bool     `cbor:"11,keyasint" yaml:"guess_date"`
	TimestampColumns []string `cbor:"12,keyasint,omitempty" yaml:"timestamp_columns,omitempty"`
	TimestampFormat  string   `cbor:"13,keyasint,omitempty" yaml:"timestamp_format,omitempty"`
}

// LastRunState the single persisted record, overwritten by every normal run.
type LastRunState struct {
	// RunID identifies the run in the logs
	RunID string `cbor:"1,keyasint" yaml:"run_id"`
	// File the local file the staged object was made from
	File string `cbor:"2,keyasint" yaml:"file"`
	// UploadName the object key in the bucket
	UploadName string `cbor:"3,keyasint" yaml:"upload_name"`
	// Schema the strict schema string; empty means the loader auto-detects
	Schema string `cbor:"4,keyasint,omitempty" yaml:"schema,omitempty"`
	// Format the loader source format tag
	Format string `cbor:"5,keyasint" yaml:"format"`
	// Settings the options the load was run with. After preprocessing they describe the rewritten file:
	// a single header line and a comma delimiter.
	Settings Settings `cbor:"6,keyasint" yaml:"settings"`
	// StagedAt when the object was staged
	StagedAt time.Time `cbor:"7,keyasint" yaml:"staged_at"`
}

// Store the key-value store holding the record.
type Store interface {
	// Put overwrites the record.
	Put(record LastRunState) error

	// Get returns the record or ErrNotFound.
	Get() (LastRunState, error)

	// Close releases the store.
	Close() error
}
