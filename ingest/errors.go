package ingest

import (
	"errors"
	"fmt"
)

// Kind the class of a fatal error; it selects the process exit code.
type Kind int

const (
	// KindInternal anything not classified below
	KindInternal Kind = iota
	// KindUsage a configuration or input problem the operator has to fix
	KindUsage
	// KindExternal the storage tool, the loader or the cloud project reported a failure
	KindExternal
	// KindData the input file cannot be read or parsed
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindUsage:
		return "usage"
	case KindExternal:
		return "external"
	case KindData:
		return "data"
	default:
		return "internal"
	}
}

// ExitCode the process exit code of the kind.
func (k Kind) ExitCode() int {
	switch k {
	case KindUsage:
		return 2
	case KindExternal:
		return 3
	case KindData:
		return 4
	default:
		return 1
	}
}

var (
	// ErrUnsupportedCompression the file is compressed with a codec the loader cannot read.
	ErrUnsupportedCompression = errors.New("unsupported compression")

	// ErrSkipMismatch the column count changes with the header-skip offset.
	ErrSkipMismatch = errors.New("incorrect line skip")

	// ErrIncompleteTimestamp only one of timestamp columns and timestamp format was given.
	ErrIncompleteTimestamp = errors.New("timestamp columns and timestamp format must be given together")

	// ErrProjectInaccessible the cloud project does not exist or cannot be used.
	ErrProjectInaccessible = errors.New("project is not accessible")

	// ErrStagingFailed the storage tool did not confirm the transfer.
	ErrStagingFailed = errors.New("staging failed")

	// ErrLoadFailed the load job was rejected.
	ErrLoadFailed = errors.New("load failed")
)

// Error a classified fatal error with the advice shown to the operator.
type Error struct {
	Kind Kind
	// Op the step that failed
	Op  string
	Err error
	// Remedy what the operator can do about it, may be empty
	Remedy string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func usageError(op string, err error, remedy string) error {
	return &Error{Kind: KindUsage, Op: op, Err: err, Remedy: remedy}
}

func externalError(op string, err error, remedy string) error {
	return &Error{Kind: KindExternal, Op: op, Err: err, Remedy: remedy}
}

func dataError(op string, err error, remedy string) error {
	return &Error{Kind: KindData, Op: op, Err: err, Remedy: remedy}
}

// KindOf returns the kind of the first classified error in the chain, KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// RemedyOf returns the operator advice carried by the error chain.
func RemedyOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Remedy
	}
	return ""
}

// ExitCode maps an error to the process exit code; nil is 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return KindOf(err).ExitCode()
}
