// Package frame reads delimited files into typed tables and writes normalized copies of them.
// It plays the role of a data-frame library for the upload pipeline: column type detection,
// timestamp parsing and re-serialization of a CSV file in a warehouse-friendly shape.
package frame

import (
	"context"
	"slices"
)

// DType the detected type of a column.
type DType int

const (
	// Object any column that is not numeric, boolean or a timestamp
	Object DType = iota
	Int64
	Float64
	Bool
	Datetime
)

// String returns the data-frame style name of the type.
func (d DType) String() string {
	switch d {
	case Int64:
		return "int64"
	case Float64:
		return "float64"
	case Bool:
		return "bool"
	case Datetime:
		return "datetime64[ns]"
	default:
		return "object"
	}
}

// Numeric reports whether the type is an integer or a float.
func (d DType) Numeric() bool {
	return d == Int64 || d == Float64
}

// Column one column of a table.
type Column struct {
	Name string
	Type DType

	// sqlType the engine type the column was detected as, used to pin it in later reads
	sqlType string
}

// Table the columns of a file as they were detected.
type Table struct {
	Columns []Column
}

// Names returns the column names in file order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		names = append(names, c.Name)
	}
	return names
}

// NonNumeric returns the names of the columns which are neither integer nor float.
func (t *Table) NonNumeric() []string {
	var names []string
	for _, c := range t.Columns {
		if !c.Type.Numeric() {
			names = append(names, c.Name)
		}
	}
	return names
}

// DateColumns returns the names of the timestamp columns.
func (t *Table) DateColumns() []string {
	var names []string
	for _, c := range t.Columns {
		if c.Type == Datetime {
			names = append(names, c.Name)
		}
	}
	return names
}

// ReadOptions how a delimited file is read.
type ReadOptions struct {
	// Delimiter the field separator, "," when empty
	Delimiter string
	// Encoding the character encoding of the file, UTF-8 when empty
	Encoding string
	// SkipRows lines skipped before the header line
	SkipRows int
	// NRows the number of data rows used for type detection; 0 reads the whole file
	NRows int
	// DateColumns columns parsed as timestamps. With DateFormat set every value must parse with it,
	// otherwise each column is converted only when its values are recognized as dates.
	DateColumns []string
	// DateFormat a strptime format string such as "%d/%m/%Y %H:%M"
	DateFormat string
}

func (o ReadOptions) delimiter() string {
	if o.Delimiter == "" {
		return ","
	}
	return o.Delimiter
}

func (o ReadOptions) isDateColumn(name string) bool {
	return slices.Contains(o.DateColumns, name)
}

// Reader is implemented by the engines that can introspect and rewrite delimited files.
type Reader interface {
	// Describe detects the columns of the file.
	Describe(ctx context.Context, path string, opts ReadOptions) (*Table, error)

	// ColumnCount counts the fields of the header line after opts.SkipRows lines without reading any data
	// row. It returns io.EOF when the file has no line there.
	ColumnCount(ctx context.Context, path string, opts ReadOptions) (int, error)

	// Rewrite reads the whole file and writes it to dst as a comma-separated file with a single header
	// line, every value quoted and timestamps formatted as "YYYY-MM-DD HH:MM:SS".
	Rewrite(ctx context.Context, src string, dst string, opts ReadOptions) (*Table, error)
}
