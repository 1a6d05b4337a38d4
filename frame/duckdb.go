package frame

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
	"go.uber.org/zap"

	"bqupload/utils"
)

// log a convenience wrapper to shorten code lines
var log = utils.Log()

// OutputTimestampFormat the timestamp layout written by Rewrite.
const OutputTimestampFormat = "%Y-%m-%d %H:%M:%S"

var (
	// baseCandidates the types detected when no date parsing is wanted
	baseCandidates = []string{"BOOLEAN", "BIGINT", "DOUBLE", "VARCHAR"}
	// dateCandidates the types detected when date columns are guessed
	dateCandidates = []string{"BOOLEAN", "BIGINT", "DOUBLE", "DATE", "TIMESTAMP", "VARCHAR"}
)

// DuckDB a Reader running on an in-process DuckDB database.
type DuckDB struct {
	db *sql.DB

	// scratchDir receives UTF-8 copies of files in other encodings
	scratchDir string

	// transcoded caches the UTF-8 copy made for a source file, keyed by path and encoding
	transcoded map[string]string
}

// OpenDuckDB opens an in-memory DuckDB database. scratchDir holds the converted copies of non UTF-8 inputs
// and is created on demand.
func OpenDuckDB(scratchDir string) (*DuckDB, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	// every query is self-contained, one connection is enough
	db.SetMaxOpenConns(1)
	return &DuckDB{db: db, scratchDir: scratchDir, transcoded: map[string]string{}}, nil
}

// Close closes the database. The scratch folder is left to the caller.
func (d *DuckDB) Close() error {
	return d.db.Close()
}

// Describe detects the column types of the first opts.NRows data rows (all rows when NRows is 0).
func (d *DuckDB) Describe(ctx context.Context, path string, opts ReadOptions) (*Table, error) {
	input, err := d.input(path, opts.Encoding)
	if err != nil {
		return nil, err
	}
	_, columns, err := d.resolve(ctx, input, opts)
	if err != nil {
		return nil, err
	}
	return &Table{Columns: columns}, nil
}

// Rewrite reads the whole file with the detected types and writes the normalized CSV to dst.
func (d *DuckDB) Rewrite(ctx context.Context, src string, dst string, opts ReadOptions) (*Table, error) {
	input, err := d.input(src, opts.Encoding)
	if err != nil {
		return nil, err
	}
	opts.NRows = 0
	from, columns, err := d.resolve(ctx, input, opts)
	if err != nil {
		return nil, err
	}

	projection := make([]string, 0, len(columns))
	for _, c := range columns {
		name := quoteIdentifier(c.Name)
		if c.sqlType == "DATE" {
			// dates are written as midnight timestamps, the same as every other date column
			projection = append(projection, fmt.Sprintf("CAST(%s AS TIMESTAMP) AS %s", name, name))
		} else {
			projection = append(projection, name)
		}
	}

	query := fmt.Sprintf("COPY (SELECT %s FROM %s) TO %s (FORMAT CSV, HEADER true, DELIMITER ',', "+
		"FORCE_QUOTE *, TIMESTAMPFORMAT %s)",
		strings.Join(projection, ", "), from, quoteString(dst), quoteString(OutputTimestampFormat))
	log.Trace("Rewriting CSV", zap.String("query", query))
	if _, err := d.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("failed to rewrite %s: %w", src, err)
	}
	return &Table{Columns: columns}, nil
}

// resolve builds the read_csv expression matching the options and detects its columns.
func (d *DuckDB) resolve(ctx context.Context, path string, opts ReadOptions) (string, []Column, error) {
	var from string
	switch {
	case len(opts.DateColumns) > 0 && opts.DateFormat != "":
		types := make(map[string]string, len(opts.DateColumns))
		for _, name := range opts.DateColumns {
			types[name] = "TIMESTAMP"
		}
		from = readCSV(path, opts, baseCandidates, types)
	case len(opts.DateColumns) > 0:
		// pin every other column to the type it has without date detection, so that only the
		// requested columns may turn into dates
		plain, err := d.describe(ctx, readCSV(path, opts, baseCandidates, nil), opts.NRows)
		if err != nil {
			return "", nil, err
		}
		types := map[string]string{}
		for _, c := range plain {
			if !opts.isDateColumn(c.Name) {
				types[c.Name] = c.sqlType
			}
		}
		from = readCSV(path, opts, dateCandidates, types)
	default:
		from = readCSV(path, opts, baseCandidates, nil)
	}

	columns, err := d.describe(ctx, from, opts.NRows)
	if err != nil {
		return "", nil, err
	}
	return from, columns, nil
}

// describe runs DESCRIBE over the read_csv expression.
func (d *DuckDB) describe(ctx context.Context, from string, limit int) ([]Column, error) {
	query := "DESCRIBE SELECT * FROM " + from
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	log.Trace("Describing CSV", zap.String("query", query))

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	defer func() { _ = rows.Close() }()

	fields, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var columns []Column
	for rows.Next() {
		// column_name, column_type, null, key, default, extra
		values := make([]any, len(fields))
		pointers := make([]any, len(fields))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		sqlType := strings.ToUpper(fmt.Sprint(values[1]))
		columns = append(columns, Column{Name: fmt.Sprint(values[0]), Type: dtypeOf(sqlType), sqlType: sqlType})
	}
	return columns, rows.Err()
}

// input returns a path DuckDB can read: the file itself, or a UTF-8 copy of it.
func (d *DuckDB) input(path string, encodingName string) (string, error) {
	if IsUTF8(encodingName) {
		return path, nil
	}
	key := path + "\x00" + normalizeEncoding(encodingName)
	if converted, ok := d.transcoded[key]; ok {
		return converted, nil
	}

	if err := os.MkdirAll(d.scratchDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", d.scratchDir, err)
	}
	converted := filepath.Join(d.scratchDir, fmt.Sprintf("utf8_%d_%s", len(d.transcoded),
		strings.TrimSuffix(filepath.Base(path), ".gz")))
	if err := Transcode(path, converted, encodingName); err != nil {
		return "", err
	}
	log.Debug("Converted input to UTF-8", zap.String("file", path), zap.String("encoding", encodingName))
	d.transcoded[key] = converted
	return converted, nil
}

// readCSV builds a read_csv table function call.
func readCSV(path string, opts ReadOptions, candidates []string, types map[string]string) string {
	args := []string{
		quoteString(path),
		"delim=" + quoteString(opts.delimiter()),
		"header=true",
		fmt.Sprintf("skip=%d", opts.SkipRows),
		"auto_type_candidates=" + quoteList(candidates),
	}
	if opts.NRows > 0 {
		args = append(args, fmt.Sprintf("sample_size=%d", opts.NRows))
	} else {
		args = append(args, "sample_size=-1")
	}
	if len(types) > 0 {
		args = append(args, "types="+quoteStruct(types))
	}
	if len(opts.DateColumns) > 0 && opts.DateFormat != "" {
		args = append(args, "timestampformat="+quoteString(opts.DateFormat))
	}
	return "read_csv(" + strings.Join(args, ", ") + ")"
}

// dtypeOf maps a DuckDB type name to the column type.
func dtypeOf(sqlType string) DType {
	switch {
	case sqlType == "BOOLEAN":
		return Bool
	case sqlType == "DATE" || strings.HasPrefix(sqlType, "TIMESTAMP"):
		return Datetime
	case strings.HasSuffix(sqlType, "INT") || sqlType == "BIGINT" || sqlType == "HUGEINT" || sqlType == "INTEGER":
		return Int64
	case sqlType == "DOUBLE" || sqlType == "FLOAT" || sqlType == "REAL" || strings.HasPrefix(sqlType, "DECIMAL"):
		return Float64
	default:
		return Object
	}
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteList(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, v := range values {
		quoted = append(quoted, quoteString(v))
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func quoteStruct(values map[string]string) string {
	pairs := make([]string, 0, len(values))
	for k, v := range values {
		pairs = append(pairs, quoteString(k)+": "+quoteString(v))
	}
	// stable SQL text for logs and tests
	slices.Sort(pairs)
	return "{" + strings.Join(pairs, ", ") + "}"
}
