package frame

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
)

// ColumnCount counts the fields of the header line found after opts.SkipRows lines. Only the header line is
// read, so ragged rows below it cannot fail the count. io.EOF means the file ends before that line.
func (d *DuckDB) ColumnCount(_ context.Context, path string, opts ReadOptions) (int, error) {
	input, err := d.input(path, opts.Encoding)
	if err != nil {
		return 0, err
	}
	return CountHeaderFields(input, opts.delimiter(), opts.SkipRows)
}

// CountHeaderFields counts the delimited fields of the first non-empty line after skip lines of a UTF-8
// file, gzip-compressed when its name ends with ".gz". Quoted fields may hold the delimiter.
func CountHeaderFields(path string, delimiter string, skip int) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	var reader io.Reader = file
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return 0, fmt.Errorf("failed to decompress %s: %w", path, err)
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	}

	buffered := bufio.NewReader(reader)
	for i := 0; i < skip; i++ {
		if _, err := buffered.ReadString('\n'); err != nil {
			return 0, err
		}
	}
	if skip == 0 {
		if bom, err := buffered.Peek(3); err == nil && string(bom) == "\xEF\xBB\xBF" {
			_, _ = buffered.Discard(3)
		}
	}

	if utf8.RuneCountInString(delimiter) != 1 {
		for {
			line, err := buffered.ReadString('\n')
			if trimmed := strings.TrimRight(line, "\r\n"); trimmed != "" {
				return strings.Count(trimmed, delimiter) + 1, nil
			}
			if err != nil {
				return 0, err
			}
		}
	}

	records := csv.NewReader(buffered)
	records.Comma, _ = utf8.DecodeRuneInString(delimiter)
	records.FieldsPerRecord = -1
	records.LazyQuotes = true
	fields, err := records.Read()
	if err != nil {
		return 0, err
	}
	return len(fields), nil
}
