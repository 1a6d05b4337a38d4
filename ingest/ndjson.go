package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/klauspost/compress/gzip"
)

// ReformatJSON rewrites a JSON document as one object per line. A top-level array yields one line per
// element; a stream of top-level values is copied value by value. Values are compacted without being
// decoded, so keys keep their order and numbers their text. Gzip files stay gzip-compressed.
func ReformatJSON(src string, dst string) (int, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	compressed := strings.HasSuffix(strings.ToLower(src), ".gz")
	var reader io.Reader = in
	if compressed {
		gz, err := gzip.NewReader(in)
		if err != nil {
			return 0, fmt.Errorf("failed to decompress %s: %w", src, err)
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	}

	buffered := bufio.NewReader(reader)
	array, err := topLevelArray(buffered)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", src, err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dst, err)
	}
	var sink io.Writer = out
	var gzOut *gzip.Writer
	if compressed {
		gzOut = gzip.NewWriter(out)
		sink = gzOut
	}
	writer := bufio.NewWriter(sink)

	count, err := writeLines(json.NewDecoder(buffered), array, writer)
	if err == nil {
		err = writer.Flush()
	}
	if err == nil && gzOut != nil {
		err = gzOut.Close()
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return count, fmt.Errorf("failed to reformat %s: %w", src, err)
	}
	return count, nil
}

// topLevelArray skips a byte order mark and leading whitespace, and reports whether the document is an array.
func topLevelArray(r *bufio.Reader) (bool, error) {
	for {
		b, err := r.Peek(1)
		if err != nil {
			return false, err
		}
		if b[0] == '[' {
			return true, nil
		}
		// utf-8 byte order mark or whitespace
		if b[0] == 0xEF {
			if bom, err := r.Peek(3); err == nil && string(bom) == "\xEF\xBB\xBF" {
				_, _ = r.Discard(3)
				continue
			}
		}
		if !unicode.IsSpace(rune(b[0])) {
			return false, nil
		}
		_, _ = r.Discard(1)
	}
}

func writeLines(decoder *json.Decoder, array bool, w io.Writer) (int, error) {
	if array {
		if _, err := decoder.Token(); err != nil {
			return 0, err
		}
	}

	count := 0
	var line bytes.Buffer
	for decoder.More() {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			return count, err
		}
		line.Reset()
		if err := json.Compact(&line, raw); err != nil {
			return count, err
		}
		line.WriteByte('\n')
		if _, err := w.Write(line.Bytes()); err != nil {
			return count, err
		}
		count++
	}

	if array {
		if _, err := decoder.Token(); err != nil {
			return count, err
		}
	}
	return count, nil
}
