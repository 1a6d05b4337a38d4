package frame

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// IsUTF8 reports whether the encoding name means plain UTF-8, which needs no conversion.
func IsUTF8(name string) bool {
	switch normalizeEncoding(name) {
	case "", "utf-8", "utf8":
		return true
	default:
		return false
	}
}

func normalizeEncoding(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.ReplaceAll(name, "_", "-")
}

// LookupEncoding resolves an encoding name (IANA or WHATWG label, e.g. "latin1", "cp1252", "utf-16").
func LookupEncoding(name string) (encoding.Encoding, error) {
	normalized := normalizeEncoding(name)
	switch normalized {
	case "utf-8-sig":
		return unicode.UTF8BOM, nil
	case "latin-1":
		normalized = "latin1"
	}
	if enc, err := ianaindex.IANA.Encoding(normalized); err == nil && enc != nil {
		return enc, nil
	}
	if enc, err := htmlindex.Get(normalized); err == nil && enc != nil {
		return enc, nil
	}
	return nil, fmt.Errorf("unsupported encoding %q", name)
}

// Transcode converts src from the named encoding to UTF-8 and writes the result to dst.
// A gzip-compressed src (".gz") is decompressed on the way, dst is always uncompressed.
func Transcode(src string, dst string, encodingName string) error {
	enc, err := LookupEncoding(encodingName)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	var reader io.Reader = in
	if strings.HasSuffix(strings.ToLower(src), ".gz") {
		gz, err := gzip.NewReader(in)
		if err != nil {
			return fmt.Errorf("failed to decompress %s: %w", src, err)
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, transform.NewReader(reader, enc.NewDecoder())); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to convert %s from %s: %w", src, encodingName, err)
	}
	return out.Close()
}
