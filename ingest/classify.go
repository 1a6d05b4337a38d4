package ingest

import (
	"fmt"
	"path/filepath"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"bqupload/archive"
	"bqupload/target"
)

// unsupportedCompression codecs the loader cannot read; gzip is read natively
var unsupportedCompression = mapset.NewSet(".xz", ".bz2")

// Suffixes returns the suffix chain of a file name, e.g. "sales.csv.tar.gz" -> [".csv", ".tar", ".gz"].
// Leading dots are part of the stem and the chain is lower-cased.
func Suffixes(name string) []string {
	name = filepath.Base(name)
	if strings.HasSuffix(name, ".") {
		return nil
	}
	parts := strings.Split(strings.TrimLeft(name, "."), ".")
	suffixes := make([]string, 0, len(parts)-1)
	for _, part := range parts[1:] {
		suffixes = append(suffixes, "."+strings.ToLower(part))
	}
	return suffixes
}

// Classification what a file holds, decided from names only.
type Classification struct {
	// Name the effective file name: the archive member for a single-file archive
	Name string
	// Suffixes the suffix chain of Name
	Suffixes []string
	// Archive the container wrapping the file, archive.None for a plain file
	Archive archive.Kind
	// Member the archived file, set when Archive is not archive.None
	Member *archive.Member
	// Format the loader source format tag
	Format string
}

// Classify inspects the name of the file and, for an archive, the name of its only member.
func Classify(path string) (Classification, error) {
	name := filepath.Base(path)
	suffixes := Suffixes(name)

	if found := unsupportedCompression.Intersect(mapset.NewSet(suffixes...)); found.Cardinality() > 0 {
		return Classification{}, usageError("classify "+name,
			fmt.Errorf("%w: %s", ErrUnsupportedCompression, strings.Join(found.ToSlice(), ", ")),
			"The loader does not read xz or bz2 files, uncompress the file before loading it.")
	}

	c := Classification{Name: name, Suffixes: suffixes, Archive: archive.KindOf(suffixes)}
	if c.Archive != archive.None {
		member, err := archive.Inspect(path, c.Archive)
		if err != nil {
			return Classification{}, usageError("classify "+name, err,
				"Only archives holding exactly one file are supported, extract it manually and load the folder.")
		}
		c.Member = &member
		c.Name = member.Name
		c.Suffixes = Suffixes(member.Name)
	}
	c.Format = formatOf(c.Suffixes)
	return c, nil
}

func formatOf(suffixes []string) string {
	set := mapset.NewSet(suffixes...)
	switch {
	case set.Contains(".json"):
		return target.FormatNDJSON
	case set.Contains(".avro"):
		return target.FormatAvro
	case set.Contains(".parquet"):
		return target.FormatParquet
	default:
		return target.FormatCSV
	}
}
