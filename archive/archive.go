// Package archive inspects and extracts the two container formats the uploader accepts: .zip and .tar
// (optionally gzip-compressed). Only archives with exactly one member are supported.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/klauspost/compress/gzip"

	"bqupload/utils"
)

var (
	// ErrMultipleMembers the archive holds more than one entry.
	ErrMultipleMembers = errors.New("archive contains more than one member")

	// ErrEmpty the archive holds no regular file.
	ErrEmpty = errors.New("archive contains no file")

	// ErrUnsafeMember the member name cannot be used as a local file name.
	ErrUnsafeMember = errors.New("archive member has an unsafe name")
)

// Kind the container format of an archive.
type Kind int

const (
	None Kind = iota
	Zip
	Tar
)

func (k Kind) String() string {
	switch k {
	case Zip:
		return "zip"
	case Tar:
		return "tar"
	default:
		return "none"
	}
}

// Extensions the suffixes recognized as supported containers.
var Extensions = mapset.NewSet(".zip", ".tar")

// KindOf detects the container from a file's suffix chain (e.g. [".csv", ".tar", ".gz"]).
// A ".tar" suffix wins over ".zip" when both are present.
func KindOf(suffixes []string) Kind {
	found := Extensions.Intersect(mapset.NewSet(suffixes...))
	switch {
	case found.Contains(".tar"):
		return Tar
	case found.Contains(".zip"):
		return Zip
	default:
		return None
	}
}

// Member the single file stored in an archive.
type Member struct {
	// Path the name as stored in the archive, may contain folders
	Path string
	// Name the base name, used for every derived local file
	Name string
	// Size the uncompressed size in bytes
	Size int64
}

// Inspect returns the only member of the archive without extracting it.
func Inspect(archivePath string, kind Kind) (Member, error) {
	var member Member
	err := walk(archivePath, kind, func(m Member, _ io.Reader) error {
		member = m
		return nil
	})
	return member, err
}

// Extract writes the only member of the archive into destDir and returns the path of the new file.
func Extract(archivePath string, kind Kind, destDir string) (string, error) {
	var target string
	err := walk(archivePath, kind, func(m Member, content io.Reader) error {
		target = filepath.Join(destDir, m.Name)
		return writeFile(target, content)
	})
	if err != nil {
		return "", err
	}
	return target, nil
}

// walk validates that the archive has exactly one member, then hands it to fn.
func walk(archivePath string, kind Kind, fn func(Member, io.Reader) error) error {
	switch kind {
	case Zip:
		return walkZip(archivePath, fn)
	case Tar:
		return walkTar(archivePath, fn)
	default:
		return fmt.Errorf("%s is not a supported archive", archivePath)
	}
}

func walkZip(archivePath string, fn func(Member, io.Reader) error) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open zip archive %s: %w", archivePath, err)
	}
	defer func() { _ = reader.Close() }()

	if len(reader.File) > 1 {
		return fmt.Errorf("%s: %w (%d)", archivePath, ErrMultipleMembers, len(reader.File))
	}
	if len(reader.File) == 0 || reader.File[0].FileInfo().IsDir() {
		return fmt.Errorf("%s: %w", archivePath, ErrEmpty)
	}

	entry := reader.File[0]
	member, err := newMember(entry.Name, int64(entry.UncompressedSize64))
	if err != nil {
		return err
	}
	content, err := entry.Open()
	if err != nil {
		return fmt.Errorf("failed to read %s from %s: %w", entry.Name, archivePath, err)
	}
	defer func() { _ = content.Close() }()
	return fn(member, content)
}

func walkTar(archivePath string, fn func(Member, io.Reader) error) error {
	// the first pass counts the entries, so that nothing is extracted from an unsupported archive
	count := 0
	var first *tar.Header
	err := readTar(archivePath, func(header *tar.Header, _ io.Reader) error {
		count++
		if first == nil {
			first = header
		}
		return nil
	})
	if err != nil {
		return err
	}
	if count > 1 {
		return fmt.Errorf("%s: %w (%d)", archivePath, ErrMultipleMembers, count)
	}
	if first == nil || first.Typeflag != tar.TypeReg {
		return fmt.Errorf("%s: %w", archivePath, ErrEmpty)
	}

	member, err := newMember(first.Name, first.Size)
	if err != nil {
		return err
	}
	return readTar(archivePath, func(_ *tar.Header, content io.Reader) error {
		return fn(member, content)
	})
}

// readTar iterates the entries of a tar archive, transparently decompressing gzip.
func readTar(archivePath string, fn func(*tar.Header, io.Reader) error) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open tar archive %s: %w", archivePath, err)
	}
	defer func() { _ = file.Close() }()

	buffered := bufio.NewReader(file)
	var stream io.Reader = buffered
	if magic, err := buffered.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(buffered)
		if err != nil {
			return fmt.Errorf("failed to decompress %s: %w", archivePath, err)
		}
		defer func() { _ = gz.Close() }()
		stream = gz
	}

	reader := tar.NewReader(stream)
	for {
		header, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar archive %s: %w", archivePath, err)
		}
		if err := fn(header, reader); err != nil {
			return err
		}
	}
}

func newMember(name string, size int64) (Member, error) {
	base := path.Base(filepath.ToSlash(name))
	if base == "." || base == "/" || utils.FindFilePathCharacters(base) {
		return Member{}, fmt.Errorf("%w: %q", ErrUnsafeMember, name)
	}
	return Member{Path: name, Name: base, Size: size}, nil
}

// writeFile never replaces an existing file.
func writeFile(target string, content io.Reader) error {
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(out, content); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to extract into %s: %w", target, err)
	}
	return out.Close()
}
