package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// LocalSource implementation of a local data source: a single file or a folder of files
type LocalSource struct {
	// path an absolute, symlink-free path to the file or the folder
	path string
	// isDir indicates that path is a folder and all its regular files are uploaded
	isDir bool
}

// NewLocalSource is a constructor for creating a new LocalSource.
//
// - path: is the path to a local file or directory on the filesystem. It is expanded ("~"),
// normalized, resolved through symbolic links and made absolute. An error is returned if the
// path does not exist.
func NewLocalSource(path string) (*LocalSource, error) {
	sane, err := SanePath(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(sane)
	if err != nil {
		return nil, fmt.Errorf("failed to access %s: %w", path, err)
	}
	return &LocalSource{path: sane, isDir: info.IsDir()}, nil
}

// SanePath uniformly returns a real, absolute filesystem path.
func SanePath(p string) (string, error) {
	// ~/directory -> /home/user/directory
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to expand %s: %w", p, err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	// A/.//B -> A/B
	p = filepath.Clean(p)
	// Resolve symbolic links
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	}
	// Ensure path is absolute
	return filepath.Abs(p)
}

func (l *LocalSource) IsDirectory() bool {
	return l.isDir
}

func (l *LocalSource) ListFiles(_ context.Context) ([]FileInfo, error) {
	if !l.isDir {
		file, err := l.getFile(l.path)
		if err != nil {
			return nil, err
		}
		return []FileInfo{file}, nil
	}

	entries, err := os.ReadDir(l.path)
	if err != nil {
		return nil, fmt.Errorf("error accessing directory %s: %w", l.path, err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		// only regular files, the same as the folder would be listed by the operator
		if !entry.Type().IsRegular() {
			log.Debug("Skipping non-regular entry", zap.String("entry", entry.Name()))
			continue
		}
		file, err := l.getFile(filepath.Join(l.path, entry.Name()))
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, nil
}

// getFile returns the FileInfo of an existing local file.
func (l *LocalSource) getFile(fullPath string) (FileInfo, error) {
	info, err := os.Stat(fullPath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("error retrieving file %s info: %w", fullPath, err)
	}
	relative, err := filepath.Rel(filepath.Dir(l.path), fullPath)
	if err != nil {
		relative = filepath.Base(fullPath)
	}
	return FileInfo{RelativePath: relative, LocalPath: fullPath, Size: info.Size(), Temp: false}, nil
}

func (l *LocalSource) Dispose(file FileInfo) {
	if file.Temp {
		err := os.Remove(file.LocalPath) // Delete the file
		if err != nil && !os.IsNotExist(err) {
			log.Error("Failed to delete file", zap.String("file", file.LocalPath), zap.Error(err))
		}
	}
}

func (l *LocalSource) Close() error {
	return nil
}
