package source

import (
	"context"
	"strings"

	"bqupload/utils"
)

// log a convenience wrapper to shorten code lines
var log = utils.Log()

// FileInfo represents a file to be processed - may be temporary
type FileInfo struct {
	// RelativePath specifies the file path relative to Source. Used for addressing files in the remote data source.
	RelativePath string
	// LocalPath an absolute path of a local file (downloaded from a remote data source if needed)
	LocalPath string
	// Size the file Size in bytes
	Size int64
	// Temp indicates that the file is temporary and must be removed by this program at the end (downloaded from S3)
	Temp bool
}

// Source resolves the input path given by the operator into the list of files to upload.
type Source interface {

	// IsDirectory reports whether the input path selects several files (a folder or an S3 prefix).
	// The caller warns the operator before uploading a whole folder.
	IsDirectory() bool

	// ListFiles returns the files selected by the input path, sorted by name.
	// Remote files are downloaded and returned with an absolute LocalPath.
	// Folders are not traversed recursively.
	ListFiles(ctx context.Context) ([]FileInfo, error)

	// Dispose this method must be called for every returned file when it is not needed anymore.
	// It will make sure all temporary files are removed and not use disk space when not needed.
	// If the file is not a temporary file, this method does nothing.
	Dispose(file FileInfo)

	// Close releases everything the source allocated (temporary folders, clients).
	Close() error
}

// IsS3Path reports whether the input path addresses an S3 object or prefix.
func IsS3Path(path string) bool {
	return strings.HasPrefix(path, s3Scheme)
}

// New picks the Source implementation matching the input path.
func New(ctx context.Context, path string, s3Conf S3Config) (Source, error) {
	if IsS3Path(path) {
		return NewS3Source(ctx, path, s3Conf)
	}
	return NewLocalSource(path)
}
