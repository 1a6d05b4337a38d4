package ingest

import (
	"path/filepath"

	"bqupload/source"
)

// UploadRequest one input file on its way to the warehouse. Current starts at the source file and is
// redirected to every derived file preprocessing produces.
type UploadRequest struct {
	// Source the absolute path of the input file
	Source string
	// Name the base name of the input file
	Name string
	// Suffixes the suffix chain of Name
	Suffixes []string

	// Current the file that will be staged
	Current string
	// UploadName the name the staged object is derived from
	UploadName string

	// derived files created for this request, removed after a successful load
	derived []string
}

func newUploadRequest(file source.FileInfo) *UploadRequest {
	name := filepath.Base(file.LocalPath)
	return &UploadRequest{
		Source:     file.LocalPath,
		Name:       name,
		Suffixes:   Suffixes(name),
		Current:    file.LocalPath,
		UploadName: name,
	}
}

// redirect points the request at a derived file.
func (r *UploadRequest) redirect(path string, derived bool) {
	r.Current = path
	if derived {
		r.derived = append(r.derived, path)
	}
}

// UploadPlan the decided parameters of staging and loading one file.
type UploadPlan struct {
	// LocalPath the file handed to the storage client
	LocalPath string
	// Key the object name in the bucket
	Key    string
	Format string
	// Schema the strict schema, nil lets the loader auto-detect
	Schema Schema
	// Move the local file is removed by the transfer
	Move bool
	// Delimiter and SkipLeadingRows describe the staged CSV file
	Delimiter       string
	SkipLeadingRows int
}

// SchemaString the serialized schema, empty for auto-detection.
func (p UploadPlan) SchemaString() string {
	if len(p.Schema) == 0 {
		return ""
	}
	return p.Schema.String()
}
