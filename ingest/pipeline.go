// Package ingest decides, per input file, how it is uploaded: the loader format, the local preprocessing,
// the schema and the staged object name. It then stages the file, records the run and loads the object.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bqupload/archive"
	"bqupload/frame"
	"bqupload/source"
	"bqupload/state"
	"bqupload/target"
	"bqupload/utils"
)

// log a convenience wrapper to shorten code lines
var log = utils.Log()

const (
	// skipCheckOffset the skip the operator's skip is compared against
	skipCheckOffset = 10
	// strictRows the rows a strict schema is derived from
	strictRows = 2
	// guessRows the rows dates are guessed from
	guessRows = 200

	formattedJSONPrefix = "formatted_json_"
	processedPrefix     = "processed_"
)

// Pipeline uploads the files of one input path. It is used for a single run and is not safe for
// concurrent use.
type Pipeline struct {
	Options   Options
	Storage   target.StorageClient
	Warehouse target.WarehouseLoader
	Frames    frame.Reader
	Store     state.Store

	// ScratchDir receives extracted archive members and derived files, never the operator's folder.
	// A temporary folder is created on first use when empty.
	ScratchDir string
	// DirectoryPause the delay before a whole folder is uploaded
	DirectoryPause time.Duration
	// RunID identifies the run in the logs and in the state record, generated when empty
	RunID string

	// now the clock used for the state record
	now func() time.Time
}

// OpenSource opens the input path of the options.
func OpenSource(ctx context.Context, opts Options, s3Conf source.S3Config) (source.Source, error) {
	src, err := source.New(ctx, opts.Path, s3Conf)
	if err != nil {
		return nil, dataError("open "+opts.Path, err, "Check that the path exists and can be read.")
	}
	return src, nil
}

// ResolveProject returns the project to work in. Without an explicit project the gcloud default is used;
// an explicit project must be accessible.
func ResolveProject(ctx context.Context, resolver target.ProjectResolver, project string) (string, error) {
	if project == "" {
		project, err := resolver.DefaultProject(ctx)
		if errors.Is(err, target.ErrNoDefaultProject) {
			return "", usageError("resolve project", err, "Run 'gcloud init' to set a default project or pass --project.")
		}
		if err != nil {
			return "", externalError("resolve project", err, "")
		}
		log.Info("Using the default configured project", zap.String("project", project))
		return project, nil
	}

	result, err := resolver.CheckProject(ctx, project)
	if err != nil {
		return "", externalError("check project", err, "")
	}
	if !result.Success {
		log.Error("The project cannot be used", zap.String("project", project),
			zap.String("output", strings.TrimSpace(result.Raw)))
		if listing, err := resolver.ListProjects(ctx); err == nil {
			log.Info("Available projects:\n" + listing)
		}
		return "", externalError("check project", fmt.Errorf("%w: %s", ErrProjectInaccessible, project),
			"Pass one of the available projects with --project.")
	}
	log.Info("The project exists", zap.String("project", project))
	return project, nil
}

// Preflight checks that the external tools are installed.
func Preflight(tools ...string) error {
	if err := target.CheckTools(tools...); err != nil {
		return usageError("preflight", err,
			"Install the Google Cloud SDK (https://cloud.google.com/sdk/docs/install) and make sure its tools are on the PATH.")
	}
	return nil
}

func (p *Pipeline) runID() string {
	if p.RunID == "" {
		p.RunID = uuid.NewString()
	}
	return p.RunID
}

func (p *Pipeline) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

// Run prepares the bucket and the dataset, then uploads every file of the source one after the other.
// The first failure stops the run; files uploaded before it stay loaded.
func (p *Pipeline) Run(ctx context.Context, src source.Source) error {
	opts := p.Options
	runField := zap.String("run", p.runID())

	if err := p.Storage.EnsureBucket(ctx, opts.Project, opts.Bucket); err != nil {
		return externalError("prepare bucket "+opts.Bucket, err,
			"Check the bucket name and your access to the project.")
	}
	if err := p.Warehouse.EnsureDataset(ctx, opts.Dataset); err != nil {
		return externalError("prepare dataset "+opts.Dataset, err, "Check your access to the project.")
	}

	if src.IsDirectory() {
		log.Warn("A folder was selected, every file in it will be uploaded", runField,
			zap.String("path", opts.Path), zap.Duration("pause", p.DirectoryPause))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.DirectoryPause):
		}
	}

	files, err := src.ListFiles(ctx)
	if err != nil {
		return dataError("list "+opts.Path, err, "Check that the path exists and can be read.")
	}
	log.Info("Files to be uploaded", runField, zap.Int("count", len(files)))

	startTime := time.Now()
	for _, file := range files {
		if err := p.processFile(ctx, file); err != nil {
			return err
		}
		src.Dispose(file)
	}
	log.Info("Finished uploading", runField, zap.Int("count", len(files)),
		zap.Duration("total_time", time.Since(startTime)))
	return nil
}

// processFile classifies, prepares, stages and loads one file.
func (p *Pipeline) processFile(ctx context.Context, file source.FileInfo) error {
	req := newUploadRequest(file)
	log.Info("Uploading file", zap.String("run", p.runID()), zap.String("file", req.Name))

	c, err := Classify(req.Source)
	if err != nil {
		return err
	}
	d := Decide(p.Options, c)
	log.Debug("Upload decided", zap.String("file", req.Name), zap.String("format", d.Format),
		zap.Bool("strict_schema", d.StrictSchema), zap.Bool("rewrite", d.Rewrite),
		zap.Bool("extract", d.ExtractEagerly), zap.Bool("move", d.Move))

	plan, err := p.prepare(ctx, req, c, d)
	if err != nil {
		return err
	}
	if err := p.stage(ctx, plan); err != nil {
		return err
	}

	settings := p.Options.Settings()
	settings.Delimiter = plan.Delimiter
	settings.LineSkip = plan.SkipLeadingRows
	record := state.LastRunState{
		RunID:      p.runID(),
		File:       plan.LocalPath,
		UploadName: plan.Key,
		Schema:     plan.SchemaString(),
		Format:     plan.Format,
		Settings:   settings,
		StagedAt:   p.clock(),
	}
	if err := p.Store.Put(record); err != nil {
		// the upload itself can still succeed, only a later reload is affected
		log.Error("Failed to save the upload state", zap.String("key", plan.Key), zap.Error(err))
	}

	if err := p.load(ctx, record); err != nil {
		return err
	}
	p.cleanup(req)
	return nil
}

// prepare runs the local steps of the decision and returns the upload plan.
func (p *Pipeline) prepare(ctx context.Context, req *UploadRequest, c Classification, d Decision) (UploadPlan, error) {
	plan := UploadPlan{
		Format:          d.Format,
		Move:            d.Move,
		Delimiter:       p.Options.Delimiter,
		SkipLeadingRows: p.Options.LineSkip,
	}

	if d.ExtractEagerly {
		log.Info("The loader does not read archives, extracting the member",
			zap.String("file", req.Name), zap.String("member", c.Member.Path))
		dir, err := p.workDir()
		if err != nil {
			return plan, err
		}
		extracted, err := archive.Extract(req.Source, c.Archive, dir)
		if err != nil {
			return plan, dataError("extract "+req.Name, err, "")
		}
		req.redirect(extracted, true)
		req.UploadName = c.Name
	}

	switch d.Format {
	case target.FormatNDJSON:
		dir, err := p.workDir()
		if err != nil {
			return plan, err
		}
		formatted := filepath.Join(dir, formattedJSONPrefix+utils.SanitizeFileName(c.Name))
		count, err := ReformatJSON(req.Current, formatted)
		if err != nil {
			return plan, dataError("reformat "+req.Name, err, "Check that the file holds valid JSON.")
		}
		log.Info("Reformatted JSON to one object per line", zap.String("file", req.Name),
			zap.String("output", formatted), zap.Int("objects", count))
		req.redirect(formatted, true)
		req.UploadName = filepath.Base(formatted)
	case target.FormatParquet:
		info, err := source.InspectParquet(req.Current)
		if err != nil {
			return plan, dataError("inspect "+req.Name, err, "The file is not a valid Parquet file.")
		}
		log.Info("Parquet file inspected", zap.String("file", req.Name), zap.Int64("rows", info.Rows),
			zap.Int("columns", len(info.Columns)))
	case target.FormatCSV:
		if d.NeedsFrame {
			if err := p.preprocess(ctx, req, c, d, &plan); err != nil {
				return plan, err
			}
		}
	}
	if d.Format != target.FormatCSV {
		log.Info("Not a delimited file, it is uploaded without preprocessing", zap.String("file", req.Name),
			zap.String("format", d.Format))
	}

	if err := p.sanitizeName(req); err != nil {
		return plan, err
	}
	plan.LocalPath = req.Current
	plan.Key = utils.SanitizeFileName(req.UploadName)
	return plan, nil
}

// sanitizeName stages a copy under a clean name when the current file name has characters the storage
// and warehouse tools misread. The copy of an operator file stays next to it.
func (p *Pipeline) sanitizeName(req *UploadRequest) error {
	base := filepath.Base(req.Current)
	if !utils.NeedsSanitizing(base) {
		return nil
	}
	alias := filepath.Join(filepath.Dir(req.Current), utils.SanitizeFileName(base))
	derived := len(req.derived) > 0 && req.derived[len(req.derived)-1] == req.Current

	same, err := sameContent(req.Current, alias)
	switch {
	case err == nil && same:
		log.Info("A copy without &, *, ? or - already exists, it is uploaded", zap.String("file", base),
			zap.String("copy", filepath.Base(alias)))
		// the existing copy is not ours to remove
		req.redirect(alias, false)
		return nil
	case err == nil:
		return usageError("copy "+base, fmt.Errorf("%s already exists with a different content", alias),
			"Rename or move "+filepath.Base(alias)+", the upload needs its name for a copy of "+base+".")
	case !os.IsNotExist(err):
		return dataError("copy "+base, err, "")
	}

	log.Info("The file name contains &, *, ? or -, a copy without them is uploaded",
		zap.String("file", base), zap.String("copy", filepath.Base(alias)))
	if err := copyFile(req.Current, alias); err != nil {
		return dataError("copy "+base, err, "")
	}
	req.redirect(alias, derived)
	return nil
}

// preprocess reads a delimited file through the frame reader: the line skip check, the schema and the
// normalized rewrite.
func (p *Pipeline) preprocess(ctx context.Context, req *UploadRequest, c Classification, d Decision,
	plan *UploadPlan) error {
	input := req.Current
	if c.Archive != archive.None && !d.ExtractEagerly {
		scratch, err := p.workDir()
		if err != nil {
			return err
		}
		extracted, err := archive.Extract(req.Source, c.Archive, scratch)
		if err != nil {
			return dataError("extract "+req.Name, err, "")
		}
		req.derived = append(req.derived, extracted)
		input = extracted
	}

	base := frame.ReadOptions{
		Delimiter: p.Options.Delimiter,
		Encoding:  p.Options.Encoding,
		SkipRows:  p.Options.LineSkip - 1,
	}
	if err := p.checkLineSkip(ctx, input, base, req.Name); err != nil {
		return err
	}

	read := base
	switch d.Dates {
	case ExplicitDates:
		read.DateColumns = p.Options.TimestampColumns
		read.DateFormat = p.Options.TimestampFormat
	case GuessedDates:
		prescan := base
		prescan.NRows = guessRows
		table, err := p.Frames.Describe(ctx, input, prescan)
		if err != nil {
			return dataError("read "+req.Name, err, readRemedy)
		}
		// numeric columns are never dates
		read.DateColumns = table.NonNumeric()
	}

	if d.StrictSchema {
		sample := read
		sample.NRows = guessRows
		if p.Options.StrictSchema {
			sample.NRows = strictRows
		}
		table, err := p.Frames.Describe(ctx, input, sample)
		if err != nil {
			return dataError("read "+req.Name, err, dateRemedy(d))
		}
		plan.Schema = SchemaOf(table)
		if d.Dates == GuessedDates {
			log.Info("The following fields have been set to dates", zap.String("file", req.Name),
				zap.Strings("columns", table.DateColumns()))
		}
		log.Debug("Schema derived", zap.String("file", req.Name), zap.String("schema", plan.Schema.String()))
	}

	if d.Rewrite {
		name := strings.TrimSuffix(utils.SanitizeFileName(c.Name), ".gz")
		dir, err := p.workDir()
		if err != nil {
			return err
		}
		processed := filepath.Join(dir, processedPrefix+name)
		startTime := time.Now()
		if _, err := p.Frames.Rewrite(ctx, input, processed, read); err != nil {
			return dataError("rewrite "+req.Name, err, dateRemedy(d))
		}
		log.Info("File preprocessed", zap.String("file", req.Name), zap.String("output", processed),
			zap.Duration("time", time.Since(startTime)))
		req.redirect(processed, true)
		req.UploadName = name
		// the rewritten file has a single header line and comma separators
		plan.Delimiter = ","
		plan.SkipLeadingRows = 1
	}
	return nil
}

const readRemedy = "Check the delimiter, the encoding and the line skip."

func dateRemedy(d Decision) string {
	if d.Dates == ExplicitDates {
		return "Check the timestamp format string, see https://strftime.org/ for the directives."
	}
	return readRemedy
}

// checkLineSkip compares the field count of the header line at the operator's skip with the count 10 lines
// down: a different count means the skip does not land on the header line. Only the two lines are read, so
// ragged rows cannot fail the check. A file ending before the second line makes the check inconclusive.
func (p *Pipeline) checkLineSkip(ctx context.Context, input string, base frame.ReadOptions, name string) error {
	width, err := p.Frames.ColumnCount(ctx, input, base)
	if err != nil {
		return dataError("read "+name, err, readRemedy)
	}

	shifted := base
	shifted.SkipRows = skipCheckOffset
	other, err := p.Frames.ColumnCount(ctx, input, shifted)
	if errors.Is(err, io.EOF) {
		log.Debug("The line skip check is inconclusive, the file is too short", zap.String("file", name))
		return nil
	}
	if err != nil {
		return dataError("read "+name, err, readRemedy)
	}

	if width != other {
		return usageError("check line skip of "+name,
			fmt.Errorf("%w: %d columns with line skip %d, %d columns after %d lines", ErrSkipMismatch,
				width, p.Options.LineSkip, other, skipCheckOffset),
			"The number of columns changes if 10 rows are skipped. The line skip must also skip the header row.")
	}
	return nil
}

// workDir returns the folder of the extracted and derived files, creating it on first use.
func (p *Pipeline) workDir() (string, error) {
	if p.ScratchDir == "" {
		dir, err := os.MkdirTemp("", "bqupload-")
		if err != nil {
			return "", fmt.Errorf("failed to create a scratch folder: %w", err)
		}
		p.ScratchDir = dir
		return dir, nil
	}
	if err := os.MkdirAll(p.ScratchDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", p.ScratchDir, err)
	}
	return p.ScratchDir, nil
}

// stage transfers the planned file and lists the accessible buckets when the storage tool rejects it.
func (p *Pipeline) stage(ctx context.Context, plan UploadPlan) error {
	result, err := p.Storage.Stage(ctx, target.StageRequest{
		LocalPath: plan.LocalPath,
		Bucket:    p.Options.Bucket,
		Key:       plan.Key,
		Move:      plan.Move,
	})
	if err != nil {
		return externalError("stage "+plan.Key, err, "")
	}
	if !result.Success {
		log.Error("The storage tool reported an error", zap.String("key", plan.Key),
			zap.String("reason", result.Reason), zap.String("output", strings.TrimSpace(result.Raw)))
		if listing, err := p.Storage.ListBuckets(ctx, p.Options.Project); err == nil {
			log.Info("Normally this happens when the bucket does not exist or you have no access to it. " +
				"Buckets you have access to are:\n" + listing)
		} else {
			log.Warn("Failed to list the buckets", zap.Error(err))
		}
		return externalError("stage "+plan.Key, fmt.Errorf("%w: %s", ErrStagingFailed, result.Reason),
			"Check that the bucket exists and that you can write to it.")
	}
	log.Info("File staged", zap.String("file", filepath.Base(plan.LocalPath)),
		zap.String("object", utils.ObjectURL(p.Options.Bucket, plan.Key)), zap.Bool("move", plan.Move))
	return nil
}

// loadRequestOf rebuilds the load job of a recorded upload.
func loadRequestOf(record state.LastRunState) target.LoadRequest {
	s := record.Settings
	return target.LoadRequest{
		Dataset:         s.Dataset,
		Table:           s.Table,
		Bucket:          s.Bucket,
		Key:             record.UploadName,
		Format:          record.Format,
		Schema:          record.Schema,
		Delimiter:       s.Delimiter,
		SkipLeadingRows: s.LineSkip,
		MaxBadRecords:   s.MaxBadRecords,
	}
}

// load runs the load job of a recorded upload and shows the rejected line when the loader reports one.
func (p *Pipeline) load(ctx context.Context, record state.LastRunState) error {
	req := loadRequestOf(record)
	tableName := utils.FullTableName(req.Dataset, req.Table)

	startTime := time.Now()
	result, err := p.Warehouse.Load(ctx, req)
	if err != nil {
		return externalError("load "+req.Key, err, "")
	}
	if !result.Success {
		log.Error("FAILURE: the file was not loaded", zap.String("key", req.Key), zap.String("table", tableName),
			zap.String("reason", result.Reason), zap.String("output", strings.TrimSpace(result.Raw)))
		diagnose(record.File, result.Raw)
		return externalError("load "+req.Key, fmt.Errorf("%w: %s", ErrLoadFailed, result.Reason),
			"Fix the rejected records, or repeat only the load with --reload and a higher --max-bad-records.")
	}
	log.Info("SUCCESS: the file was loaded", zap.String("key", req.Key), zap.String("table", tableName),
		zap.Duration("time", time.Since(startTime)))
	return nil
}

// diagnose logs the line holding the byte offset reported by the loader. It is best effort: nothing is
// logged when the message has no offset or the local file is gone.
func diagnose(file string, raw string) {
	offset, ok := target.FailureOffset(raw)
	if !ok {
		return
	}
	line, err := lineAt(file, offset)
	if err != nil {
		log.Debug("The rejected line cannot be shown", zap.String("file", file), zap.Error(err))
		return
	}
	log.Info("The line which contains the rejected byte is", zap.Int64("offset", offset),
		zap.String("line", strings.TrimRight(line, "\r\n")))
}

func lineAt(file string, offset int64) (string, error) {
	if strings.HasSuffix(strings.ToLower(file), ".gz") {
		return "", fmt.Errorf("cannot seek in the compressed file %s", file)
	}
	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", err
	}
	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return line, nil
}

// cleanup removes the derived files of a loaded request. Failed requests keep them for inspection.
func (p *Pipeline) cleanup(req *UploadRequest) {
	for _, path := range req.derived {
		err := os.Remove(path)
		switch {
		case err == nil:
			log.Debug("Removed derived file", zap.String("file", path))
		case !os.IsNotExist(err):
			log.Warn("Failed to remove derived file", zap.String("file", path), zap.Error(err))
		}
	}
}

func copyFile(src string, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// sameContent reports whether two files hold the same bytes. The error of a missing second file
// satisfies os.IsNotExist.
func sameContent(a string, b string) (bool, error) {
	infoB, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	infoA, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	if infoA.Size() != infoB.Size() {
		return false, nil
	}

	fa, err := os.Open(a)
	if err != nil {
		return false, err
	}
	defer func() { _ = fa.Close() }()
	fb, err := os.Open(b)
	if err != nil {
		return false, err
	}
	defer func() { _ = fb.Close() }()

	bufA, bufB := make([]byte, 64*1024), make([]byte, 64*1024)
	for {
		na, errA := io.ReadFull(fa, bufA)
		nb, errB := io.ReadFull(fb, bufB)
		if !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		doneA := errA == io.EOF || errors.Is(errA, io.ErrUnexpectedEOF)
		doneB := errB == io.EOF || errors.Is(errB, io.ErrUnexpectedEOF)
		if doneA || doneB {
			return doneA && doneB, nil
		}
		if errA != nil {
			return false, errA
		}
		if errB != nil {
			return false, errB
		}
	}
}
